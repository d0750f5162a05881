package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"skipper-live-service/internal/domain"
)

// TemplateLoader fetches quiz templates from a backing store.
type TemplateLoader interface {
	LoadTemplate(ctx context.Context, quizID string) (domain.QuizTemplate, error)
}

// TemplateCache caches templates with TTL to avoid repeated DB hits. Session
// snapshots are frozen at start time, so a slightly stale template here only
// affects which version gets frozen, never an in-progress run.
type TemplateCache struct {
	loader TemplateLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedTemplate
}

type cachedTemplate struct {
	template  domain.QuizTemplate
	expiresAt time.Time
}

func NewTemplateCache(loader TemplateLoader, ttl time.Duration) *TemplateCache {
	return &TemplateCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedTemplate),
	}
}

func (c *TemplateCache) GetTemplate(ctx context.Context, quizID string) (domain.QuizTemplate, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[quizID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.template, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[quizID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.template, nil
		}
		c.mu.RUnlock()

		template, err := c.loader.LoadTemplate(ctx, quizID)
		if err != nil {
			return domain.QuizTemplate{}, err
		}

		c.mu.Lock()
		c.cache[quizID] = cachedTemplate{
			template:  template,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return template, nil
	})
	if err != nil {
		return domain.QuizTemplate{}, err
	}
	return result.(domain.QuizTemplate), nil
}

// Invalidate drops a cached template so the next read sees fresh content.
func (c *TemplateCache) Invalidate(quizID string) {
	c.mu.Lock()
	delete(c.cache, quizID)
	c.mu.Unlock()
}

func (c *TemplateCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticTemplateLoader is a loader backed by an in-memory map (tests/demos).
type StaticTemplateLoader struct {
	mu        sync.RWMutex
	templates map[string]domain.QuizTemplate
}

func NewStaticTemplateLoader(templates map[string]domain.QuizTemplate) *StaticTemplateLoader {
	return &StaticTemplateLoader{templates: templates}
}

func (l *StaticTemplateLoader) LoadTemplate(_ context.Context, quizID string) (domain.QuizTemplate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if template, ok := l.templates[quizID]; ok {
		return template, nil
	}
	return domain.QuizTemplate{}, domain.ErrTemplateNotFound
}

// SetTemplate replaces a template, standing in for authoring-side edits.
func (l *StaticTemplateLoader) SetTemplate(template domain.QuizTemplate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[template.ID] = template
}
