package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"skipper-live-service/internal/domain"
)

// TemplateLoader fetches quiz templates from a backing store.
type TemplateLoader interface {
	LoadTemplate(ctx context.Context, quizID string) (domain.QuizTemplate, error)
}

// TemplateCache caches whole templates as JSON in Redis and falls back to the
// loader on a miss. Stored as: SET quiz:template:{quizID} {json} with TTL.
type TemplateCache struct {
	client *redis.Client
	loader TemplateLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewTemplateCache(client *redis.Client, loader TemplateLoader, ttl time.Duration) *TemplateCache {
	return &TemplateCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *TemplateCache) GetTemplate(ctx context.Context, quizID string) (domain.QuizTemplate, error) {
	key := c.key(quizID)

	if raw, err := c.client.Get(ctx, key).Result(); err == nil {
		var template domain.QuizTemplate
		if err := json.Unmarshal([]byte(raw), &template); err == nil {
			return template, nil
		}
		// Corrupt entry: fall through and rebuild from the loader.
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := c.client.Get(ctx, key).Result(); err == nil {
			var template domain.QuizTemplate
			if err := json.Unmarshal([]byte(raw), &template); err == nil {
				return template, nil
			}
		}

		template, err := c.loader.LoadTemplate(ctx, quizID)
		if err != nil {
			return domain.QuizTemplate{}, err
		}

		data, err := json.Marshal(template)
		if err != nil {
			return domain.QuizTemplate{}, fmt.Errorf("marshal template: %w", err)
		}
		// Cache fill is best effort.
		_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		return template, nil
	})
	if err != nil {
		return domain.QuizTemplate{}, err
	}
	return result.(domain.QuizTemplate), nil
}

// Invalidate drops a cached template so the next read sees fresh content.
func (c *TemplateCache) Invalidate(ctx context.Context, quizID string) error {
	return c.client.Del(ctx, c.key(quizID)).Err()
}

func (c *TemplateCache) key(quizID string) string {
	return "quiz:template:" + quizID
}

func (c *TemplateCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
