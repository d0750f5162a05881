package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"skipper-live-service/internal/domain"
	"skipper-live-service/internal/pubsub"
)

// SessionRepository abstracts how live sessions are stored (in-memory, Postgres).
// Insert must reject a PIN already held by another open session with
// domain.ErrPINConflict.
type SessionRepository interface {
	Insert(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, id string) (domain.Session, error)
	FindOpenByPIN(ctx context.Context, pin string) (domain.Session, error)
	Update(ctx context.Context, session domain.Session) error
	Delete(ctx context.Context, id string) error
}

// ParticipantRepository stores the roster of each session. Insert must reject
// a duplicate (session, nickname) pair with domain.ErrNicknameTaken; AddAnswer
// must reject a duplicate question index with domain.ErrDuplicateAnswer and
// recompute the running score from the persisted answer log.
type ParticipantRepository interface {
	Insert(ctx context.Context, participant domain.Participant) error
	Get(ctx context.Context, id string) (domain.Participant, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Participant, error)
	AddAnswer(ctx context.Context, participantID string, answer domain.Answer, questions []domain.Question) (domain.Participant, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

// ResultsRepository stores one summary per completed session. Insert must
// reject a second summary for the same session with domain.ErrSummaryExists.
type ResultsRepository interface {
	Insert(ctx context.Context, summary domain.ResultsSummary) error
	Get(ctx context.Context, sessionID string) (domain.ResultsSummary, error)
}

// TemplateRepository loads quiz content (from cache/backing store).
type TemplateRepository interface {
	GetTemplate(ctx context.Context, quizID string) (domain.QuizTemplate, error)
}

const (
	pinLength     = 6
	pinAttempts   = 5
	pinUpperBound = 1000000 // 10^pinLength
)

// SessionService contains the live session use cases: lifecycle transitions,
// the join protocol, answer scoring, and change propagation.
type SessionService struct {
	sessions  SessionRepository
	roster    ParticipantRepository
	results   ResultsRepository
	templates TemplateRepository
	publisher pubsub.Publisher

	now   func() time.Time
	newID func() string
}

func NewSessionService(
	sessions SessionRepository,
	roster ParticipantRepository,
	results ResultsRepository,
	templates TemplateRepository,
	publisher pubsub.Publisher,
) *SessionService {
	return &SessionService{
		sessions:  sessions,
		roster:    roster,
		results:   results,
		templates: templates,
		publisher: publisher,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// Create allocates a PIN and persists a new session in the waiting state.
// Templates without questions are reported as not found: a session must
// always have at least one question to run.
func (s *SessionService) Create(ctx context.Context, hostID, quizID string) (domain.Session, error) {
	template, err := s.templates.GetTemplate(ctx, quizID)
	if err != nil {
		return domain.Session{}, err
	}
	if len(template.Questions) == 0 {
		return domain.Session{}, domain.ErrTemplateNotFound
	}

	// The PIN is not reserved by allocation; a concurrent creator racing to
	// the same draw loses at insert time and we redraw.
	for attempt := 0; attempt < pinAttempts; attempt++ {
		pin, err := s.drawPIN(ctx)
		if err != nil {
			continue
		}
		session := domain.Session{
			ID:        s.newID(),
			HostID:    hostID,
			QuizID:    quizID,
			PIN:       pin,
			State:     domain.StateWaiting,
			CreatedAt: s.now(),
		}
		if err := s.sessions.Insert(ctx, session); err != nil {
			if err == domain.ErrPINConflict {
				continue
			}
			return domain.Session{}, fmt.Errorf("insert session: %w", err)
		}
		s.publishSession(ctx, session)
		return session, nil
	}
	return domain.Session{}, domain.ErrPINExhausted
}

func (s *SessionService) drawPIN(ctx context.Context) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(pinUpperBound))
	if err != nil {
		return "", fmt.Errorf("draw pin: %w", err)
	}
	pin := fmt.Sprintf("%0*d", pinLength, n.Int64())
	if _, err := s.sessions.FindOpenByPIN(ctx, pin); err == nil {
		return "", domain.ErrPINConflict
	}
	return pin, nil
}

// Start freezes the template's current question set into the session and
// flips it to active. Later edits to the template no longer reach this run.
func (s *SessionService) Start(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.State != domain.StateWaiting {
		return domain.Session{}, domain.ErrInvalidTransition
	}

	template, err := s.templates.GetTemplate(ctx, session.QuizID)
	if err != nil {
		return domain.Session{}, err
	}
	if len(template.Questions) == 0 {
		return domain.Session{}, domain.ErrEmptyQuestionSet
	}

	started := s.now()
	session.State = domain.StateActive
	session.StartedAt = &started
	session.CurrentQuestion = 0
	session.Questions = snapshotQuestions(template.Questions)
	if err := s.sessions.Update(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("start session: %w", err)
	}
	s.publishSession(ctx, session)
	return session, nil
}

// AdvanceQuestion moves an active session to its next question.
func (s *SessionService) AdvanceQuestion(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.State != domain.StateActive {
		return domain.Session{}, domain.ErrInvalidTransition
	}
	if session.CurrentQuestion+1 >= len(session.Questions) {
		return domain.Session{}, domain.ErrQuestionNotFound
	}

	session.CurrentQuestion++
	if err := s.sessions.Update(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("advance question: %w", err)
	}
	s.publishSession(ctx, session)
	return session, nil
}

// Stop completes an active session and materializes its results summary.
// The summary is written before the state flip so its primary key guards
// against a second write: a re-run after a partial failure surfaces
// domain.ErrSummaryExists instead of duplicating the summary, and a stop on
// an already completed session fails the state check.
func (s *SessionService) Stop(ctx context.Context, sessionID string) (domain.ResultsSummary, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.ResultsSummary{}, err
	}
	if session.State != domain.StateActive {
		return domain.ResultsSummary{}, domain.ErrInvalidTransition
	}

	ended := s.now()
	session.State = domain.StateCompleted
	session.EndedAt = &ended

	roster, err := s.roster.ListBySession(ctx, sessionID)
	if err != nil {
		return domain.ResultsSummary{}, fmt.Errorf("load roster: %w", err)
	}
	summary := domain.Summarize(session, roster)
	summary.CreatedAt = ended
	if err := s.results.Insert(ctx, summary); err != nil {
		return domain.ResultsSummary{}, err
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		return domain.ResultsSummary{}, fmt.Errorf("complete session: %w", err)
	}
	s.publishSession(ctx, session)
	return summary, nil
}

// Delete removes a session in any state, forcibly completing an active one
// first so its summary is still recorded, then closes the whole roster.
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.State == domain.StateActive {
		if _, err := s.Stop(ctx, sessionID); err != nil && err != domain.ErrSummaryExists {
			return err
		}
		session, err = s.sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
	}

	if err := s.roster.DeleteBySession(ctx, sessionID); err != nil {
		return fmt.Errorf("close roster: %w", err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	session.State = domain.StateCompleted
	s.publishSession(ctx, session)
	return nil
}

// Join resolves a PIN to an open session and adds a participant to its
// roster. Whether the PIN belonged to a finished run or never existed is not
// distinguished to the caller. Concurrent joins with the same nickname are
// resolved by the roster's uniqueness constraint, not by this check order.
func (s *SessionService) Join(ctx context.Context, pin, nickname, studentID string) (domain.Participant, error) {
	session, err := s.sessions.FindOpenByPIN(ctx, pin)
	if err != nil {
		return domain.Participant{}, domain.ErrSessionNotFound
	}

	participant := domain.Participant{
		ID:        s.newID(),
		SessionID: session.ID,
		Nickname:  nickname,
		StudentID: studentID,
		JoinedAt:  s.now(),
	}
	if err := s.roster.Insert(ctx, participant); err != nil {
		return domain.Participant{}, err
	}
	s.publish(ctx, pubsub.NewEvent(pubsub.KindRoster, session.ID, participant))
	return participant, nil
}

// SubmitAnswer grades a submission against the session's frozen snapshot and
// appends it to the participant's answer log. Answers are not revisable.
func (s *SessionService) SubmitAnswer(ctx context.Context, participantID string, questionIndex, selectedOption int, elapsedMs int64) (domain.Participant, domain.Answer, error) {
	participant, err := s.roster.Get(ctx, participantID)
	if err != nil {
		return domain.Participant{}, domain.Answer{}, err
	}
	session, err := s.sessions.Get(ctx, participant.SessionID)
	if err != nil {
		return domain.Participant{}, domain.Answer{}, err
	}
	if session.State != domain.StateActive {
		return domain.Participant{}, domain.Answer{}, domain.ErrSessionNotActive
	}

	answer, err := domain.Grade(session.Questions, questionIndex, selectedOption, elapsedMs)
	if err != nil {
		return domain.Participant{}, domain.Answer{}, err
	}
	updated, err := s.roster.AddAnswer(ctx, participantID, answer, session.Questions)
	if err != nil {
		return domain.Participant{}, domain.Answer{}, err
	}
	s.publish(ctx, pubsub.NewEvent(pubsub.KindAnswer, session.ID, updated))
	return updated, answer, nil
}

// GetSession returns the current session record.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

// GetRoster returns the current roster of a session.
func (s *SessionService) GetRoster(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return s.roster.ListBySession(ctx, sessionID)
}

// GetResults returns the summary of a completed session.
func (s *SessionService) GetResults(ctx context.Context, sessionID string) (domain.ResultsSummary, error) {
	return s.results.Get(ctx, sessionID)
}

// SubscribeToSession streams lifecycle and question-index changes.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *SessionService) SubscribeToSession(ctx context.Context, sessionID string) (<-chan pubsub.Event, func(), error) {
	return s.publisher.Subscribe(ctx, pubsub.Filter{SessionID: sessionID, Kinds: []pubsub.Kind{pubsub.KindSession}})
}

// SubscribeToRoster streams join and answer activity for a session.
func (s *SessionService) SubscribeToRoster(ctx context.Context, sessionID string) (<-chan pubsub.Event, func(), error) {
	return s.publisher.Subscribe(ctx, pubsub.Filter{SessionID: sessionID, Kinds: []pubsub.Kind{pubsub.KindRoster, pubsub.KindAnswer}})
}

// Subscribe streams every change for a session.
func (s *SessionService) Subscribe(ctx context.Context, sessionID string) (<-chan pubsub.Event, func(), error) {
	return s.publisher.Subscribe(ctx, pubsub.Filter{SessionID: sessionID})
}

func (s *SessionService) publishSession(ctx context.Context, session domain.Session) {
	s.publish(ctx, pubsub.NewEvent(pubsub.KindSession, session.ID, session))
}

func (s *SessionService) publish(ctx context.Context, event pubsub.Event) {
	if s.publisher == nil {
		return
	}
	// Propagation is best effort; the stores remain the source of truth and
	// reconnecting subscribers re-fetch state.
	_ = s.publisher.Publish(ctx, event)
}

func snapshotQuestions(questions []domain.Question) []domain.Question {
	frozen := make([]domain.Question, len(questions))
	copy(frozen, questions)
	for i := range frozen {
		options := make([]domain.Option, len(questions[i].Options))
		copy(options, questions[i].Options)
		frozen[i].Options = options
	}
	return frozen
}
