package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"skipper-live-service/internal/app"
	"skipper-live-service/internal/domain"
	"skipper-live-service/internal/infra/memory"
	"skipper-live-service/internal/pubsub"
)

func TestLiveSessionFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	service := env.service

	session, err := service.Create(ctx, "host-1", "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(session.PIN) != 6 {
		t.Fatalf("expected 6-digit pin, got %q", session.PIN)
	}
	for _, r := range session.PIN {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric pin, got %q", session.PIN)
		}
	}
	if session.State != domain.StateWaiting || len(session.Questions) != 0 {
		t.Fatalf("expected waiting session without snapshot, got %+v", session)
	}

	ana, err := service.Join(ctx, session.PIN, "Ana", "student-7")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if ana.Score != 0 || len(ana.Answers) != 0 {
		t.Fatalf("expected fresh participant, got %+v", ana)
	}
	if _, err := service.Join(ctx, session.PIN, "Ana", ""); !errors.Is(err, domain.ErrNicknameTaken) {
		t.Fatalf("expected nickname conflict, got %v", err)
	}

	started, err := service.Start(ctx, session.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.State != domain.StateActive || len(started.Questions) != 3 {
		t.Fatalf("expected active session with 3 frozen questions, got %+v", started)
	}
	if started.StartedAt == nil || started.CurrentQuestion != 0 {
		t.Fatalf("expected start timestamp and question 0, got %+v", started)
	}

	updated, answer, err := service.SubmitAnswer(ctx, ana.ID, 0, 1, 2000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !answer.Correct {
		t.Fatalf("expected correct answer, got %+v", answer)
	}
	if updated.Score <= 0 {
		t.Fatalf("expected running score to increase, got %v", updated.Score)
	}

	summary, err := service.Stop(ctx, session.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if summary.ParticipantCount != 1 {
		t.Fatalf("expected 1 participant, got %d", summary.ParticipantCount)
	}
	if diff := summary.CompletionRate - 1.0/3.0; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected completion rate 1/3, got %v", summary.CompletionRate)
	}

	if _, err := service.Stop(ctx, session.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on re-stop, got %v", err)
	}

	// The completed session's PIN is indistinguishable from one that never existed.
	if _, err := service.Join(ctx, session.PIN, "Late", ""); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found after completion, got %v", err)
	}
}

func TestJoinUnknownPIN(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.service.Join(context.Background(), "000000", "Ana", ""); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestStartTwice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.service.Create(ctx, "host-1", "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.service.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.service.Start(ctx, session.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestSnapshotImmuneToTemplateEdits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.service.Create(ctx, "host-1", "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.service.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Author rewrites the template mid-run.
	env.loader.SetTemplate(domain.QuizTemplate{
		ID: "quiz-1",
		Questions: []domain.Question{
			{Text: "replaced", Options: []domain.Option{{Text: "x"}}, CorrectOption: 0, TimeLimitMs: 1000},
		},
	})
	env.templates.Invalidate("quiz-1")

	current, err := env.service.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(current.Questions) != 3 || current.Questions[0].Text == "replaced" {
		t.Fatalf("snapshot changed after template edit: %+v", current.Questions)
	}

	// Grading still runs against the frozen snapshot.
	ana, err := env.service.Join(ctx, session.PIN, "Ana", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, answer, err := env.service.SubmitAnswer(ctx, ana.ID, 2, 1, 500); err != nil || answer.Correct {
		t.Fatalf("expected graded incorrect against snapshot, got %+v %v", answer, err)
	}
}

func TestSubmitAnswerGuards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.service.Create(ctx, "host-1", "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ana, err := env.service.Join(ctx, session.PIN, "Ana", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	// Answers are rejected before the session starts.
	if _, _, err := env.service.SubmitAnswer(ctx, ana.ID, 0, 0, 100); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected not active, got %v", err)
	}

	if _, err := env.service.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := env.service.SubmitAnswer(ctx, ana.ID, 0, 1, 100); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, _, err := env.service.SubmitAnswer(ctx, ana.ID, 0, 0, 200); !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected duplicate answer, got %v", err)
	}
	if _, _, err := env.service.SubmitAnswer(ctx, ana.ID, 9, 0, 200); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	if _, _, err := env.service.SubmitAnswer(ctx, "ghost", 0, 0, 200); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestAdvanceQuestion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.service.Create(ctx, "host-1", "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.service.AdvanceQuestion(ctx, session.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition before start, got %v", err)
	}

	if _, err := env.service.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	for want := 1; want <= 2; want++ {
		advanced, err := env.service.AdvanceQuestion(ctx, session.ID)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if advanced.CurrentQuestion != want {
			t.Fatalf("expected question %d, got %d", want, advanced.CurrentQuestion)
		}
	}
	if _, err := env.service.AdvanceQuestion(ctx, session.ID); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected no next question, got %v", err)
	}
}

func TestCreateRejectsUnusableTemplates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.service.Create(ctx, "host-1", "missing"); !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected template not found, got %v", err)
	}

	env.loader.SetTemplate(domain.QuizTemplate{ID: "empty"})
	if _, err := env.service.Create(ctx, "host-1", "empty"); !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected empty template treated as not found, got %v", err)
	}
}

func TestStartRejectsEmptiedTemplate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.service.Create(ctx, "host-1", "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Template loses its questions between create and start.
	env.loader.SetTemplate(domain.QuizTemplate{ID: "quiz-1"})
	env.templates.Invalidate("quiz-1")

	if _, err := env.service.Start(ctx, session.ID); !errors.Is(err, domain.ErrEmptyQuestionSet) {
		t.Fatalf("expected empty question set, got %v", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.service.Create(ctx, "host-1", "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.service.Join(ctx, session.PIN, "Ana", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.service.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := env.service.Delete(ctx, session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.service.GetSession(ctx, session.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	roster, err := env.service.GetRoster(ctx, session.ID)
	if err != nil || len(roster) != 0 {
		t.Fatalf("expected closed roster, got %v %v", roster, err)
	}

	// The forced stop still materialized a summary for historical reporting.
	summary, err := env.service.GetResults(ctx, session.ID)
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	if summary.ParticipantCount != 1 {
		t.Fatalf("expected summary over 1 participant, got %+v", summary)
	}
}

func TestSubscriptionsDeliverChanges(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.service.Create(ctx, "host-1", "quiz-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rosterCh, cancelRoster, err := env.service.SubscribeToRoster(ctx, session.ID)
	if err != nil {
		t.Fatalf("subscribe roster: %v", err)
	}
	defer cancelRoster()
	sessionCh, cancelSession, err := env.service.SubscribeToSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("subscribe session: %v", err)
	}
	defer cancelSession()

	if _, err := env.service.Join(ctx, session.PIN, "Ana", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	event := recvEvent(t, rosterCh)
	if event.Kind != pubsub.KindRoster || event.SessionID != session.ID {
		t.Fatalf("unexpected roster event: %+v", event)
	}

	// The waiting room watches for the flip to active.
	if _, err := env.service.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	event = recvEvent(t, sessionCh)
	if event.Kind != pubsub.KindSession {
		t.Fatalf("unexpected session event: %+v", event)
	}
}

func TestCreateExhaustsPINSpace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	service := app.NewSessionService(
		saturatedSessions{env.store.Sessions()},
		env.store.Participants(),
		env.store.Results(),
		env.templates,
		env.broker,
	)
	if _, err := service.Create(ctx, "host-1", "quiz-1"); !errors.Is(err, domain.ErrPINExhausted) {
		t.Fatalf("expected pin exhaustion, got %v", err)
	}
}

// saturatedSessions simulates a fully occupied PIN space.
type saturatedSessions struct {
	*memory.SessionStore
}

func (saturatedSessions) FindOpenByPIN(_ context.Context, pin string) (domain.Session, error) {
	return domain.Session{ID: "other", PIN: pin, State: domain.StateWaiting}, nil
}

type testEnv struct {
	service   *app.SessionService
	store     *memory.Store
	loader    *memory.StaticTemplateLoader
	templates *memory.TemplateCache
	broker    *pubsub.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	loader := memory.NewStaticTemplateLoader(map[string]domain.QuizTemplate{
		"quiz-1": threeQuestionTemplate(),
	})
	templates := memory.NewTemplateCache(loader, 5*time.Minute)
	broker := pubsub.NewBroker()
	service := app.NewSessionService(store.Sessions(), store.Participants(), store.Results(), templates, broker)
	return &testEnv{service: service, store: store, loader: loader, templates: templates, broker: broker}
}

func recvEvent(t *testing.T, ch <-chan pubsub.Event) pubsub.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return pubsub.Event{}
	}
}

func threeQuestionTemplate() domain.QuizTemplate {
	return domain.QuizTemplate{
		ID:    "quiz-1",
		Title: "Buoyage and right of way",
		Questions: []domain.Question{
			{
				Text:          "A green cone buoy marks which side of the channel?",
				Options:       []domain.Option{{Text: "Port"}, {Text: "Starboard"}},
				CorrectOption: 1,
				TimeLimitMs:   20000,
			},
			{
				Text:          "Two vessels approach head on. Who gives way?",
				Options:       []domain.Option{{Text: "Both alter to starboard"}, {Text: "The faster one"}},
				CorrectOption: 0,
				TimeLimitMs:   20000,
			},
			{
				Text:          "One short blast signals an alteration to which side?",
				Options:       []domain.Option{{Text: "Starboard"}, {Text: "Port"}, {Text: "None"}},
				CorrectOption: 0,
				TimeLimitMs:   15000,
			},
		},
	}
}
