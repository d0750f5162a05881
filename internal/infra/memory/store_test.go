package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"skipper-live-service/internal/domain"
)

func TestOpenPINUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	sessions := store.Sessions()

	first := domain.Session{ID: "s1", PIN: "482913", State: domain.StateWaiting}
	if err := sessions.Insert(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := sessions.Insert(ctx, domain.Session{ID: "s2", PIN: "482913", State: domain.StateWaiting}); err != domain.ErrPINConflict {
		t.Fatalf("expected pin conflict, got %v", err)
	}

	// A completed session releases its PIN for reuse.
	first.State = domain.StateCompleted
	if err := sessions.Update(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := sessions.Insert(ctx, domain.Session{ID: "s3", PIN: "482913", State: domain.StateWaiting}); err != nil {
		t.Fatalf("expected pin reusable after completion, got %v", err)
	}
	if _, err := sessions.FindOpenByPIN(ctx, "000000"); err != domain.ErrSessionNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentJoinsSameNickname(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.Sessions().Insert(ctx, domain.Session{ID: "s1", PIN: "111111", State: domain.StateWaiting}); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	roster := store.Participants()

	const joiners = 16
	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- roster.Insert(ctx, domain.Participant{
				ID:        string(rune('a' + i)),
				SessionID: "s1",
				Nickname:  "Ana",
				JoinedAt:  time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	wins, losses := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrNicknameTaken):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != joiners-1 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%d", wins, losses)
	}

	// Nicknames are case-sensitive, so a different casing still joins.
	if err := roster.Insert(ctx, domain.Participant{ID: "zz", SessionID: "s1", Nickname: "ana"}); err != nil {
		t.Fatalf("expected case-sensitive uniqueness, got %v", err)
	}
}

func TestAddAnswerRejectsDuplicateIndex(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	roster := store.Participants()
	if err := roster.Insert(ctx, domain.Participant{ID: "p1", SessionID: "s1", Nickname: "Ana"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	questions := []domain.Question{
		{Options: []domain.Option{{}, {}}, CorrectOption: 0, TimeLimitMs: 10000},
	}
	updated, err := roster.AddAnswer(ctx, "p1", domain.Answer{QuestionIndex: 0, Correct: true, ElapsedMs: 0}, questions)
	if err != nil {
		t.Fatalf("add answer: %v", err)
	}
	if updated.Score != 100 {
		t.Fatalf("expected score 100, got %v", updated.Score)
	}

	if _, err := roster.AddAnswer(ctx, "p1", domain.Answer{QuestionIndex: 0, Correct: false}, questions); err != domain.ErrDuplicateAnswer {
		t.Fatalf("expected duplicate answer error, got %v", err)
	}
	if _, err := roster.AddAnswer(ctx, "ghost", domain.Answer{QuestionIndex: 0}, questions); err != domain.ErrParticipantNotFound {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestSummaryWrittenOnce(t *testing.T) {
	ctx := context.Background()
	results := NewStore().Results()

	summary := domain.ResultsSummary{SessionID: "s1", ParticipantCount: 1}
	if err := results.Insert(ctx, summary); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := results.Insert(ctx, summary); err != domain.ErrSummaryExists {
		t.Fatalf("expected summary exists, got %v", err)
	}
	got, err := results.Get(ctx, "s1")
	if err != nil || got.ParticipantCount != 1 {
		t.Fatalf("get summary: %+v, %v", got, err)
	}
}

func TestDeleteBySessionClosesRoster(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	roster := store.Participants()
	_ = roster.Insert(ctx, domain.Participant{ID: "p1", SessionID: "s1", Nickname: "Ana"})
	_ = roster.Insert(ctx, domain.Participant{ID: "p2", SessionID: "s1", Nickname: "Bo"})
	_ = roster.Insert(ctx, domain.Participant{ID: "p3", SessionID: "s2", Nickname: "Cy"})

	if err := roster.DeleteBySession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	left, _ := roster.ListBySession(ctx, "s1")
	if len(left) != 0 {
		t.Fatalf("expected empty roster, got %d", len(left))
	}
	other, _ := roster.ListBySession(ctx, "s2")
	if len(other) != 1 {
		t.Fatalf("expected other session untouched, got %d", len(other))
	}
}
