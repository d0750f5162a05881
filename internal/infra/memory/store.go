package memory

import (
	"context"
	"sync"

	"skipper-live-service/internal/domain"
)

// Store keeps sessions, rosters and summaries in process memory. All the
// uniqueness constraints the engine relies on (open PIN, nickname per
// session, answer per question) are enforced under one lock at insert time,
// so concurrent writers lose with a typed error instead of overwriting.
// The per-entity repositories exposed by Sessions, Participants and Results
// are views over the same locked state.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]domain.Session
	participants map[string]domain.Participant
	summaries    map[string]domain.ResultsSummary
}

func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]domain.Session),
		participants: make(map[string]domain.Participant),
		summaries:    make(map[string]domain.ResultsSummary),
	}
}

func (s *Store) Sessions() *SessionStore         { return &SessionStore{s} }
func (s *Store) Participants() *ParticipantStore { return &ParticipantStore{s} }
func (s *Store) Results() *ResultsStore          { return &ResultsStore{s} }

// SessionStore implements app.SessionRepository.
type SessionStore struct {
	store *Store
}

func (st *SessionStore) Insert(_ context.Context, session domain.Session) error {
	s := st.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.State.Joinable() && existing.PIN == session.PIN {
			return domain.ErrPINConflict
		}
	}
	s.sessions[session.ID] = session
	return nil
}

func (st *SessionStore) Get(_ context.Context, id string) (domain.Session, error) {
	s := st.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (st *SessionStore) FindOpenByPIN(_ context.Context, pin string) (domain.Session, error) {
	s := st.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.State.Joinable() && session.PIN == pin {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (st *SessionStore) Update(_ context.Context, session domain.Session) error {
	s := st.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[session.ID] = session
	return nil
}

func (st *SessionStore) Delete(_ context.Context, id string) error {
	s := st.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// ParticipantStore implements app.ParticipantRepository.
type ParticipantStore struct {
	store *Store
}

// Insert rejects a nickname already on the session's roster. The check and
// the write share the store lock, so of N concurrent joiners with the same
// nickname exactly one wins.
func (st *ParticipantStore) Insert(_ context.Context, participant domain.Participant) error {
	s := st.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.participants {
		if existing.SessionID == participant.SessionID && existing.Nickname == participant.Nickname {
			return domain.ErrNicknameTaken
		}
	}
	s.participants[participant.ID] = participant
	return nil
}

func (st *ParticipantStore) Get(_ context.Context, id string) (domain.Participant, error) {
	s := st.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	participant, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return copyParticipant(participant), nil
}

func (st *ParticipantStore) ListBySession(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s := st.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster := make([]domain.Participant, 0)
	for _, participant := range s.participants {
		if participant.SessionID == sessionID {
			roster = append(roster, copyParticipant(participant))
		}
	}
	return roster, nil
}

// AddAnswer appends an answer and recomputes the running score from the full
// log. A second answer for the same question index is rejected.
func (st *ParticipantStore) AddAnswer(_ context.Context, participantID string, answer domain.Answer, questions []domain.Question) (domain.Participant, error) {
	s := st.store
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, ok := s.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	for _, existing := range participant.Answers {
		if existing.QuestionIndex == answer.QuestionIndex {
			return domain.Participant{}, domain.ErrDuplicateAnswer
		}
	}
	answers := make([]domain.Answer, len(participant.Answers), len(participant.Answers)+1)
	copy(answers, participant.Answers)
	participant.Answers = append(answers, answer)
	participant.Score = domain.RunningScore(questions, participant.Answers)
	s.participants[participantID] = participant
	return copyParticipant(participant), nil
}

func (st *ParticipantStore) DeleteBySession(_ context.Context, sessionID string) error {
	s := st.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, participant := range s.participants {
		if participant.SessionID == sessionID {
			delete(s.participants, id)
		}
	}
	return nil
}

// ResultsStore implements app.ResultsRepository.
type ResultsStore struct {
	store *Store
}

// Insert enforces the one-summary-per-session guarantee.
func (st *ResultsStore) Insert(_ context.Context, summary domain.ResultsSummary) error {
	s := st.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.summaries[summary.SessionID]; ok {
		return domain.ErrSummaryExists
	}
	s.summaries[summary.SessionID] = summary
	return nil
}

func (st *ResultsStore) Get(_ context.Context, sessionID string) (domain.ResultsSummary, error) {
	s := st.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[sessionID]
	if !ok {
		return domain.ResultsSummary{}, domain.ErrSessionNotFound
	}
	return summary, nil
}

func copyParticipant(p domain.Participant) domain.Participant {
	answers := make([]domain.Answer, len(p.Answers))
	copy(answers, p.Answers)
	p.Answers = answers
	return p
}
