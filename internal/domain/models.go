package domain

import "time"

// SessionState is the lifecycle state of a live session.
type SessionState string

const (
	StateWaiting   SessionState = "waiting"
	StateActive    SessionState = "active"
	StateCompleted SessionState = "completed"
)

// Joinable reports whether students may still enter the session with its PIN.
func (s SessionState) Joinable() bool {
	return s == StateWaiting || s == StateActive
}

// Option is one selectable answer of a question.
type Option struct {
	Text string `json:"text"`
}

// Question is a multiple-choice question with a per-question time budget.
type Question struct {
	Text          string   `json:"text"`
	Options       []Option `json:"options"`
	CorrectOption int      `json:"correctOption"`
	TimeLimitMs   int64    `json:"timeLimitMs"`
}

// QuizTemplate is authored quiz content. The engine only reads templates;
// a session freezes its own copy of Questions at start time.
type QuizTemplate struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Session is one live quiz run by a host. The PIN identifies the session only
// while it is joinable; once completed the PIN may be reissued to a later run.
type Session struct {
	ID              string       `json:"id"`
	HostID          string       `json:"hostId"`
	QuizID          string       `json:"quizId"`
	PIN             string       `json:"pin,omitempty"`
	State           SessionState `json:"state"`
	CreatedAt       time.Time    `json:"createdAt"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	EndedAt         *time.Time   `json:"endedAt,omitempty"`
	Questions       []Question   `json:"questions,omitempty"`
	CurrentQuestion int          `json:"currentQuestion"`
}

// Answer records one submission. Entries are append-only and never revised.
type Answer struct {
	QuestionIndex int   `json:"questionIndex"`
	Correct       bool  `json:"correct"`
	ElapsedMs     int64 `json:"elapsedMs"`
}

// Participant is a joined student within one session.
type Participant struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Nickname  string    `json:"nickname"`
	StudentID string    `json:"studentId,omitempty"`
	Score     float64   `json:"score"`
	JoinedAt  time.Time `json:"joinedAt"`
	Answers   []Answer  `json:"answers"`
}

// ResultsSummary is the aggregate computed exactly once when a session stops.
// It outlives the session as a historical artifact.
type ResultsSummary struct {
	SessionID        string    `json:"sessionId"`
	ParticipantCount int       `json:"participantCount"`
	AverageScore     float64   `json:"averageScore"`
	CompletionRate   float64   `json:"completionRate"`
	DurationMs       int64     `json:"durationMs"`
	CreatedAt        time.Time `json:"createdAt"`
}
