package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"skipper-live-service/internal/domain"
)

// Store persists sessions, rosters and summaries in Postgres. The uniqueness
// guarantees the engine needs are carried by schema constraints (partial
// unique index on open PINs, unique nickname per session, answer primary
// key), so a losing concurrent writer gets a typed conflict from the insert
// itself.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Sessions() *SessionStore         { return &SessionStore{s.pool} }
func (s *Store) Participants() *ParticipantStore { return &ParticipantStore{s.pool} }
func (s *Store) Results() *ResultsStore          { return &ResultsStore{s.pool} }

// SessionStore implements app.SessionRepository.
type SessionStore struct {
	pool *pgxpool.Pool
}

func (st *SessionStore) Insert(ctx context.Context, session domain.Session) error {
	questions, err := marshalQuestions(session.Questions)
	if err != nil {
		return err
	}
	_, err = st.pool.Exec(ctx, `
		INSERT INTO live_sessions (id, host_id, quiz_id, pin, state, created_at, started_at, ended_at, questions, current_question)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		session.ID, session.HostID, session.QuizID, session.PIN, string(session.State),
		session.CreatedAt, session.StartedAt, session.EndedAt, questions, session.CurrentQuestion,
	)
	if isUniqueViolation(err, "live_sessions_open_pin_idx") {
		return domain.ErrPINConflict
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, host_id, quiz_id, pin, state, created_at, started_at, ended_at, questions, current_question`

func (st *SessionStore) Get(ctx context.Context, id string) (domain.Session, error) {
	row := st.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id=$1`, id)
	return scanSession(row)
}

func (st *SessionStore) FindOpenByPIN(ctx context.Context, pin string) (domain.Session, error) {
	row := st.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM live_sessions WHERE pin=$1 AND state IN ('waiting', 'active')`, pin)
	return scanSession(row)
}

func (st *SessionStore) Update(ctx context.Context, session domain.Session) error {
	questions, err := marshalQuestions(session.Questions)
	if err != nil {
		return err
	}
	tag, err := st.pool.Exec(ctx, `
		UPDATE live_sessions
		SET state=$2, started_at=$3, ended_at=$4, questions=$5, current_question=$6
		WHERE id=$1`,
		session.ID, string(session.State), session.StartedAt, session.EndedAt, questions, session.CurrentQuestion,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (st *SessionStore) Delete(ctx context.Context, id string) error {
	tag, err := st.pool.Exec(ctx, `DELETE FROM live_sessions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var session domain.Session
	var state string
	var questions []byte
	err := row.Scan(
		&session.ID, &session.HostID, &session.QuizID, &session.PIN, &state,
		&session.CreatedAt, &session.StartedAt, &session.EndedAt, &questions, &session.CurrentQuestion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.State = domain.SessionState(state)
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &session.Questions); err != nil {
			return domain.Session{}, fmt.Errorf("unmarshal questions: %w", err)
		}
	}
	return session, nil
}

func marshalQuestions(questions []domain.Question) ([]byte, error) {
	if questions == nil {
		return nil, nil
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return nil, fmt.Errorf("marshal questions: %w", err)
	}
	return data, nil
}

// ParticipantStore implements app.ParticipantRepository.
type ParticipantStore struct {
	pool *pgxpool.Pool
}

func (st *ParticipantStore) Insert(ctx context.Context, participant domain.Participant) error {
	_, err := st.pool.Exec(ctx, `
		INSERT INTO participants (id, session_id, nickname, student_id, score, joined_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		participant.ID, participant.SessionID, participant.Nickname, participant.StudentID,
		participant.Score, participant.JoinedAt,
	)
	if isUniqueViolation(err, "participants_session_nickname_key") {
		return domain.ErrNicknameTaken
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

const participantColumns = `id, session_id, nickname, COALESCE(student_id, ''), score, joined_at`

func (st *ParticipantStore) Get(ctx context.Context, id string) (domain.Participant, error) {
	row := st.pool.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE id=$1`, id)
	participant, err := scanParticipant(row)
	if err != nil {
		return domain.Participant{}, err
	}
	participant.Answers, err = st.loadAnswers(ctx, id)
	if err != nil {
		return domain.Participant{}, err
	}
	return participant, nil
}

func (st *ParticipantStore) ListBySession(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := st.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id=$1 ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()

	roster := make([]domain.Participant, 0)
	index := make(map[string]int)
	for rows.Next() {
		participant, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participant.Answers = []domain.Answer{}
		index[participant.ID] = len(roster)
		roster = append(roster, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	if len(roster) == 0 {
		return roster, nil
	}

	answerRows, err := st.pool.Query(ctx, `
		SELECT a.participant_id, a.question_index, a.correct, a.elapsed_ms
		FROM answers a
		JOIN participants p ON p.id = a.participant_id
		WHERE p.session_id = $1
		ORDER BY a.created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer answerRows.Close()

	for answerRows.Next() {
		var participantID string
		var answer domain.Answer
		if err := answerRows.Scan(&participantID, &answer.QuestionIndex, &answer.Correct, &answer.ElapsedMs); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if i, ok := index[participantID]; ok {
			roster[i].Answers = append(roster[i].Answers, answer)
		}
	}
	if err := answerRows.Err(); err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return roster, nil
}

// AddAnswer appends an answer inside a transaction and recomputes the running
// score from the persisted log. The answers primary key makes a second
// submission for the same question index lose at insert time.
func (st *ParticipantStore) AddAnswer(ctx context.Context, participantID string, answer domain.Answer, questions []domain.Question) (domain.Participant, error) {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO answers (participant_id, question_index, correct, elapsed_ms)
		VALUES ($1, $2, $3, $4)`,
		participantID, answer.QuestionIndex, answer.Correct, answer.ElapsedMs,
	)
	if isUniqueViolation(err, "answers_pkey") {
		return domain.Participant{}, domain.ErrDuplicateAnswer
	}
	if isForeignKeyViolation(err) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("insert answer: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT question_index, correct, elapsed_ms
		FROM answers WHERE participant_id=$1 ORDER BY created_at`, participantID)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("load answers: %w", err)
	}
	answers := make([]domain.Answer, 0)
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.QuestionIndex, &a.Correct, &a.ElapsedMs); err != nil {
			rows.Close()
			return domain.Participant{}, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Participant{}, fmt.Errorf("load answers: %w", err)
	}

	score := domain.RunningScore(questions, answers)
	row := tx.QueryRow(ctx, `
		UPDATE participants SET score=$2 WHERE id=$1
		RETURNING `+participantColumns, participantID, score)
	participant, err := scanParticipant(row)
	if err != nil {
		return domain.Participant{}, err
	}
	participant.Answers = answers

	if err := tx.Commit(ctx); err != nil {
		return domain.Participant{}, fmt.Errorf("commit: %w", err)
	}
	return participant, nil
}

func (st *ParticipantStore) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := st.pool.Exec(ctx, `DELETE FROM participants WHERE session_id=$1`, sessionID); err != nil {
		return fmt.Errorf("close roster: %w", err)
	}
	return nil
}

func (st *ParticipantStore) loadAnswers(ctx context.Context, participantID string) ([]domain.Answer, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT question_index, correct, elapsed_ms
		FROM answers WHERE participant_id=$1 ORDER BY created_at`, participantID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	answers := make([]domain.Answer, 0)
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.QuestionIndex, &a.Correct, &a.ElapsedMs); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	return answers, nil
}

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var participant domain.Participant
	err := row.Scan(
		&participant.ID, &participant.SessionID, &participant.Nickname,
		&participant.StudentID, &participant.Score, &participant.JoinedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("scan participant: %w", err)
	}
	return participant, nil
}

// ResultsStore implements app.ResultsRepository.
type ResultsStore struct {
	pool *pgxpool.Pool
}

func (st *ResultsStore) Insert(ctx context.Context, summary domain.ResultsSummary) error {
	_, err := st.pool.Exec(ctx, `
		INSERT INTO results_summaries (session_id, participant_count, average_score, completion_rate, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		summary.SessionID, summary.ParticipantCount, summary.AverageScore,
		summary.CompletionRate, summary.DurationMs, summary.CreatedAt,
	)
	if isUniqueViolation(err, "results_summaries_pkey") {
		return domain.ErrSummaryExists
	}
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func (st *ResultsStore) Get(ctx context.Context, sessionID string) (domain.ResultsSummary, error) {
	var summary domain.ResultsSummary
	err := st.pool.QueryRow(ctx, `
		SELECT session_id, participant_count, average_score, completion_rate, duration_ms, created_at
		FROM results_summaries WHERE session_id=$1`, sessionID).Scan(
		&summary.SessionID, &summary.ParticipantCount, &summary.AverageScore,
		&summary.CompletionRate, &summary.DurationMs, &summary.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ResultsSummary{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.ResultsSummary{}, fmt.Errorf("get summary: %w", err)
	}
	return summary, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
