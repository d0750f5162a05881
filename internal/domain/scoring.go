package domain

// Scoring curve: an incorrect answer earns no credit; a correct answer earns a
// base half credit plus a speed bonus that decays linearly over the question's
// time budget. Elapsed times at or past the budget keep the base half credit,
// so a correct answer can never score below an incorrect one and a faster
// correct answer never scores below a slower one.

const correctnessFloor = 0.5

// AnswerCredit returns the credit in [0, 1] earned by one recorded answer.
func AnswerCredit(q Question, a Answer) float64 {
	if !a.Correct {
		return 0
	}
	if q.TimeLimitMs <= 0 || a.ElapsedMs >= q.TimeLimitMs {
		return correctnessFloor
	}
	remaining := float64(q.TimeLimitMs-a.ElapsedMs) / float64(q.TimeLimitMs)
	if a.ElapsedMs < 0 {
		remaining = 1
	}
	return correctnessFloor + (1-correctnessFloor)*remaining
}

// RunningScore expresses accumulated credit on a 0-100 scale relative to the
// maximum attainable for the questions answered so far.
func RunningScore(questions []Question, answers []Answer) float64 {
	if len(answers) == 0 {
		return 0
	}
	var credit float64
	for _, a := range answers {
		if a.QuestionIndex < 0 || a.QuestionIndex >= len(questions) {
			continue
		}
		credit += AnswerCredit(questions[a.QuestionIndex], a)
	}
	return 100 * credit / float64(len(answers))
}

// Grade checks a submission against the frozen question set of a session and
// returns the resulting answer record. The live template is never consulted.
func Grade(questions []Question, questionIndex, selectedOption int, elapsedMs int64) (Answer, error) {
	if questionIndex < 0 || questionIndex >= len(questions) {
		return Answer{}, ErrQuestionNotFound
	}
	q := questions[questionIndex]
	if selectedOption < 0 || selectedOption >= len(q.Options) {
		return Answer{}, ErrOptionNotFound
	}
	return Answer{
		QuestionIndex: questionIndex,
		Correct:       selectedOption == q.CorrectOption,
		ElapsedMs:     elapsedMs,
	}, nil
}

// Summarize aggregates a roster into the session's results summary. The
// completion rate counts submitted answers against the P x Q possible ones.
func Summarize(session Session, roster []Participant) ResultsSummary {
	summary := ResultsSummary{
		SessionID:        session.ID,
		ParticipantCount: len(roster),
	}
	if session.StartedAt != nil && session.EndedAt != nil {
		summary.DurationMs = session.EndedAt.Sub(*session.StartedAt).Milliseconds()
	}
	if len(roster) == 0 {
		return summary
	}

	var totalScore float64
	var totalAnswers int
	for _, p := range roster {
		totalScore += p.Score
		totalAnswers += len(p.Answers)
	}
	summary.AverageScore = totalScore / float64(len(roster))
	if possible := len(roster) * len(session.Questions); possible > 0 {
		summary.CompletionRate = float64(totalAnswers) / float64(possible)
	}
	return summary
}
