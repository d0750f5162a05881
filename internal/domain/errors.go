package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no joinable session matches a PIN or
	// no session matches an ID. A completed session's PIN reports the same
	// error as one that never existed.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a participant ID is unknown.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrTemplateNotFound indicates the quiz template could not be loaded.
	ErrTemplateNotFound = errors.New("quiz template not found")
	// ErrEmptyQuestionSet indicates the template has no questions to run.
	ErrEmptyQuestionSet = errors.New("quiz template has no questions")
	// ErrNicknameTaken is returned when a nickname is already on the roster.
	ErrNicknameTaken = errors.New("nickname already taken in session")
	// ErrDuplicateAnswer is returned when a question was already answered.
	ErrDuplicateAnswer = errors.New("question already answered")
	// ErrInvalidTransition is returned for lifecycle calls from the wrong state.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrSessionNotActive is returned when answers arrive outside active play.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrPINConflict is returned when an open session already holds a PIN.
	ErrPINConflict = errors.New("pin already in use")
	// ErrPINExhausted is returned when PIN allocation keeps colliding.
	ErrPINExhausted = errors.New("pin allocation attempts exhausted")
	// ErrSummaryExists guards against writing a results summary twice.
	ErrSummaryExists = errors.New("results summary already recorded")
	// ErrQuestionNotFound indicates a submitted question index is out of range.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option index is out of range.
	ErrOptionNotFound = errors.New("option not found")
)
