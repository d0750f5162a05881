package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"skipper-live-service/internal/app"
	"skipper-live-service/internal/domain"
	"skipper-live-service/internal/pubsub"
)

// WSHandler exposes the live session engine over websockets: one endpoint
// for the host console and one for participants joining with a PIN.
type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type answerPayload struct {
	QuestionIndex  int   `json:"questionIndex"`
	SelectedOption int   `json:"selectedOption"`
	ElapsedMs      int64 `json:"elapsedMs"`
}

type answerResult struct {
	QuestionIndex int     `json:"questionIndex"`
	Correct       bool    `json:"correct"`
	Score         float64 `json:"score"`
}

// playerQuestion is the participant-facing view of a question. The correct
// option index never crosses this boundary while a run is in progress.
type playerQuestion struct {
	Text        string   `json:"text"`
	Options     []string `json:"options"`
	TimeLimitMs int64    `json:"timeLimitMs"`
}

type playerSession struct {
	State           domain.SessionState `json:"state"`
	CurrentQuestion int                 `json:"currentQuestion"`
	TotalQuestions  int                 `json:"totalQuestions"`
	Question        *playerQuestion     `json:"question,omitempty"`
}

func playerViewOf(session domain.Session) playerSession {
	view := playerSession{
		State:           session.State,
		CurrentQuestion: session.CurrentQuestion,
		TotalQuestions:  len(session.Questions),
	}
	if session.State == domain.StateActive && session.CurrentQuestion < len(session.Questions) {
		q := session.Questions[session.CurrentQuestion]
		options := make([]string, len(q.Options))
		for i, opt := range q.Options {
			options[i] = opt.Text
		}
		view.Question = &playerQuestion{Text: q.Text, Options: options, TimeLimitMs: q.TimeLimitMs}
	}
	return view
}

type scoreUpdate struct {
	Nickname string  `json:"nickname"`
	Score    float64 `json:"score"`
	Answered int     `json:"answered"`
}

// ServeHost serves the host console socket: it streams every change of the
// session and accepts start/advance/stop commands.
func (h *WSHandler) ServeHost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	session, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel, err := h.service.Subscribe(r.Context(), sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	pump := startPump(conn, updates, func(event pubsub.Event) (string, any) {
		return string(event.Kind), event.Payload
	})
	defer pump.shutdown()
	send := pump.send

	// Full snapshot first; events only mark changes after this point.
	send <- outboundMessage[any]{Type: "session", Payload: session}
	if roster, err := h.service.GetRoster(r.Context(), sessionID); err == nil {
		send <- outboundMessage[any]{Type: "roster", Payload: roster}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "start":
			if session, err := h.service.Start(r.Context(), sessionID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			} else {
				send <- outboundMessage[any]{Type: "session", Payload: session}
			}
		case "advance":
			if session, err := h.service.AdvanceQuestion(r.Context(), sessionID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			} else {
				send <- outboundMessage[any]{Type: "session", Payload: session}
			}
		case "stop":
			if summary, err := h.service.Stop(r.Context(), sessionID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			} else {
				send <- outboundMessage[any]{Type: "results", Payload: summary}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}
}

// ServePlay serves a participant socket: it runs the join protocol, streams
// sanitized session state, and accepts answer submissions. The waiting-room
// flip to the in-game screen rides on the session events.
func (h *WSHandler) ServePlay(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	nickname := r.URL.Query().Get("nickname")
	studentID := r.URL.Query().Get("studentId")
	if pin == "" || nickname == "" {
		http.Error(w, "missing pin or nickname", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	participant, err := h.service.Join(r.Context(), pin, nickname, studentID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel, err := h.service.Subscribe(r.Context(), participant.SessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	pump := startPump(conn, updates, playerEventView)
	defer pump.shutdown()
	send := pump.send

	session, err := h.service.GetSession(r.Context(), participant.SessionID)
	if err != nil {
		send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		return
	}
	send <- outboundMessage[any]{Type: "joined", Payload: participant}
	send <- outboundMessage[any]{Type: "session", Payload: playerViewOf(session)}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			updated, answer, err := h.service.SubmitAnswer(r.Context(), participant.ID, payload.QuestionIndex, payload.SelectedOption, payload.ElapsedMs)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "answerResult", Payload: answerResult{
				QuestionIndex: answer.QuestionIndex,
				Correct:       answer.Correct,
				Score:         updated.Score,
			}}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}
}

// playerEventView sanitizes engine events for participant screens.
func playerEventView(event pubsub.Event) (string, any) {
	switch event.Kind {
	case pubsub.KindSession:
		var session domain.Session
		if err := json.Unmarshal(event.Payload, &session); err != nil {
			return "", nil
		}
		return "session", playerViewOf(session)
	case pubsub.KindRoster, pubsub.KindAnswer:
		var p domain.Participant
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return "", nil
		}
		return "scoreUpdate", scoreUpdate{Nickname: p.Nickname, Score: p.Score, Answered: len(p.Answers)}
	}
	return "", nil
}

// wsPump owns the single writer goroutine of a connection and the forwarder
// that turns subscription events into outbound messages. All writes to the
// connection go through pump.send.
type wsPump struct {
	send         chan outboundMessage[any]
	closeSignals chan struct{}
	writerDone   chan struct{}
	updatesDone  chan struct{}
}

func startPump(conn *websocket.Conn, updates <-chan pubsub.Event, view func(pubsub.Event) (string, any)) *wsPump {
	p := &wsPump{
		send:         make(chan outboundMessage[any], 16),
		closeSignals: make(chan struct{}),
		writerDone:   make(chan struct{}),
		updatesDone:  make(chan struct{}),
	}

	go func() {
		defer close(p.writerDone)
		for msg := range p.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(p.updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				msgType, payload := view(event)
				if msgType == "" {
					continue
				}
				select {
				case p.send <- outboundMessage[any]{Type: msgType, Payload: payload}:
				case <-p.closeSignals:
					return
				}
			case <-p.closeSignals:
				return
			}
		}
	}()

	return p
}

// shutdown stops the forwarder before closing the send channel so the writer
// drains without racing a late event.
func (p *wsPump) shutdown() {
	close(p.closeSignals)
	<-p.updatesDone
	close(p.send)
	<-p.writerDone
}
