package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-session-engine/internal/app"
	"quiz-session-engine/internal/domain"
)

// WSHandler binds the engine's operations to a WebSocket connection. Hosts
// connect with quizId and drive advance/end; participants connect with a join
// code and drive answer/timeout/reset. Everyone receives snapshot pushes.
type WSHandler struct {
	engine   *app.Engine
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		engine: engine,
		log:    log,
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

type joinedPayload struct {
	Session  domain.Session      `json:"session"`
	You      string              `json:"you"`
	Question domain.QuestionView `json:"question"`
}

type startedPayload struct {
	Session domain.Session `json:"session"`
	Existed bool           `json:"existed"`
}

// ServeWS upgrades the request and wires the connection into the engine.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	quizID := r.URL.Query().Get("quizId")
	if code == "" && quizID == "" {
		http.Error(w, "missing code or quizId", http.StatusBadRequest)
		return
	}

	// Stable identity when the caller has one; anonymous otherwise.
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan any, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	var sessionID string
	if quizID != "" {
		sessionID = h.attachHost(r, send, userID, quizID)
	} else {
		sessionID = h.attachParticipant(r, send, userID, code)
	}
	if sessionID == "" {
		close(send)
		<-writerDone
		return
	}

	// The subscriber callback never touches send directly: it hands snapshots
	// to the forwarder below, which is done before send closes.
	updates := make(chan domain.SessionSnapshot, 8)
	unwatch, err := h.engine.WatchSession(sessionID, func(rec app.Record) {
		var snap domain.SessionSnapshot
		if err := json.Unmarshal(rec.Data, &snap); err != nil {
			return
		}
		select {
		case updates <- snap:
		case <-closeSignals:
		}
	})
	if err != nil {
		send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		close(send)
		<-writerDone
		return
	}

	updatesDone := make(chan struct{})
	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap := <-updates:
				select {
				case send <- outboundMessage[domain.SessionSnapshot]{Type: "snapshot", Payload: snap}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	h.readLoop(r, conn, send, sessionID, userID)

	close(closeSignals)
	unwatch()
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) attachHost(r *http.Request, send chan<- any, userID, quizID string) string {
	settings := domain.SessionSettings{
		TimeLimitSeconds:   queryInt(r, "timeLimit"),
		RandomizeQuestions: r.URL.Query().Get("randomize") == "1",
		SingleAttempt:      r.URL.Query().Get("singleAttempt") == "1",
	}
	session, err := h.engine.StartSession(r.Context(), userID, quizID, settings)
	existed := errors.Is(err, domain.ErrSessionAlreadyActive)
	if err != nil && !existed {
		send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		return ""
	}
	send <- outboundMessage[startedPayload]{Type: "started", Payload: startedPayload{Session: session, Existed: existed}}
	return session.ID
}

func (h *WSHandler) attachParticipant(r *http.Request, send chan<- any, userID, code string) string {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "anonymous"
	}
	session, view, err := h.engine.Join(r.Context(), code, userID, name)
	if err != nil {
		send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}}
		return ""
	}
	send <- outboundMessage[joinedPayload]{Type: "joined", Payload: joinedPayload{Session: session, You: userID, Question: view}}
	return session.ID
}

func (h *WSHandler) readLoop(r *http.Request, conn *websocket.Conn, send chan<- any, sessionID, userID string) {
	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "answer":
			var payload domain.AnswerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			answer, err := h.engine.SubmitAnswer(ctx, sessionID, userID, payload)
			if errors.Is(err, domain.ErrAlreadyAnswered) {
				// Usually a network retry, not a user mistake. Re-send the
				// authoritative state instead of an error dialog.
				h.sendSnapshot(ctx, send, sessionID)
				continue
			}
			if err != nil {
				h.sendError(send, err)
				continue
			}
			send <- outboundMessage[domain.Answer]{Type: "answerResult", Payload: answer}
		case "timeout":
			if err := h.engine.TimeExpireCurrentQuestion(ctx, sessionID, userID); err != nil {
				h.sendError(send, err)
			}
		case "advance":
			if _, err := h.engine.AdvanceQuestion(ctx, sessionID, userID); err != nil {
				h.sendError(send, err)
			}
		case "reset":
			view, err := h.engine.ResetAttempt(ctx, sessionID, userID)
			if err != nil {
				h.sendError(send, err)
				continue
			}
			send <- outboundMessage[domain.QuestionView]{Type: "question", Payload: view}
		case "question":
			view, err := h.engine.CurrentQuestion(ctx, sessionID, userID)
			if err != nil {
				h.sendError(send, err)
				continue
			}
			send <- outboundMessage[domain.QuestionView]{Type: "question", Payload: view}
		case "aroundMe":
			entries, err := h.engine.AroundMe(ctx, sessionID, userID)
			if err != nil {
				h.sendError(send, err)
				continue
			}
			send <- outboundMessage[[]domain.RankedEntry]{Type: "aroundMe", Payload: entries}
		case "end":
			if err := h.engine.EndSession(ctx, sessionID, userID); err != nil {
				h.sendError(send, err)
				continue
			}
			send <- outboundMessage[struct{}]{Type: "ended"}
		default:
			send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}
}

func (h *WSHandler) sendSnapshot(ctx context.Context, send chan<- any, sessionID string) {
	snap, err := h.engine.GetSnapshot(ctx, sessionID)
	if err != nil {
		return
	}
	send <- outboundMessage[domain.SessionSnapshot]{Type: "snapshot", Payload: snap}
}

func (h *WSHandler) sendError(send chan<- any, err error) {
	send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

func queryInt(r *http.Request, key string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
