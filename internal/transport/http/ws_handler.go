package http

import (
	"context"
	"encoding/json"
	"net/http"

	"offline-contest/internal/app"
	"offline-contest/internal/domain"
	"offline-contest/internal/logging"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session is the part of the contest controller driven over the socket.
type Session interface {
	Channel(size int) (<-chan app.Snapshot, func())
	StartContest(ctx context.Context) error
	RunCode(ctx context.Context, code string) ([]domain.ExecutionResult, error)
	MarkProblemDone(ctx context.Context, code string) (domain.ProblemResult, error)
	SetLanguage(ctx context.Context, lang domain.Language) error
	CheckConnectivity(ctx context.Context) domain.ConnectivityStatus
	SubmitFinalResults(ctx context.Context) error
}

type StatusFeed interface {
	Channel(size int) (<-chan domain.ConnectivityStatus, func())
}

type ProgressFeed interface {
	Channel(size int) (<-chan domain.PreparationProgress, func())
}

// WSHandler streams session, connectivity and preparation events to a UI
// client and accepts participant commands on the same socket.
type WSHandler struct {
	session  Session
	status   StatusFeed
	progress ProgressFeed
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(session Session, status StatusFeed, progress ProgressFeed, log *zap.Logger) *WSHandler {
	return &WSHandler{
		session:  session,
		status:   status,
		progress: progress,
		log:      logging.OrNop(log).Named("ws"),
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

type codePayload struct {
	Code string `json:"code"`
}

type languagePayload struct {
	Language domain.Language `json:"language"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type submitPayload struct {
	Success bool `json:"success"`
}

// ServeWS upgrades the request and pumps events until the client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	send := make(chan outboundMessage[any], 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}()

	var forwarders []chan struct{}
	snapshots, cancelSnapshots := h.session.Channel(8)
	defer cancelSnapshots()
	forwarders = append(forwarders, forward(snapshots, "session", send, closeSignals))
	if h.status != nil {
		statuses, cancel := h.status.Channel(4)
		defer cancel()
		forwarders = append(forwarders, forward(statuses, "connectivity", send, closeSignals))
	}
	if h.progress != nil {
		progress, cancel := h.progress.Channel(8)
		defer cancel()
		forwarders = append(forwarders, forward(progress, "preparation", send, closeSignals))
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		reply, ok := h.handle(ctx, inbound)
		if !ok {
			continue
		}
		select {
		case send <- reply:
		case <-writerDone:
		}
	}

	close(closeSignals)
	for _, done := range forwarders {
		<-done
	}
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(ctx context.Context, inbound inboundMessage) (outboundMessage[any], bool) {
	fail := func(err error) (outboundMessage[any], bool) {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}, true
	}
	switch inbound.Type {
	case "start":
		if err := h.session.StartContest(ctx); err != nil {
			return fail(err)
		}
		return outboundMessage[any]{}, false
	case "run":
		var payload codePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid run payload"}}, true
		}
		results, err := h.session.RunCode(ctx, payload.Code)
		if err != nil {
			return fail(err)
		}
		return outboundMessage[any]{Type: "runResult", Payload: results}, true
	case "done":
		var payload codePayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid done payload"}}, true
			}
		}
		result, err := h.session.MarkProblemDone(ctx, payload.Code)
		if err != nil {
			return fail(err)
		}
		return outboundMessage[any]{Type: "problemResult", Payload: result}, true
	case "lang":
		var payload languagePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid lang payload"}}, true
		}
		if err := h.session.SetLanguage(ctx, payload.Language); err != nil {
			return fail(err)
		}
		return outboundMessage[any]{}, false
	case "check":
		return outboundMessage[any]{Type: "connectivity", Payload: h.session.CheckConnectivity(ctx)}, true
	case "submit":
		if err := h.session.SubmitFinalResults(ctx); err != nil {
			return fail(err)
		}
		return outboundMessage[any]{Type: "submitResult", Payload: submitPayload{Success: true}}, true
	default:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}, true
	}
}

// forward relays values from updates into send under the given event type
// until updates closes or closeSignals fires.
func forward[T any](updates <-chan T, typ string, send chan<- outboundMessage[any], closeSignals <-chan struct{}) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: typ, Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()
	return done
}
