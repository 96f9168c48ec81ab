package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/auth"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// Client to server events.
const (
	EventJoin  = "conversation:join"
	EventLeave = "conversation:leave"
	EventSend  = "message:send"
	EventAck   = "message:ack"

	// EventReply answers a client request; its ID matches the request's.
	EventReply = "ack"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 << 10
	sendBufferSize = 256
)

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type CallerResolver interface {
	ResolveCaller(ctx context.Context, userID string) (identity.Caller, error)
}

// SocketHandler upgrades authenticated requests to websockets and serves
// the chat events over them.
type SocketHandler struct {
	service  *Service
	hub      *Hub
	verifier TokenVerifier
	resolver CallerResolver
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

func NewSocketHandler(service *Service, hub *Hub, verifier TokenVerifier, resolver CallerResolver, allowedOrigins []string, logger *logging.Logger) *SocketHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SocketHandler{
		service:  service,
		hub:      hub,
		verifier: verifier,
		resolver: resolver,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Verify(auth.BearerToken(r))
	if err != nil {
		apperr.Write(w, apperr.Unauthorized("unauthorized"))
		return
	}
	caller, err := h.resolver.ResolveCaller(r.Context(), claims.Subject)
	if err != nil {
		h.logger.Error("chat socket: resolve caller failed", "error", err)
		apperr.Write(w, err)
		return
	}
	if !caller.IsDoctor() && !caller.IsPatient() {
		apperr.Write(w, apperr.Forbidden("forbidden"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("chat socket: upgrade failed", "error", err)
		return
	}

	client := NewClient(sendBufferSize)
	h.hub.Register(client)
	h.hub.Join(client, caller.Room())
	log := h.logger.With("user_id", caller.UserID, "role", caller.Role)
	log.Debug("chat socket: connected")

	done := make(chan struct{})
	go h.writePump(conn, client, done)
	defer func() {
		h.hub.Unregister(client)
		<-done
		log.Debug("chat socket: disconnected")
	}()

	h.flushQueued(r.Context(), caller, client)
	h.readPump(r.Context(), conn, caller, client)
}

func (h *SocketHandler) flushQueued(ctx context.Context, caller identity.Caller, client *Client) {
	entries, err := h.service.Undelivered(ctx, caller, MaxFetchLimit)
	if err != nil {
		h.logger.Warn("chat socket: fetch queued failed", "user_id", caller.UserID, "error", err)
		return
	}
	for _, e := range entries {
		h.hub.Emit(client, EventMessageQueued, "", e)
	}
}

func (h *SocketHandler) readPump(ctx context.Context, conn *websocket.Conn, caller identity.Caller, client *Client) {
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("chat socket: read failed", "error", err)
			}
			return
		}
		var in Envelope
		if err := json.Unmarshal(data, &in); err != nil {
			h.hub.Emit(client, EventReply, "", failure(apperr.Invalid("malformed frame")))
			continue
		}
		h.hub.Emit(client, EventReply, in.ID, h.dispatch(ctx, caller, client, in))
	}
}

type conversationRef struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (h *SocketHandler) dispatch(ctx context.Context, caller identity.Caller, client *Client, in Envelope) map[string]any {
	switch in.Event {
	case EventJoin:
		var ref conversationRef
		_ = json.Unmarshal(in.Data, &ref)
		conv, err := h.service.Join(ctx, caller, ref.ConversationID)
		if err != nil {
			return h.failure("join", err)
		}
		h.hub.Join(client, conv.Room())
		return map[string]any{"success": true}

	case EventLeave:
		var ref conversationRef
		_ = json.Unmarshal(in.Data, &ref)
		if ref.ConversationID == "" {
			return failure(apperr.Invalid("valid conversationId is required"))
		}
		h.hub.Leave(client, ConversationRoom(ref.ConversationID))
		return map[string]any{"success": true}

	case EventSend:
		var req SendRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return failure(apperr.Invalid("malformed message"))
		}
		msg, err := h.service.Send(ctx, caller, req, nil)
		if err != nil {
			return h.failure("send", err)
		}
		return map[string]any{"success": true, "message": msg, "clientMessageId": nullable(msg.ClientMessageID)}

	case EventAck:
		var ref conversationRef
		_ = json.Unmarshal(in.Data, &ref)
		if err := h.service.Ack(ctx, caller, ref.ConversationID, ref.MessageID); err != nil {
			return h.failure("ack", err)
		}
		return map[string]any{"success": true}
	}
	return failure(apperr.Invalid("unknown event %q", in.Event))
}

func (h *SocketHandler) failure(op string, err error) map[string]any {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Error("chat socket: "+op+" failed", "error", err)
	}
	return failure(err)
}

func failure(err error) map[string]any {
	kind := apperr.KindOf(err)
	message := "request failed"
	var ae *apperr.Error
	if kind != apperr.KindInternal && errors.As(err, &ae) {
		message = ae.Message
	}
	return map[string]any{"success": false, "kind": kind, "message": message}
}

func (h *SocketHandler) writePump(conn *websocket.Conn, client *Client, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()
	for {
		select {
		case frame, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				drain(conn, client)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				drain(conn, client)
				return
			}
		}
	}
}

// drain closes a broken connection, which ends the reader, and discards
// frames until the hub closes the send channel.
func drain(conn *websocket.Conn, client *Client) {
	_ = conn.Close()
	for range client.Send {
	}
}
