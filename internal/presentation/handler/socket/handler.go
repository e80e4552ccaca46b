package socket

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/visper-relay/internal/application/chat"
	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/eventbus"
	"github.com/hilthontt/visper-relay/internal/infrastructure/json"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/presence"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ws"
)

type Handler struct {
	router    *presence.Router
	chat      *chat.Service
	assistant *chat.AssistantResponder
	users     domain.UserRepository
	upgrader  websocket.Upgrader
	opts      ws.Options
	logger    logging.Logger
}

func NewHandler(
	router *presence.Router,
	service *chat.Service,
	responder *chat.AssistantResponder,
	users domain.UserRepository,
	opts ws.Options,
	allowedOrigins []string,
	logger logging.Logger,
) *Handler {
	return &Handler{
		router:    router,
		chat:      service,
		assistant: responder,
		users:     users,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		opts:   opts,
		logger: logger,
	}
}

// ServeWS authenticates the handshake before upgrading, then serves the
// connection until it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, sessionID := credentials(r)

	user, err := h.router.Authenticate(r.Context(), token, sessionID)
	if err != nil {
		h.logger.Warn(logging.Socket, logging.Handshake, "handshake rejected", map[logging.ExtraKey]any{
			logging.ClientIp:     r.RemoteAddr,
			logging.ErrorMessage: err.Error(),
		})
		switch {
		case errors.Is(err, eventbus.ErrRequestTimeout):
			json.WriteGatewayTimeoutError(w, "authentication service did not respond")
		case errors.Is(err, presence.ErrUnauthenticated):
			json.WriteUnauthorizedError(w, "invalid or expired session")
		default:
			json.WriteUnavailableError(w, "authentication unavailable")
		}
		return
	}

	if h.users != nil {
		if err := h.users.Save(r.Context(), user); err != nil {
			h.logger.Warn(logging.Socket, logging.Handshake, "failed to record user", map[logging.ExtraKey]any{
				logging.UserID:       user.ID,
				logging.ErrorMessage: err.Error(),
			})
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(logging.Socket, logging.Handshake, "upgrade failed", map[logging.ExtraKey]any{
			logging.UserID:       user.ID,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	client := ws.NewClient(conn, uuid.NewString(), h.opts, h.logger)
	h.router.Register(client, user)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer func() {
		if err := h.router.Unregister(context.WithoutCancel(ctx), client.ID()); err != nil {
			h.logger.Warn(logging.Socket, logging.Handshake, "disconnect cleanup incomplete", map[logging.ExtraKey]any{
				logging.SocketID:     client.ID(),
				logging.ErrorMessage: err.Error(),
			})
		}
	}()

	go client.WritePump()
	session := &session{handler: h, client: client, user: user}
	client.ReadPump(ctx, session.dispatch)
}

// credentials reads the token from the query or a bearer header and the
// session id from the query or x-session-id.
func credentials(r *http.Request) (token, sessionID string) {
	q := r.URL.Query()

	token = q.Get("token")
	if token == "" {
		token = r.Header.Get("x-auth-token")
	}
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}

	sessionID = q.Get("sessionId")
	if sessionID == "" {
		sessionID = r.Header.Get("x-session-id")
	}
	return token, sessionID
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
