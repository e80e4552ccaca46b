package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/visper-relay/internal/domain"
	"github.com/hilthontt/visper-relay/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-relay/internal/infrastructure/eventbus"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ws"
)

type Requester interface {
	RequestInto(ctx context.Context, topic string, data, out any, opts ...eventbus.RequestOption) error
}

// Router tracks local sockets and routes emits cluster-wide: every emit is
// broadcast through the adapter and each instance, this one included,
// delivers to the sockets it holds.
type Router struct {
	instanceID string
	registry   *Registry
	adapter    Adapter
	requester  Requester
	logger     logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewRouter(instanceID string, adapter Adapter, requester Requester, logger logging.Logger, m *metrics.Metrics) *Router {
	return &Router{
		instanceID: instanceID,
		registry:   NewRegistry(),
		adapter:    adapter,
		requester:  requester,
		logger:     logger,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Router) Start(ctx context.Context) error {
	if err := r.adapter.Subscribe(ctx, r.deliver); err != nil {
		return fmt.Errorf("subscribe presence adapter: %w", err)
	}
	r.logger.Info(logging.Presence, logging.Startup, "presence router started", map[logging.ExtraKey]any{
		logging.AppName: r.instanceID,
	})
	return nil
}

func (r *Router) Close() error {
	return r.adapter.Close()
}

func (r *Router) Registry() *Registry {
	return r.registry
}

// Authenticate validates a handshake token with the auth service. A timeout
// is returned as is so callers can tell it from a rejection.
func (r *Router) Authenticate(ctx context.Context, token, sessionID string) (domain.User, error) {
	if token == "" {
		return domain.User{}, fmt.Errorf("%w: token is required", ErrUnauthenticated)
	}

	var reply contracts.ValidateTokenReply
	err := r.requester.RequestInto(ctx, contracts.RPCValidateToken, contracts.ValidateTokenRequest{
		Token:     token,
		SessionID: sessionID,
	}, &reply)
	if err != nil {
		if errors.Is(err, eventbus.ErrRequestTimeout) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("validate token: %w", err)
	}
	if !reply.Success || reply.User == nil {
		msg := reply.Error
		if msg == "" {
			msg = "invalid session"
		}
		return domain.User{}, fmt.Errorf("%w: %s", ErrUnauthenticated, msg)
	}

	return domain.User{ID: reply.User.ID, Name: reply.User.Name, Email: reply.User.Email}, nil
}

func (r *Router) Register(s Socket, user domain.User) {
	r.registry.Add(s, user)
	r.metrics.SocketConnected()
	r.logger.Info(logging.Presence, logging.Handshake, "socket registered", map[logging.ExtraKey]any{
		logging.SocketID: s.ID(),
		logging.UserID:   user.ID,
	})
}

// Unregister removes the socket and announces user_left in every room the
// user no longer occupies on this instance.
func (r *Router) Unregister(ctx context.Context, socketID string) error {
	user, rooms, ok := r.registry.Remove(socketID)
	if !ok {
		return ErrSocketNotFound
	}
	r.metrics.SocketDisconnected()

	var errs []error
	for _, roomID := range rooms {
		if err := r.EmitToRoom(ctx, roomID, ws.UserLeft, ws.MemberPayload{UserID: user.ID, Timestamp: r.now()}); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info(logging.Presence, logging.Handshake, "socket unregistered", map[logging.ExtraKey]any{
		logging.SocketID: socketID,
		logging.UserID:   user.ID,
		logging.Pending:  len(rooms),
	})
	return errors.Join(errs...)
}

func (r *Router) JoinRoom(ctx context.Context, socketID, roomID string) error {
	s, user, ok := r.registry.Get(socketID)
	if !ok {
		return ErrSocketNotFound
	}
	if roomID == "" {
		r.emitLocal(s, ws.JoinRoomError, ws.JoinRoomErrorPayload{Error: "room id is required"})
		return ErrInvalidRoom
	}

	var reply contracts.ValidateAccessReply
	if err := r.requester.RequestInto(ctx, contracts.RPCValidateRoomAccess, contracts.ValidateAccessRequest{
		RoomID: roomID,
		UserID: user.ID,
	}, &reply); err != nil {
		r.emitLocal(s, ws.JoinRoomError, ws.JoinRoomErrorPayload{Error: "failed to join room"})
		return fmt.Errorf("validate room access: %w", err)
	}
	if !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = "access denied"
		}
		r.emitLocal(s, ws.JoinRoomError, ws.JoinRoomErrorPayload{Error: msg})
		return fmt.Errorf("%w: %s", ErrRoomAccess, msg)
	}

	if _, err := r.registry.Join(socketID, roomID); err != nil {
		return err
	}

	now := r.now()
	r.emitLocal(s, ws.JoinRoomSuccess, ws.JoinRoomSuccessPayload{RoomID: roomID, UserID: user.ID, Timestamp: now})
	r.logger.Info(logging.Presence, logging.Membership, "joined room", map[logging.ExtraKey]any{
		logging.SocketID: socketID,
		logging.UserID:   user.ID,
		logging.RoomID:   roomID,
	})
	return r.EmitToRoom(ctx, roomID, ws.UserJoined, ws.MemberPayload{UserID: user.ID, Timestamp: now})
}

func (r *Router) LeaveRoom(ctx context.Context, socketID, roomID string) error {
	if roomID == "" {
		return ErrInvalidRoom
	}
	user, err := r.registry.Leave(socketID, roomID)
	if err != nil {
		return err
	}
	r.logger.Info(logging.Presence, logging.Membership, "left room", map[logging.ExtraKey]any{
		logging.SocketID: socketID,
		logging.UserID:   user.ID,
		logging.RoomID:   roomID,
	})
	return r.EmitToRoom(ctx, roomID, ws.UserLeft, ws.MemberPayload{UserID: user.ID, Timestamp: r.now()})
}

func (r *Router) EmitToRoom(ctx context.Context, roomID, event string, data any) error {
	return r.broadcast(ctx, Packet{Room: roomID, Event: event}, data)
}

// EmitToRoomExcept skips every socket of exceptUserID, on all instances.
func (r *Router) EmitToRoomExcept(ctx context.Context, roomID, exceptUserID, event string, data any) error {
	return r.broadcast(ctx, Packet{Room: roomID, ExceptUserID: exceptUserID, Event: event}, data)
}

func (r *Router) EmitToUser(ctx context.Context, userID, event string, data any) error {
	return r.broadcast(ctx, Packet{UserID: userID, Event: event}, data)
}

// EmitToSocket writes to one local socket without going through the adapter.
func (r *Router) EmitToSocket(socketID, event string, data any) error {
	s, _, ok := r.registry.Get(socketID)
	if !ok {
		return ErrSocketNotFound
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	return r.emit(s, event, raw)
}

func (r *Router) broadcast(ctx context.Context, p Packet, data any) error {
	if p.Room == "" && p.UserID == "" {
		return ErrInvalidRoom
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", p.Event, err)
	}
	p.Origin = r.instanceID
	p.Data = raw

	if err := r.adapter.Publish(ctx, p); err != nil {
		r.logger.Error(logging.Presence, logging.FanOut, "broadcast failed", map[logging.ExtraKey]any{
			logging.Event:        p.Event,
			logging.RoomID:       p.Room,
			logging.UserID:       p.UserID,
			logging.ErrorMessage: err.Error(),
		})
		return fmt.Errorf("broadcast %s: %w", p.Event, err)
	}
	r.metrics.PacketSent()
	return nil
}

func (r *Router) deliver(p Packet) {
	r.metrics.PacketReceived()

	var targets []Socket
	switch {
	case p.Room != "":
		targets = r.registry.RoomSockets(p.Room, p.ExceptUserID)
	case p.UserID != "":
		targets = r.registry.UserSockets(p.UserID)
	}
	for _, s := range targets {
		_ = r.emit(s, p.Event, p.Data)
	}
}

func (r *Router) emitLocal(s Socket, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = r.emit(s, event, raw)
}

func (r *Router) emit(s Socket, event string, raw json.RawMessage) error {
	if err := s.Emit(event, raw); err != nil {
		r.metrics.EmitDropped()
		r.logger.Warn(logging.Presence, logging.FanOut, "emit dropped", map[logging.ExtraKey]any{
			logging.SocketID:     s.ID(),
			logging.Event:        event,
			logging.ErrorMessage: err.Error(),
		})
		return err
	}
	return nil
}
