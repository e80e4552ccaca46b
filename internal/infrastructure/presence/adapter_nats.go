package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/nats-io/nats.go"
)

type NATSAdapter struct {
	conn    *nats.Conn
	subject string
	logger  logging.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// ConnectNATS dials the server. A negative MaxReconnects keeps the
// connection retrying for the life of the process.
func ConnectNATS(cfg configs.NATSConfig, logger logging.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				return
			}
			logger.Warn(logging.NATS, logging.Connection, "disconnected", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(logging.NATS, logging.Connection, "reconnected", map[logging.ExtraKey]any{
				logging.HostIp: c.ConnectedUrl(),
			})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return conn, nil
}

func NewNATSAdapter(conn *nats.Conn, subject string, logger logging.Logger) *NATSAdapter {
	return &NATSAdapter{conn: conn, subject: subject, logger: logger}
}

func (a *NATSAdapter) Publish(_ context.Context, p Packet) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	return a.conn.Publish(a.subject, body)
}

func (a *NATSAdapter) Subscribe(_ context.Context, fn func(Packet)) error {
	sub, err := a.conn.Subscribe(a.subject, func(m *nats.Msg) {
		var p Packet
		if err := json.Unmarshal(m.Data, &p); err != nil {
			a.logger.Warn(logging.NATS, logging.FanOut, "dropping undecodable packet", map[logging.ExtraKey]any{
				logging.Topic:        a.subject,
				logging.ErrorMessage: err.Error(),
			})
			return
		}
		fn(p)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", a.subject, err)
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()
	return nil
}

func (a *NATSAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub == nil {
		return nil
	}
	err := a.sub.Unsubscribe()
	a.sub = nil
	return err
}
