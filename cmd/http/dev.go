package main

import (
	"context"
	"fmt"

	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-relay/internal/infrastructure/eventbus"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/messaging"
)

// serveDevAuth answers token and room checks in-process when no auth
// service shares the broker. Any non-empty token is accepted as the user id.
func serveDevAuth(ctx context.Context, broker messaging.Broker, cfg *configs.Config, logger logging.Logger) error {
	busCfg := eventbus.NewConfig(cfg, "dev")
	busCfg.Service = "dev-auth"
	auth := eventbus.New(broker, busCfg, logger, nil)
	if err := auth.Start(ctx); err != nil {
		return fmt.Errorf("start dev auth: %w", err)
	}

	if err := auth.Handle(ctx, contracts.RPCValidateToken, func(_ context.Context, d messaging.Delivery) (any, error) {
		var req contracts.ValidateTokenRequest
		if err := d.Decode(&req); err != nil {
			return nil, err
		}
		if req.Token == "" {
			return contracts.ValidateTokenReply{Success: false, Error: "missing token"}, nil
		}
		return contracts.ValidateTokenReply{
			Success: true,
			User:    &contracts.AuthUser{ID: req.Token, Name: req.Token},
		}, nil
	}); err != nil {
		return fmt.Errorf("serve %s: %w", contracts.RPCValidateToken, err)
	}

	if err := auth.Handle(ctx, contracts.RPCValidateRoomAccess, func(_ context.Context, d messaging.Delivery) (any, error) {
		var req contracts.ValidateAccessRequest
		if err := d.Decode(&req); err != nil {
			return nil, err
		}
		return contracts.ValidateAccessReply{Success: req.RoomID != ""}, nil
	}); err != nil {
		return fmt.Errorf("serve %s: %w", contracts.RPCValidateRoomAccess, err)
	}

	logger.Warn(logging.General, logging.Startup, "memory broker in use, accepting any token", nil)
	return nil
}
