package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/ratelimiter"
	healthHandler "github.com/hilthontt/visper-relay/internal/presentation/handler/health"
	roomsHandler "github.com/hilthontt/visper-relay/internal/presentation/handler/rooms"
	socketHandler "github.com/hilthontt/visper-relay/internal/presentation/handler/socket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 5 * time.Second

type Application struct {
	config        configs.Config
	socketHandler *socketHandler.Handler
	healthHandler *healthHandler.Handler
	roomsHandler  *roomsHandler.Handler
	metrics       http.Handler
	logger        logging.Logger
	ratelimiter   ratelimiter.Limiter
}

func NewApplication(
	config configs.Config,
	socketHandler *socketHandler.Handler,
	healthHandler *healthHandler.Handler,
	roomsHandler *roomsHandler.Handler,
	metrics http.Handler,
	logger logging.Logger,
	limiter ratelimiter.Limiter,
) *Application {
	if limiter == nil {
		limiter = ratelimiter.Unlimited{}
	}
	return &Application{
		config:        config,
		socketHandler: socketHandler,
		healthHandler: healthHandler,
		roomsHandler:  roomsHandler,
		metrics:       metrics,
		logger:        logger,
		ratelimiter:   limiter,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(app.enableCors)

	r.Route("/api", func(r chi.Router) {
		// No timeout on the long-lived socket route.
		r.With(app.rateLimiterMiddleware).Get("/ws", app.socketHandler.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/health", app.healthHandler.GetHealth)
			r.Get("/healthz", app.healthHandler.GetHealth)
			r.Get("/ready", app.healthHandler.GetHealth)
			r.Get("/live", app.healthHandler.GetLive)
		})

		if app.roomsHandler != nil && app.config.HTTP.AdminToken != "" {
			r.Route("/rooms", func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				r.Use(app.requireAdmin)
				r.Get("/halted", app.roomsHandler.GetHalted)
				r.Post("/{roomID}/resume", app.roomsHandler.PostResume)
			})
		}
	})

	if app.metrics != nil {
		r.Handle("/metrics", app.metrics)
	}

	return otelhttp.NewHandler(r, "relay-http")
}

// Run serves mux until ctx is cancelled, then shuts the server down.
func (app *Application) Run(ctx context.Context, mux http.Handler) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", app.config.HTTP.Host, app.config.HTTP.Port),
		Handler:     mux,
		ReadTimeout: app.config.HTTP.ReadTimeout,
		IdleTimeout: time.Minute,
	}

	shutdown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		app.logger.Info(logging.General, logging.Shutdown, "shutting down http server", map[logging.ExtraKey]any{
			logging.HostIp: srv.Addr,
		})

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		logging.HostIp: srv.Addr,
	})

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdown; err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		logging.HostIp: srv.Addr,
	})
	return nil
}
