package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"boxoffice/internal/pkg/tracing"
)

// AppInfo describes one service binary to run.
type AppInfo struct {
	ServiceName    string
	Port           int
	JaegerEndpoint string
	// RegisterHandlers lets the service add routes next to the
	// built-in health and metrics endpoints.
	RegisterHandlers func(mux *http.ServeMux)
	// Background tasks run until the shutdown signal cancels their
	// context.
	Background []func(ctx context.Context)
	// Cleanup hooks run in reverse order during shutdown.
	Cleanup []func(ctx context.Context) error
}

// StartService runs the shared startup and graceful-shutdown sequence:
// tracer, operational HTTP endpoints, background loops, then teardown
// in reverse on SIGINT/SIGTERM.
func StartService(info AppInfo) {
	tp, err := tracing.InitTracerProvider(info.ServiceName, info.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(mux)
	}

	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		log.Info().Int("port", info.Port).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("http server failed")
		}
	}()

	bgCtx, cancelBg := context.WithCancel(context.Background())
	for _, task := range info.Background {
		task := task
		go task(bgCtx)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msgf("shutting down %s", info.ServiceName)

	cancelBg()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(info.Cleanup) - 1; i >= 0; i-- {
		if err := info.Cleanup[i](ctx); err != nil {
			log.Error().Err(err).Msg("cleanup step failed")
		}
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down tracer provider")
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down http server")
	}
	log.Info().Msgf("%s gracefully shut down", info.ServiceName)
}
