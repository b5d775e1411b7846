package workers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gobridgeledger/config"
	"gobridgeledger/workers/handlers"
)

const shutdownTimeout = 5 * time.Second

// NewHTTPHandler wraps the API routes with the shared middleware and the metrics endpoint
func NewHTTPHandler(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Options("/*", CORSHeaders)
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", api.Routes())
	return r
}

// Worker_HTTP serves the API until ctx is done, then shuts the server down gracefully
func Worker_HTTP(ctx context.Context, cfg *config.Configuration, api *handlers.API, log *zap.SugaredLogger) error {
	log = log.Named("http")
	log.Infow("Starting HTTP service", "listen", cfg.Server.Listen, "ssl", cfg.Server.UseSSL)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           NewHTTPHandler(api),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.UseSSL {
		cert, err := tls.LoadX509KeyPair("certchain.pem", "privatekey.pem")
		if err != nil {
			return fmt.Errorf("loading certificate: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.UseSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("error listening to %s: %w", cfg.Server.Listen, err)
			return
		}
		errc <- nil
	}()
	log.Info("HTTP service started")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("HTTP service stopped")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("HTTP service shutdown error: %w", err)
	}
	log.Info("HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, X-Requested-With, X-Api-Key, X-Signature, X-Signature-Time")
}
