package workers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"gorelaybridge/workers/handlers"
)

// Router serves the bridge status API.
func Router(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Options("/*", CORSHeaders)

	r.Get("/health", api.HealthCheck)
	r.Get("/state", api.State)
	r.Get("/balance/{direction}", api.Balance)
	r.Get("/queue/{direction}", api.Queue)
	r.Get("/stats/{status}", api.GetTransactions)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type HTTPConfig struct {
	Listen string
	UseSSL bool
	// CertFile and KeyFile are used when UseSSL is set
	CertFile string
	KeyFile  string
}

// Worker_HTTP serves handler until ctx is done, then shuts the server down gracefully.
func Worker_HTTP(ctx context.Context, cfg HTTPConfig, handler http.Handler) error {
	logger.Infof("Starting HTTP service on %s", cfg.Listen)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.UseSSL {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if cfg.UseSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	logger.Info("HTTP service started")

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("error listening to %s: %w", cfg.Listen, err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP service shutdown error: %w", err)
	}
	logger.Info("HTTP service shutdown normal")
	return nil
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, X-Requested-With")
}
