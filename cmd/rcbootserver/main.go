package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/logging"
)

// rcbootserver: static HTTP server that mirrors a Node.js dist tree for local
// testing of runtime downloads.
// Usage:
//
//	go run ./cmd/rcbootserver --root ./dist --addr :9000
//	RC_DIST_BASE_URL=http://127.0.0.1:9000 rcboot provision
//
// Files are served as laid out on disk, e.g.
//
//	http://127.0.0.1:9000/v22.14.0/node-v22.14.0-linux-x64.tar.gz
func main() {
	var (
		root     = flag.String("root", ".", "directory to serve")
		addr     = flag.String("addr", ":9000", "listen address (host:port)")
		logLevel = flag.String("log-level", "info", "log level")
	)
	flag.Parse()
	logging.Setup(*logLevel, false, os.Stderr)

	absRoot, err := filepath.Abs(*root)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve root")
	}
	st, err := os.Stat(absRoot)
	if err != nil {
		log.Fatal().Err(err).Str("root", absRoot).Msg("cannot access root")
	}
	if !st.IsDir() {
		log.Fatal().Str("root", absRoot).Msg("root is not a directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: *addr, Handler: newHandler(absRoot), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("root", absRoot).Str("addr", *addr).Msg("serving dist mirror")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
}

func newHandler(root string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","time_utc":"%s"}`, time.Now().UTC().Format(time.RFC3339))
	})
	mux.Handle("/", http.FileServer(http.Dir(root)))
	return logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).Dur("took", time.Since(start)).Msg("request")
	})
}
