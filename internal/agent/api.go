package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/version"
)

var upgrader = websocket.Upgrader{
	// only local pages and tools talk to the API
	CheckOrigin: func(r *http.Request) bool { return isLoopbackOrigin(r.Header.Get("Origin")) },
}

// Router returns the HTTP handler for the local API.
func (a *Agent) Router() http.Handler {
	mux := http.NewServeMux()

	// Liveness probe
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"version":  version.Version,
			"uptime":   time.Since(a.start).String(),
			"closed":   a.closed.Load(),
			"time_utc": time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, a.Status(r.Context()))
	})

	mux.HandleFunc("/v1/install-state", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": a.DetectInstallState(r.Context())})
	})

	mux.HandleFunc("/v1/node", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, a.CheckNode(r.Context()))
	})

	// Agent control:
	// - POST /v1/agent:start
	// - POST /v1/agent:stop
	mux.HandleFunc("/v1/agent:start", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		pid, err := a.StartAgent(r.Context())
		if err != nil && pid == 0 {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp := map[string]any{"pid": pid}
		if err != nil {
			resp["warning"] = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("/v1/agent:stop", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		writeJSON(w, http.StatusOK, a.StopAgent())
	})
	mux.HandleFunc("/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		writeJSON(w, http.StatusOK, a.Logout())
	})
	mux.HandleFunc("/v1/mark-installed", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if err := a.MarkInstalled(); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Long-running install steps run as operations; progress is streamed on
	// /v1/events and the outcome is read from /v1/operations/{id}.
	ops := map[string]func(context.Context) (any, error){
		"/v1/runtime:provision": func(ctx context.Context) (any, error) { return a.DownloadPortableNode(ctx) },
		"/v1/package:install":   func(ctx context.Context) (any, error) { return a.InstallPackage(ctx) },
		"/v1/setup":             func(ctx context.Context) (any, error) { return a.RunSetup(ctx) },
		"/v1/bootstrap":         func(ctx context.Context) (any, error) { return a.Bootstrap(ctx) },
	}
	for path, fn := range ops {
		kind := strings.TrimPrefix(path, "/v1/")
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if !allow(w, r, http.MethodPost) {
				return
			}
			id, err := a.Go(kind, fn)
			if errors.Is(err, ErrBusy) {
				writeJSON(w, http.StatusConflict, map[string]any{"operation": id, "error": err.Error()})
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{"operation": id})
		})
	}
	mux.HandleFunc("/v1/operations/", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/operations/"), "/")
		op, ok := a.Operation(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, op)
	})

	mux.HandleFunc("/v1/events", a.serveEvents)

	// Root handler with tiny landing
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("rcboot is running. See /healthz, /metrics and /v1/status\n"))
	})

	return mux
}

// serveEvents streams progress events as JSON text frames until the client
// goes away.
func (a *Agent) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("event stream upgrade failed")
		return
	}
	defer conn.Close()

	events, release := a.events.subscribe()
	defer release()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

// Serve runs the local API on addr until ctx is cancelled.
func (a *Agent) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (a *Agent) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: a.Router(), ReadHeaderTimeout: 10 * time.Second}
	if pid, err := a.Store.PID(); err == nil {
		a.sample(pid)
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("local API listening")
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func isLoopbackOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	origin = strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	host, _, err := net.SplitHostPort(origin)
	if err != nil {
		host = origin
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
