package agent

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoteclauding/rcboot/internal/config"
	"github.com/remoteclauding/rcboot/internal/detect"
	"github.com/remoteclauding/rcboot/internal/install"
	"github.com/remoteclauding/rcboot/internal/platform"
	"github.com/remoteclauding/rcboot/internal/progress"
	"github.com/remoteclauding/rcboot/internal/runner"
)

type fakeProc struct {
	mu    sync.Mutex
	calls []platform.Command
	pid   int
}

func (f *fakeProc) Output(_ context.Context, cmd platform.Command) (runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	switch cmd.Path {
	case "remote-clauding", "node":
		return runner.Result{}, errors.New("executable file not found in $PATH")
	}
	return runner.Result{Stdout: "ok"}, nil
}

func (f *fakeProc) Spawn(_ context.Context, cmd platform.Command) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	return f.pid, nil
}

func (f *fakeProc) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Path)
	}
	return out
}

func distServer(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, f := range []struct{ name, body string }{
		{"node-v22.14.0-linux-x64/bin/node", "#!/bin/sh\n"},
		{"node-v22.14.0-linux-x64/bin/npm", "#!/bin/sh\n"},
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: f.name, Mode: 0o755, Size: int64(len(f.body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	body := buf.Bytes()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/node-v22.14.0-linux-x64.tar.gz") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type signals struct {
	mu   sync.Mutex
	pids []int
}

func (s *signals) get() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pids...)
}

func newTestAgent(t *testing.T) (*Agent, *fakeProc, *signals) {
	t.Helper()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	resources := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(resources, install.PackageDirName), 0o755))

	s := config.Default()
	s.ConfigDir = t.TempDir()
	s.DistBaseURL = distServer(t).URL
	s.HealthURL = deadURL + "/health"
	s.RelayURL = deadURL
	s.HealthTimeout = config.Duration(time.Second)
	s.RelayTimeout = config.Duration(time.Second)
	s.ResourceDir = resources

	fp := &fakeProc{pid: 4242}
	a := New(Options{Settings: s, Platform: platform.For("linux"), Exec: fp, Spawner: fp})
	a.Provisioner.GOARCH = "amd64"
	sig := &signals{}
	a.Supervisor.Terminate = func(pid int) error {
		sig.mu.Lock()
		defer sig.mu.Unlock()
		sig.pids = append(sig.pids, pid)
		return nil
	}
	a.Supervisor.Alive = func(context.Context, int) bool { return false }
	t.Cleanup(func() { _ = a.Close() })
	return a, fp, sig
}

func TestBootstrapFreshMachine(t *testing.T) {
	a, fp, _ := newTestAgent(t)
	ctx := context.Background()

	assert.Equal(t, detect.StateInstaller, a.DetectInstallState(ctx))

	res, err := a.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, detect.StateApp, res.State)
	assert.True(t, res.Provisioned)
	assert.Equal(t, filepath.ToSlash(a.Layout.NodeDir())+"/bin/node", filepath.ToSlash(res.NodeBinary))
	assert.Empty(t, res.SetupError)

	nodeDir := a.Layout.NodeDir()
	assert.Contains(t, fp.paths(), nodeDir+"/bin/npm")
	assert.True(t, a.Store.NodeConfig().Portable)
	assert.True(t, a.Store.MarkerExists())

	before := len(fp.paths())
	assert.Equal(t, detect.StateApp, a.DetectInstallState(ctx))
	assert.Len(t, fp.paths(), before)
}

func TestBootstrapSkipsWhenInstalled(t *testing.T) {
	a, fp, _ := newTestAgent(t)
	require.NoError(t, a.MarkInstalled())

	res, err := a.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BootstrapResult{State: detect.StateApp}, res)
	assert.Empty(t, fp.paths())
}

func TestStartStopThroughFacade(t *testing.T) {
	a, fp, signalled := newTestAgent(t)
	ctx := context.Background()

	pid, err := a.StartAgent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
	assert.Equal(t, []string{"remote-clauding"}, fp.paths())

	rep := a.StopAgent()
	assert.True(t, rep.Signalled)
	assert.Equal(t, []int{4242}, signalled.get())
	assert.False(t, a.CheckHealth(ctx))
}

func TestOperationsRejectDuplicates(t *testing.T) {
	a, _, _ := newTestAgent(t)
	release := make(chan struct{})
	id, err := a.Go("slow", func(context.Context) (any, error) {
		<-release
		return "x", nil
	})
	require.NoError(t, err)

	again, err := a.Go("slow", func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, id, again)

	close(release)
	require.Eventually(t, func() bool {
		op, ok := a.Operation(id)
		return ok && op.Status == "done"
	}, 5*time.Second, 10*time.Millisecond)
	op, _ := a.Operation(id)
	assert.Equal(t, "x", op.Result)
	assert.False(t, op.Finished.IsZero())
}

func TestFinishedOperationsAreBounded(t *testing.T) {
	a, _, _ := newTestAgent(t)
	var ids []string
	for i := 0; i < keepFinished+5; i++ {
		id, err := a.Go("quick", func(context.Context) (any, error) { return nil, nil })
		require.NoError(t, err)
		ids = append(ids, id)
		require.Eventually(t, func() bool {
			op, ok := a.Operation(id)
			return !ok || op.Status != "running"
		}, 5*time.Second, time.Millisecond)
	}

	a.mu.Lock()
	n := len(a.ops)
	a.mu.Unlock()
	assert.Equal(t, keepFinished, n)

	_, ok := a.Operation(ids[0])
	assert.False(t, ok, "oldest finished operation dropped")
	last, ok := a.Operation(ids[len(ids)-1])
	require.True(t, ok)
	assert.Equal(t, "done", last.Status)
}

func TestHubReleaseAndClose(t *testing.T) {
	h := newHub()
	ch, release := h.subscribe()
	h.Report(progress.Event{Step: progress.StepSetup, Status: progress.StatusStarted})
	assert.Equal(t, progress.StatusStarted, (<-ch).Status)
	release()
	release()
	_, ok := <-ch
	assert.False(t, ok)

	ch2, _ := h.subscribe()
	h.close()
	_, ok = <-ch2
	assert.False(t, ok)

	ch3, _ := h.subscribe()
	_, ok = <-ch3
	assert.False(t, ok)
	h.Report(progress.Event{})
}

func TestLoopbackOrigin(t *testing.T) {
	for origin, want := range map[string]bool{
		"":                       true,
		"http://localhost:3000":  true,
		"http://127.0.0.1:9681":  true,
		"http://[::1]:80":        true,
		"tauri://localhost":      false,
		"https://evil.example":   false,
		"http://192.168.1.4:900": false,
	} {
		assert.Equal(t, want, isLoopbackOrigin(origin), origin)
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func post(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestRouter(t *testing.T) {
	a, _, signalled := newTestAgent(t)
	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])

	var st map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/install-state", &st))
	assert.Equal(t, "installer", st["state"])

	var started map[string]any
	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/v1/agent:start", &started))
	assert.EqualValues(t, 4242, started["pid"])
	assert.Equal(t, http.StatusMethodNotAllowed, getJSON(t, srv.URL+"/v1/agent:start", nil))

	var status map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/status", &status))
	assert.Equal(t, "stopped", status["state"])
	assert.EqualValues(t, 4242, status["pid"])

	var stopped map[string]any
	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/v1/agent:stop", &stopped))
	assert.Equal(t, true, stopped["signalled"])
	assert.Equal(t, []int{4242}, signalled.get())

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/operations/nope", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/nope", nil))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(b), "rcboot_agent_starts_total")
}

func TestProvisionOperationStreamsEvents(t *testing.T) {
	a, _, _ := newTestAgent(t)
	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		a.events.mu.Lock()
		defer a.events.mu.Unlock()
		return len(a.events.subs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	var accepted map[string]string
	require.Equal(t, http.StatusAccepted, post(t, srv.URL+"/v1/runtime:provision", &accepted))
	id := accepted["operation"]
	require.NotEmpty(t, id)

	var got []string
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var e progress.Event
		require.NoError(t, conn.ReadJSON(&e))
		assert.Equal(t, progress.StepDownloadNode, e.Step)
		got = append(got, e.Status)
		if e.Status == progress.StatusDone || e.Status == progress.StatusError {
			break
		}
	}
	assert.Equal(t, progress.StatusStarted, got[0])
	assert.Equal(t, progress.StatusDone, got[len(got)-1])
	assert.Contains(t, got, progress.StatusExtracting)

	require.Eventually(t, func() bool {
		var op Operation
		getJSON(t, srv.URL+"/v1/operations/"+id, &op)
		return op.Status == "done"
	}, 5*time.Second, 20*time.Millisecond)
}
