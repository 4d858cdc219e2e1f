package provision

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoteclauding/rcboot/internal/artifact"
	"github.com/remoteclauding/rcboot/internal/paths"
	"github.com/remoteclauding/rcboot/internal/platform"
	"github.com/remoteclauding/rcboot/internal/progress"
	"github.com/remoteclauding/rcboot/internal/runtime"
	"github.com/remoteclauding/rcboot/internal/state"
)

const archiveName = "node-v22.14.0-linux-x64.tar.gz"

func nodeTarball(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	files := []struct {
		name, body string
		mode       int64
		dir        bool
	}{
		{name: "node-v22.14.0-linux-x64/", dir: true, mode: 0o755},
		{name: "node-v22.14.0-linux-x64/bin/", dir: true, mode: 0o755},
		{name: "node-v22.14.0-linux-x64/bin/node", body: "#!/bin/sh\necho v22.14.0\n", mode: 0o755},
		{name: "node-v22.14.0-linux-x64/README.md", body: "node", mode: 0o644},
	}
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: f.mode, Typeflag: tar.TypeReg, Size: int64(len(f.body))}
		if f.dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !f.dir {
			_, err := tw.Write([]byte(f.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

type recorder struct{ events []progress.Event }

func (r *recorder) Report(e progress.Event) { r.events = append(r.events, e) }

func newProvisioner(t *testing.T, srv *httptest.Server) (*Provisioner, *recorder) {
	t.Helper()
	p := platform.For("linux")
	l := paths.NewLayout(p, t.TempDir())
	rec := &recorder{}
	return &Provisioner{
		Store:    state.New(l),
		Locator:  runtime.NewLocator(p, l, ""),
		Fetcher:  artifact.NewFetcher(0),
		Reporter: rec,
		BaseURL:  srv.URL,
		GOARCH:   "amd64",
	}, rec
}

func serve(body []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v22.14.0/"+archiveName {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
}

func TestProvisionInstallsRuntime(t *testing.T) {
	srv := serve(nodeTarball(t))
	defer srv.Close()
	pv, rec := newProvisioner(t, srv)
	l := pv.Store.Layout

	require.NoError(t, os.MkdirAll(l.NodeDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(l.NodeDir(), "stale.txt"), []byte("old"), 0o644))

	bin, err := pv.Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pv.Locator.NodeBinary(true), bin)

	_, err = os.Stat(filepath.Join(l.NodeDir(), "bin", "node"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(l.NodeDir(), "README.md"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(l.NodeDir(), "stale.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(l.ArchivePath(archiveName))
	assert.True(t, os.IsNotExist(err), "archive should be removed")
	_, err = os.Stat(l.NodeDir() + ".partial")
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, state.NodeConfig{Portable: true, NodePath: l.NodeDir()}, pv.Store.NodeConfig())

	require.GreaterOrEqual(t, len(rec.events), 4)
	first, last := rec.events[0], rec.events[len(rec.events)-1]
	assert.Equal(t, progress.Event{Step: progress.StepDownloadNode, Status: progress.StatusStarted, Message: "Downloading Node.js..."}, first)
	assert.Equal(t, progress.Event{Step: progress.StepDownloadNode, Status: progress.StatusDone, Message: "Node.js installed."}, last)
	assert.Equal(t, progress.StatusExtracting, rec.events[len(rec.events)-2].Status)
	prev := -1
	for _, e := range rec.events[1 : len(rec.events)-2] {
		assert.Equal(t, progress.StatusProgress, e.Status)
		require.NotNil(t, e.Percent)
		assert.Greater(t, *e.Percent, prev)
		prev = *e.Percent
	}
	assert.Equal(t, 100, prev)
}

func TestProvisionCorruptArchiveKeepsOldRuntime(t *testing.T) {
	srv := serve([]byte("definitely not gzip"))
	defer srv.Close()
	pv, rec := newProvisioner(t, srv)
	l := pv.Store.Layout

	oldNode := filepath.Join(l.NodeDir(), "bin", "node")
	require.NoError(t, os.MkdirAll(filepath.Dir(oldNode), 0o755))
	require.NoError(t, os.WriteFile(oldNode, []byte("old"), 0o755))

	_, err := pv.Provision(context.Background())
	require.Error(t, err)

	b, rerr := os.ReadFile(oldNode)
	require.NoError(t, rerr)
	assert.Equal(t, "old", string(b))
	_, serr := os.Stat(l.ArchivePath(archiveName))
	assert.True(t, os.IsNotExist(serr), "archive should be removed after a failed extraction")
	assert.Equal(t, state.NodeConfig{}, pv.Store.NodeConfig())

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, progress.StatusError, last.Status)
	assert.Equal(t, err.Error(), last.Message)
}

func TestProvisionRejectsArchiveWithoutNode(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "docs/", Typeflag: tar.TypeDir, Mode: 0o755}))
	body := "readme"
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "docs/README.md", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}))
	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	srv := serve(buf.Bytes())
	defer srv.Close()
	pv, rec := newProvisioner(t, srv)
	l := pv.Store.Layout

	oldNode := filepath.Join(l.NodeDir(), "bin", "node")
	require.NoError(t, os.MkdirAll(filepath.Dir(oldNode), 0o755))
	require.NoError(t, os.WriteFile(oldNode, []byte("old"), 0o755))

	_, err = pv.Provision(context.Background())
	require.ErrorIs(t, err, ErrNoNodeBinary)

	b, rerr := os.ReadFile(oldNode)
	require.NoError(t, rerr)
	assert.Equal(t, "old", string(b))
	assert.NoDirExists(t, l.NodeDir()+".partial")
	assert.Equal(t, state.NodeConfig{}, pv.Store.NodeConfig())
	assert.Equal(t, progress.StatusError, rec.events[len(rec.events)-1].Status)
}

func TestProvisionHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	pv, rec := newProvisioner(t, srv)

	_, err := pv.Provision(context.Background())
	var he *artifact.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.Status)
	assert.Equal(t, []string{progress.StatusStarted, progress.StatusError}, statuses(rec.events))
}

func TestProvisionRedownloadsEveryTime(t *testing.T) {
	var hits atomic.Int32
	body := nodeTarball(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(body)
	}))
	defer srv.Close()
	pv, _ := newProvisioner(t, srv)

	_, err := pv.Provision(context.Background())
	require.NoError(t, err)
	_, err = pv.Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDownloadProgressUnknownLength(t *testing.T) {
	rec := &recorder{}
	fn := downloadProgress(progress.For(rec, progress.StepDownloadNode))
	fn(512<<10, -1)
	fn(1<<20, -1)
	fn(1<<20+10, -1)
	fn(3<<20+1, -1)

	require.Len(t, rec.events, 2)
	for _, e := range rec.events {
		assert.Nil(t, e.Percent)
	}
	assert.Equal(t, "Downloading Node.js... 1 MB", rec.events[0].Message)
	assert.Equal(t, "Downloading Node.js... 3 MB", rec.events[1].Message)
}

func TestDownloadProgressPercentChangesOnly(t *testing.T) {
	rec := &recorder{}
	fn := downloadProgress(progress.For(rec, progress.StepDownloadNode))
	fn(1, 1000)
	fn(5, 1000)
	fn(10, 1000)
	fn(1000, 1000)
	require.Len(t, rec.events, 3)
	assert.Equal(t, 0, *rec.events[0].Percent)
	assert.Equal(t, 1, *rec.events[1].Percent)
	assert.Equal(t, "Downloading Node.js... 100%", rec.events[2].Message)
}

func statuses(es []progress.Event) []string {
	var out []string
	for _, e := range es {
		out = append(out, e.Status)
	}
	return out
}
