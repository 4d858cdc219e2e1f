package state

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remoteclauding/rcboot/internal/paths"
	"github.com/remoteclauding/rcboot/internal/platform"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(paths.NewLayout(platform.Host(), t.TempDir()))
}

func TestNodeConfigRoundTrip(t *testing.T) {
	s := newStore(t)
	want := NodeConfig{Portable: true, NodePath: "X"}
	require.NoError(t, s.SaveNodeConfig(want))
	assert.Equal(t, want, s.NodeConfig())

	raw, err := os.ReadFile(s.Layout.NodeConfig())
	require.NoError(t, err)
	assert.JSONEq(t, `{"portable":true,"node_path":"X"}`, string(raw))
}

func TestNodeConfigDefaults(t *testing.T) {
	s := newStore(t)
	assert.Equal(t, NodeConfig{}, s.NodeConfig(), "missing file")

	require.NoError(t, os.WriteFile(s.Layout.NodeConfig(), []byte("{garbage"), 0o644))
	assert.Equal(t, NodeConfig{}, s.NodeConfig(), "unparsable file")

	require.NoError(t, os.WriteFile(s.Layout.NodeConfig(), []byte(`{"portable":"yes"}`), 0o644))
	assert.Equal(t, NodeConfig{}, s.NodeConfig(), "schema-invalid file")
}

func TestAppConfig(t *testing.T) {
	s := newStore(t)
	assert.Nil(t, s.AppConfig().Email)

	email, token := "a@b.c", "tok"
	require.NoError(t, s.SaveAppConfig(AppConfig{AuthToken: &token, Email: &email}))
	got := s.AppConfig()
	require.NotNil(t, got.Email)
	assert.Equal(t, email, *got.Email)

	s.DiscardAppConfig()
	s.DiscardAppConfig()
	_, err := os.Stat(s.Layout.AppConfig())
	assert.True(t, os.IsNotExist(err))
}

func TestPID(t *testing.T) {
	s := newStore(t)
	_, err := s.PID()
	assert.ErrorIs(t, err, ErrNoPID)

	require.NoError(t, s.SavePID(4242))
	pid, err := s.PID()
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, os.WriteFile(s.Layout.PIDFile(), []byte(" 77\n"), 0o644))
	pid, err = s.PID()
	require.NoError(t, err)
	assert.Equal(t, 77, pid)

	require.NoError(t, os.WriteFile(s.Layout.PIDFile(), []byte("abc"), 0o644))
	_, err = s.PID()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoPID)

	require.NoError(t, os.WriteFile(s.Layout.PIDFile(), []byte("-3"), 0o644))
	_, err = s.PID()
	assert.Error(t, err)

	s.DiscardPID()
	_, err = s.PID()
	assert.ErrorIs(t, err, ErrNoPID)
}

func TestMarker(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.MarkerExists())
	require.NoError(t, s.WriteMarker())
	assert.True(t, s.MarkerExists())
}
