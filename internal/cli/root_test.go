package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	beacon "github.com/Tap30/beacon-go"
	"github.com/Tap30/beacon-go/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "beacon", cmd.Use)
	assert.True(t, cmd.SilenceUsage)

	for _, path := range [][]string{
		{"serve"},
		{"migrate"},
		{"track", "user"},
		{"track", "event"},
		{"track", "error"},
		{"track", "pulse"},
	} {
		found, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v", path)
		assert.Equal(t, path[len(path)-1], found.Name())
	}

	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))
}

func TestTrackFlags(t *testing.T) {
	cmd := NewRootCommand()
	track, _, err := cmd.Find([]string{"track"})
	require.NoError(t, err)

	assert.NotNil(t, track.PersistentFlags().Lookup("user"))
	assert.NotNil(t, track.PersistentFlags().Lookup("extra"))

	errCmd, _, err := cmd.Find([]string{"track", "error"})
	require.NoError(t, err)
	for _, name := range []string{"name", "message", "cause", "stack-file"} {
		assert.NotNil(t, errCmd.Flags().Lookup(name), name)
	}

	userCmd, _, err := cmd.Find([]string{"track", "user"})
	require.NoError(t, err)
	for _, name := range []string{"screen-width", "screen-height", "color-depth", "pixel-depth"} {
		assert.NotNil(t, userCmd.Flags().Lookup(name), name)
	}
}

// beaconRecorder records every beacon it answers.
type beaconRecorder struct {
	mu     sync.Mutex
	status int
	query  url.Values
	body   string
}

func (r *beaconRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.query = req.URL.Query()
	r.body = string(body)
	if r.status != 0 {
		w.WriteHeader(r.status)
		_, _ = w.Write([]byte(`missing required field "u"`))
		return
	}
	_, _ = w.Write([]byte("Processed"))
}

func (r *beaconRecorder) last() (url.Values, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.query, r.body
}

func setupEndpoint(t *testing.T, rec *beaconRecorder) {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	t.Setenv("BEACON_ENDPOINT", srv.URL+"/api/beacon")
	t.Setenv("BEACON_ALLOW_INSECURE", "true")
	t.Setenv("BEACON_ADDON_NAME", "MyAddOn")
}

func TestTrackEvent(t *testing.T) {
	rec := &beaconRecorder{}
	setupEndpoint(t, rec)

	out, err := execute(t, "track", "event", "create_rectangle", "--user", "u123", "--extra", "color=red")
	require.NoError(t, err)
	assert.Equal(t, "Processed\n", out)

	q, _ := rec.last()
	assert.Equal(t, "create_rectangle", q.Get("e"))
	assert.Equal(t, "MyAddOn", q.Get("n"))
	assert.Equal(t, "u123", q.Get("u"))
	assert.Equal(t, "red", q.Get("ex-color"))
}

func TestTrackEventReserved(t *testing.T) {
	setupEndpoint(t, &beaconRecorder{})

	_, err := execute(t, "track", "event", "_user", "--user", "u123")
	assert.ErrorIs(t, err, beacon.ErrInvalidArgument)
}

func TestTrackUser(t *testing.T) {
	rec := &beaconRecorder{}
	setupEndpoint(t, rec)

	_, err := execute(t, "track", "user", "--user", "u123", "--platform", "Web", "--locale", "en-US", "--premium",
		"--color-depth", "24", "--pixel-depth", "2")
	require.NoError(t, err)

	q, _ := rec.last()
	assert.Equal(t, "_user", q.Get("e"))
	assert.Equal(t, "Web", q.Get("pl"))
	assert.Equal(t, "en-US", q.Get("l"))
	assert.Equal(t, "true", q.Get("p"))
	assert.Equal(t, "24", q.Get("c"))
	assert.Equal(t, "2", q.Get("pd"))
}

func TestTrackError(t *testing.T) {
	rec := &beaconRecorder{}
	setupEndpoint(t, rec)

	stackFile := filepath.Join(t.TempDir(), "stack.txt")
	require.NoError(t, os.WriteFile(stackFile, []byte("at main.go:12"), 0o600))

	_, err := execute(t, "track", "error", "--user", "u123", "--name", "RangeError", "--message", "bad index", "--stack-file", stackFile)
	require.NoError(t, err)

	q, body := rec.last()
	assert.Equal(t, "_error", q.Get("e"))
	assert.Equal(t, "RangeError", q.Get("en"))
	assert.Equal(t, "bad index", q.Get("m"))
	assert.Equal(t, "at main.go:12", body)
}

func TestTrackErrorRequiresMessage(t *testing.T) {
	rec := &beaconRecorder{}
	setupEndpoint(t, rec)

	_, err := execute(t, "track", "error", "--user", "u123", "--name", "RangeError")
	require.ErrorContains(t, err, "message")

	q, _ := rec.last()
	assert.Nil(t, q, "nothing is sent without a message")
}

func TestTrackRejected(t *testing.T) {
	setupEndpoint(t, &beaconRecorder{status: http.StatusUnauthorized})

	_, err := execute(t, "track", "pulse", "--user", "u123")
	assert.ErrorIs(t, err, errNotAccepted)
}

func TestTrackRequiresUser(t *testing.T) {
	setupEndpoint(t, &beaconRecorder{})

	_, err := execute(t, "track", "pulse")
	assert.Error(t, err)
}

func TestParseClientEnv(t *testing.T) {
	t.Setenv("BEACON_ENDPOINT", "https://example.com/api/beacon")
	t.Setenv("BEACON_DEV_ENDPOINT", "")
	t.Setenv("BEACON_ENV", "")
	t.Setenv("BEACON_TIMEOUT", "3s")

	cfg, err := ParseClientEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/api/beacon", cfg.Endpoint)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestParseClientEnvMissingEndpoint(t *testing.T) {
	t.Setenv("BEACON_ENDPOINT", "")

	_, err := ParseClientEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestMigrateNonPostgres(t *testing.T) {
	t.Setenv("BEACON_STORAGE_CONNECTION", "memory:")

	out, err := execute(t, "migrate", "up")
	require.NoError(t, err)
	assert.Equal(t, "nothing to migrate for the memory backend\n", out)
}

func TestMigrateDirection(t *testing.T) {
	cmd := &cobra.Command{}
	err := runMigrate(cmd, "memory:", "sideways", func(string, ...any) {})
	assert.ErrorContains(t, err, "direction must be up or down")
}

func TestServeRequiresStorage(t *testing.T) {
	t.Setenv("BEACON_STORAGE_CONNECTION", "")

	_, err := execute(t, "serve")
	assert.ErrorContains(t, err, "BEACON_STORAGE_CONNECTION")
}

func TestRunServer(t *testing.T) {
	cfg := &config.Config{
		StorageConnection: "memory:",
		HTTPAddr:          "127.0.0.1:0",
		RoutePath:         "/api/beacon",
		SessionInactivity: "30m",
		LogLevel:          "info",
		MaxBodyBytes:      1024,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServer(ctx, cfg, logger, func(addr string) { addrCh <- addr })
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/api/beacon?e=create_rectangle&n=MyAddOn&u=u123")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Processed", string(body))

	resp, err = http.Get("http://" + addr + "/api/beacon?e=create_rectangle&n=MyAddOn")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	metricsBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(metricsBody), "beacon_beacons_total")
	assert.Contains(t, string(metricsBody), "go_goroutines")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
