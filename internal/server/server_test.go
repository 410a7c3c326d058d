package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gobox/gobox/internal/boxapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, requireAuth bool) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(&Config{
		Http:        HttpConfig{Addr: "127.0.0.1:0"},
		InMemory:    true,
		RequireAuth: requireAuth,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Services().Close()
	})
	return srv, ts
}

func do(t *testing.T, method, url string, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestServer_FilesLifecycle(t *testing.T) {
	_, ts := newTestServer(t, false)
	file := ts.URL + boxapi.FilePath("docs/a.txt")

	resp, body := do(t, http.MethodGet, ts.URL+boxapi.PathTimestamp, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), decode[boxapi.TimestampResponse](t, body).Timestamp)

	resp, body = do(t, http.MethodPost, file, "hello")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, int64(1), decode[boxapi.TimestampResponse](t, body).Timestamp)

	resp, body = do(t, http.MethodPost, file, "again")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, boxapi.CodeFileExists, decode[boxapi.APIError](t, body).Code)

	resp, body = do(t, http.MethodPut, ts.URL+boxapi.FilePath("missing.txt"), "x")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, boxapi.CodeFileNotFound, decode[boxapi.APIError](t, body).Code)

	resp, body = do(t, http.MethodPut, file, "hello world")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), decode[boxapi.TimestampResponse](t, body).Timestamp)

	resp, body = do(t, http.MethodGet, file, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello world", string(body))
	assert.Equal(t, "2", resp.Header.Get(boxapi.HeaderTimestamp))
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", resp.Header.Get(boxapi.HeaderHash))

	resp, body = do(t, http.MethodPost, ts.URL+boxapi.FilePath("b.txt"), "b")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = do(t, http.MethodGet, ts.URL+boxapi.PathListing, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decode[boxapi.ListingResponse](t, body)
	assert.Equal(t, int64(3), listing.Timestamp)
	assert.Len(t, listing.Files, 2)
	assert.Equal(t, int64(2), listing.Files["docs/a.txt"].Timestamp)
	assert.Equal(t, int64(3), listing.Files["b.txt"].Timestamp)

	resp, body = do(t, http.MethodDelete, file, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(4), decode[boxapi.TimestampResponse](t, body).Timestamp)

	resp, _ = do(t, http.MethodDelete, file, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, file, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Users(t *testing.T) {
	srv, ts := newTestServer(t, false)
	ctx := context.Background()

	register := `{"username":"carlo","password":"secret","email":"carlo@example.com"}`
	resp, body := do(t, http.MethodPost, ts.URL+boxapi.PathRegister, register)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	user := decode[boxapi.UserResponse](t, body)
	assert.Equal(t, "carlo", user.Username)
	assert.False(t, user.Active)

	resp, body = do(t, http.MethodPost, ts.URL+boxapi.PathRegister, register)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, boxapi.CodeUserExists, decode[boxapi.APIError](t, body).Code)

	resp, _ = do(t, http.MethodPost, ts.URL+boxapi.PathRegister, `{"username":"x","password":"y","email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodPost, ts.URL+boxapi.PathActivate, `{"username":"carlo","code":"WRONG1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, boxapi.CodeInvalidCode, decode[boxapi.APIError](t, body).Code)

	resp, body = do(t, http.MethodPost, ts.URL+boxapi.PathActivate, `{"username":"ghost","code":"ABC123"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, boxapi.CodeUserNotFound, decode[boxapi.APIError](t, body).Code)

	code, err := srv.Services().Users.Register(ctx, "ada", "pw", "ada@example.com")
	require.NoError(t, err)
	resp, body = do(t, http.MethodPost, ts.URL+boxapi.PathActivate, `{"username":"ada","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, decode[boxapi.UserResponse](t, body).Active)
}

func TestServer_RequireAuth(t *testing.T) {
	srv, ts := newTestServer(t, true)
	ctx := context.Background()

	resp, body := do(t, http.MethodGet, ts.URL+boxapi.PathTimestamp, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, boxapi.CodeUnauthorized, decode[boxapi.APIError](t, body).Code)

	code, err := srv.Services().Users.Register(ctx, "ada", "pw", "ada@example.com")
	require.NoError(t, err)

	get := func(user, pass string) int {
		req, err := http.NewRequest(http.MethodGet, ts.URL+boxapi.PathTimestamp, nil)
		require.NoError(t, err)
		req.SetBasicAuth(user, pass)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, get("ada", "pw"), "inactive user")

	_, err = srv.Services().Users.Activate(ctx, "ada", code)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get("ada", "pw"))
	assert.Equal(t, http.StatusUnauthorized, get("ada", "wrong"))

	// registration stays open
	resp, _ = do(t, http.MethodPost, ts.URL+boxapi.PathRegister, `{"username":"bob","password":"pw","email":"bob@example.com"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestServer_HealthAndNotFound(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, _ = do(t, http.MethodGet, ts.URL+"/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ServeAndStop(t *testing.T) {
	srv, err := New(&Config{Http: HttpConfig{Addr: "127.0.0.1:0"}, InMemory: true})
	require.NoError(t, err)

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Post(url+boxapi.FilePath("x.txt"), "application/octet-stream", bytes.NewBufferString("x"))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusCreated
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"bad addr", Config{Http: HttpConfig{Addr: "nope"}, DataDir: "x"}, true},
		{"cert without key", Config{Http: HttpConfig{Addr: DefaultAddr, CertFile: "c.pem"}, DataDir: "x"}, true},
		{"no data dir", Config{Http: HttpConfig{Addr: DefaultAddr}}, true},
		{"in memory", Config{Http: HttpConfig{Addr: DefaultAddr}, InMemory: true}, false},
		{"bad rate", Config{Http: HttpConfig{Addr: DefaultAddr}, InMemory: true, UserRateLimit: "lots"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
