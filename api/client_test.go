package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/logger"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *session.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	store := session.New(context.Background(), nil, session.WithLogger(logger.NewTestLogger()))
	opts = append([]Option{WithLogger(logger.NewTestLogger())}, opts...)
	c, err := New(srv.URL+"/api", store, opts...)
	require.NoError(t, err)
	return c, store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New("ftp://example.com", session.New(context.Background(), nil))
	assert.Error(t, err)
	_, err = New("::", session.New(context.Background(), nil))
	assert.Error(t, err)
}

func TestBearerAttachment(t *testing.T) {
	var seen sync.Map
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.Path, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "roommate-go-client/"))
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "x"})
	}))
	ctx := context.Background()

	// no token: the call proceeds unauthenticated
	require.NoError(t, c.Do(ctx, &Request{Path: "/chat/rooms"}, nil))
	v, _ := seen.Load("/api/chat/rooms")
	assert.Equal(t, "", v)

	store.Replace(model.Session{AccessToken: "tok", RefreshToken: "rt"})
	require.NoError(t, c.Do(ctx, &Request{Path: "/chat/rooms"}, nil))
	v, _ = seen.Load("/api/chat/rooms")
	assert.Equal(t, "Bearer tok", v)

	for _, p := range []string{"/auth/login", "/auth/register", "/auth/refresh"} {
		require.NoError(t, c.Do(ctx, &Request{Method: http.MethodPost, Path: p}, nil))
		v, _ = seen.Load("/api" + p)
		assert.Equal(t, "", v, p)
	}
}

func TestCredentialPathNeverRefreshes(t *testing.T) {
	var refreshes atomic.Int32
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/refresh" {
			refreshes.Add(1)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "bad credentials"})
	}))
	store.Replace(model.Session{AccessToken: "a", RefreshToken: "r"})

	err := c.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/auth/login"}, nil)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.False(t, errors.Is(err, ErrAuthExpired))
	assert.Equal(t, "bad credentials", err.Error())
	assert.Equal(t, int32(0), refreshes.Load())
	assert.Equal(t, "a", store.AccessToken())
}

// refreshServer rejects protected calls unless they carry the current token.
type refreshServer struct {
	mu           sync.Mutex
	current      string
	refreshCalls atomic.Int32
	cycles       atomic.Int32
	protected    atomic.Int32
	fail         atomic.Bool
	beforeReply  func()
}

func (s *refreshServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/auth/refresh" {
		s.refreshCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "refreshToken") {
			s.cycles.Add(1)
		}
		if s.beforeReply != nil {
			s.beforeReply()
		}
		if s.fail.Load() {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "refresh expired"})
			return
		}
		s.mu.Lock()
		s.current = "fresh"
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"accessToken": "fresh", "refreshToken": "rt2"}})
		return
	}
	s.protected.Add(1)
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer "+current {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": []map[string]any{{"id": 1}}})
}

func TestSingleFlightRefreshReplaysAll(t *testing.T) {
	const n = 8
	rc := NewRefreshCoordinator()
	srv := &refreshServer{current: "never-matches"}
	srv.beforeReply = func() {
		deadline := time.Now().Add(5 * time.Second)
		for rc.Waiting() < n-1 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	c, store := newTestClient(t, srv, WithRefreshCoordinator(rc))
	store.Replace(model.Session{AccessToken: "stale", RefreshToken: "rt1", Identity: model.Identity{ID: "1"}})

	var wg sync.WaitGroup
	errs := make([]error, n)
	rooms := make([][]model.ChatRoom, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rooms[i], errs[i] = c.ListRooms(context.Background(), "mine")
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, rooms[i], 1)
	}
	assert.Equal(t, int32(1), srv.refreshCalls.Load())
	assert.Equal(t, int32(2*n), srv.protected.Load())
	assert.Equal(t, "fresh", store.AccessToken())
	assert.Equal(t, "rt2", store.RefreshToken())
	assert.Equal(t, model.ID("1"), store.Identity().ID)
	assert.False(t, rc.InFlight())
}

func TestSingleFlightRefreshFailureFailsAll(t *testing.T) {
	const n = 5
	rc := NewRefreshCoordinator()
	srv := &refreshServer{current: "never-matches"}
	srv.fail.Store(true)
	var once sync.Once
	srv.beforeReply = func() {
		once.Do(func() {
			deadline := time.Now().Add(5 * time.Second)
			for rc.Waiting() < n-1 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
		})
	}
	c, store := newTestClient(t, srv, WithRefreshCoordinator(rc))
	store.Replace(model.Session{AccessToken: "stale", RefreshToken: "rt1"})

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.ListRooms(context.Background(), "mine")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAuthExpired), err)
	}
	// one refresh cycle, every encoding tried once
	assert.Equal(t, int32(1), srv.cycles.Load())
	assert.Equal(t, int32(len(refreshEncodings)), srv.refreshCalls.Load())
	// no replays after a failed refresh
	assert.Equal(t, int32(n), srv.protected.Load())
	_, ok := store.Get()
	assert.False(t, ok)
	assert.Empty(t, store.RefreshToken())
	assert.False(t, rc.InFlight())
}

func TestRefreshCycleCanRunAgain(t *testing.T) {
	srv := &refreshServer{current: "never-matches"}
	srv.fail.Store(true)
	c, store := newTestClient(t, srv)
	store.Replace(model.Session{AccessToken: "stale", RefreshToken: "rt1"})
	_, err := c.ListRooms(context.Background(), "mine")
	require.ErrorIs(t, err, ErrAuthExpired)

	srv.fail.Store(false)
	store.Replace(model.Session{AccessToken: "stale", RefreshToken: "rt1"})
	_, err = c.ListRooms(context.Background(), "mine")
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.cycles.Load())
}

func TestNoRefreshTokenExpiresSession(t *testing.T) {
	srv := &refreshServer{current: "never-matches"}
	c, store := newTestClient(t, srv)
	store.Replace(model.Session{AccessToken: "stale"})

	_, err := c.ListRooms(context.Background(), "mine")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, int32(0), srv.refreshCalls.Load())
	assert.Empty(t, store.AccessToken())
}

func TestReplayIsAttemptedOnce(t *testing.T) {
	var refreshes, protected atomic.Int32
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/refresh" {
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"accessToken": "fresh"})
			return
		}
		protected.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "still no"})
	}))
	store.Replace(model.Session{AccessToken: "stale", RefreshToken: "rt"})

	req := &Request{Path: "/chat/rooms"}
	err := c.Do(context.Background(), req, nil)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.False(t, errors.Is(err, ErrAuthExpired))
	assert.True(t, req.Retried())
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), protected.Load())
	// the refresh response carried no refresh token: the old one is kept
	assert.Equal(t, "rt", store.RefreshToken())
}

func TestRefreshEncodingFallback(t *testing.T) {
	var attempts []string
	var mu sync.Mutex
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/refresh" {
			if r.Header.Get("Authorization") == "Bearer fresh" {
				writeJSON(w, http.StatusOK, map[string]any{})
				return
			}
			writeJSON(w, http.StatusUnauthorized, nil)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.Contains(string(body), `"refreshToken":"rt"`):
			attempts = append(attempts, "body")
			writeJSON(w, http.StatusBadRequest, nil)
		case r.Header.Get("X-Refresh-Token") == "rt":
			assert.Equal(t, "Bearer rt", r.Header.Get("Authorization"))
			assert.Empty(t, body)
			attempts = append(attempts, "header")
			writeJSON(w, http.StatusInternalServerError, nil)
		default:
			cookie, err := r.Cookie("refreshToken")
			if assert.NoError(t, err) {
				assert.Equal(t, "rt", cookie.Value)
			}
			attempts = append(attempts, "cookie")
			writeJSON(w, http.StatusOK, map[string]string{"accessToken": "fresh", "refreshToken": "rt3"})
		}
	}))
	store.Replace(model.Session{AccessToken: "stale", RefreshToken: "rt"})

	require.NoError(t, c.Do(context.Background(), &Request{Path: "/me"}, nil))
	assert.Equal(t, []string{"body", "header", "cookie"}, attempts)
	assert.Equal(t, "rt3", store.RefreshToken())
}

func TestRefreshWithoutAccessTokenFails(t *testing.T) {
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/refresh" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, nil)
	}))
	store.Replace(model.Session{AccessToken: "stale", RefreshToken: "rt"})
	err := c.Do(context.Background(), &Request{Path: "/me"}, nil)
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.ErrorContains(t, err, "no access token")
}

func TestServerErrorSurfaces(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("traceparent", "00-abc-def-01")
		writeJSON(w, http.StatusConflict, map[string]string{"message": "already proposed", "code": "DUPLICATE"})
	}))
	err := c.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/match/propose"}, nil)
	require.Error(t, err)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "00-abc-def-01", apiErr.TraceID)
	assert.Equal(t, "already proposed (DUPLICATE)", err.Error())
	assert.False(t, IsTransport(err))
}

func TestTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, nil)
	}))
	defer srv.Close()
	store := session.New(context.Background(), nil)
	c, err := New(srv.URL, store, WithTimeout(20*time.Millisecond), WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)

	err = c.Do(context.Background(), &Request{Path: "/slow"}, nil)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, 0, StatusCode(err))

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	c, err = New(closed.URL, store, WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)
	err = c.Do(context.Background(), &Request{Path: "/gone"}, nil)
	assert.True(t, IsTransport(err))
}

func TestResolveJoinsPathAndQuery(t *testing.T) {
	c, err := New("https://example.com/api/", session.New(context.Background(), nil))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/api/chat/rooms?view=staff",
		c.resolve(&Request{Path: "/chat/rooms", Query: map[string][]string{"view": {"staff"}}}))
	assert.Equal(t, "https://example.com/api/x?a=1", c.resolve(&Request{Path: "x?a=1"}))
}

func TestSafeBodyPreview(t *testing.T) {
	assert.Equal(t, `{"a":1}`, safeBodyPreview([]byte(`{"a":1}`), "application/json", 0))
	assert.Equal(t, "<image/png: 3 bytes>", safeBodyPreview([]byte{1, 2, 3}, "image/png", 0))
	assert.Equal(t, "abc[truncated, total: 6 chars]", safeBodyPreview([]byte("abcdef"), "text/plain", 3))
}
