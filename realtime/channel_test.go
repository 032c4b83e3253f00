package realtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/logger"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type recorder struct {
	mu     sync.Mutex
	states []State
	errs   []error
}

func (r *recorder) handler() Handler {
	return &HandlerCallback{
		OnStateChangeFunc: func(_ *Channel, s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnErrorFunc: func(_ *Channel, err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]State, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...), append([]error(nil), r.errs...)
}

type testServer struct {
	*httptest.Server
	mu    sync.Mutex
	query []string
}

func (s *testServer) queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.query...)
}

func newServer(t *testing.T, serve func(conn *websocket.Conn)) *testServer {
	t.Helper()
	ts := &testServer{}
	ws := websocket.Handler(func(conn *websocket.Conn) {
		defer conn.Close()
		serve(conn)
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret-token-123" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		ts.mu.Lock()
		ts.query = append(ts.query, r.URL.RawQuery)
		ts.mu.Unlock()
		ws.ServeHTTP(w, r)
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func open(t *testing.T, srv *testServer, opts Options) *Channel {
	t.Helper()
	opts.BaseURL = srv.URL
	opts.RoomID = "7"
	if opts.Token == "" {
		opts.Token = "secret-token-123"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := Open(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestURL(t *testing.T) {
	u, err := URL("http://localhost:8080/", "7", "a b")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws?roomId=7&token=a+b", u)

	u, err = URL("https://chat.example.com/realtime", "9", "t")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/realtime/ws?roomId=9&token=t", u)

	u, err = URL("wss://chat.example.com", "9", "t")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws?roomId=9&token=t", u)

	_, err = URL("ftp://chat.example.com", "9", "t")
	assert.Error(t, err)
}

func TestOpenRequiresRoomAndToken(t *testing.T) {
	_, err := Open(context.Background(), Options{BaseURL: "ws://localhost", Token: "t"})
	assert.Error(t, err)
	_, err = Open(context.Background(), Options{BaseURL: "ws://localhost", RoomID: "1"})
	assert.Error(t, err)
}

func TestFramesInArrivalOrderDropsGarbage(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn) {
		websocket.Message.Send(conn, `{"id":1,"roomId":7,"senderId":2,"content":"hello"}`)
		websocket.Message.Send(conn, `not json`)
		websocket.Message.Send(conn, `{"id":2,"roomId":7,"senderId":2,"content":"[[MATCH_REQUEST#31]] please"}`)
		websocket.Message.Send(conn, `{"id":3,"roomId":7,"senderId":1,"content":"bye"}`)
	})
	rec := &recorder{}
	log := logger.NewTestLogger()
	ch := open(t, srv, Options{Handler: rec.handler(), Logger: log})
	assert.Equal(t, StateOpen, ch.State())
	assert.Equal(t, []string{"roomId=7&token=secret-token-123"}, srv.queries())

	var got []model.Message
	for msg := range ch.Frames(context.Background()) {
		got = append(got, msg)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, model.TypeText, got[0].Type)
	assert.Equal(t, model.TypeMatchRequest, got[1].Type)
	assert.Equal(t, "31", got[1].CorrelationID)
	assert.Equal(t, model.ID("2"), got[1].SenderID)
	assert.Equal(t, "bye", got[2].Content)

	assert.Equal(t, StateClosed, ch.State())
	select {
	case <-ch.Done():
	default:
		t.Fatal("done not closed")
	}
	states, errs := rec.snapshot()
	assert.Equal(t, []State{StateConnecting, StateOpen, StateClosed}, states)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrProtocolDecode))
	assert.True(t, log.Contains("WARNING", "dropping frame"))

	// the token never reaches the log
	for _, entry := range log.Logs() {
		assert.NotContains(t, entry.Text(), "secret-token-123")
	}
}

func TestFramesIsNotRestartable(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn) {
		websocket.Message.Send(conn, `{"id":1,"content":"one"}`)
		websocket.Message.Send(conn, `{"id":2,"content":"two"}`)
		io.Copy(io.Discard, conn)
	})
	ch := open(t, srv, Options{Logger: logger.NewTestLogger()})

	first := ch.Frames(context.Background())
	second := ch.Frames(context.Background())
	for msg := range first {
		assert.Equal(t, "one", msg.Content)
		break
	}
	count := 0
	for range second {
		count++
	}
	assert.Zero(t, count)
	// stopping early leaves the channel open
	assert.Equal(t, StateOpen, ch.State())
}

func TestSend(t *testing.T) {
	received := make(chan protocol.Frame, 1)
	srv := newServer(t, func(conn *websocket.Conn) {
		var f protocol.Frame
		if err := websocket.JSON.Receive(conn, &f); err == nil {
			received <- f
		}
		io.Copy(io.Discard, conn)
	})
	ch := open(t, srv, Options{Logger: logger.NewTestLogger()})

	assert.True(t, ch.Send(protocol.Request("12").Frame()))
	select {
	case f := <-received:
		assert.Equal(t, model.TypeMatchRequest, f.Type)
		assert.True(t, strings.HasPrefix(f.Content, "[[MATCH_REQUEST#12]] "))
	case <-time.After(5 * time.Second):
		t.Fatal("frame not received")
	}

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Equal(t, StateClosed, ch.State())
	assert.False(t, ch.Send(protocol.Text("late").Frame()))
}

func TestReadOnlyNeverSends(t *testing.T) {
	received := make(chan protocol.Frame, 1)
	srv := newServer(t, func(conn *websocket.Conn) {
		var f protocol.Frame
		if err := websocket.JSON.Receive(conn, &f); err == nil {
			received <- f
		}
	})
	ch := open(t, srv, Options{ReadOnly: true, Logger: logger.NewTestLogger()})
	assert.True(t, ch.ReadOnly())
	assert.False(t, ch.Send(protocol.Text("hi").Frame()))
	ch.Close()
	select {
	case f := <-received:
		t.Fatalf("unexpected frame %v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOpenFailureIsReported(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn) {})
	rec := &recorder{}
	_, err := Open(context.Background(), Options{
		BaseURL: srv.URL,
		RoomID:  "7",
		Token:   "wrong-token-456",
		Handler: rec.handler(),
		Logger:  logger.NewTestLogger(),
	})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "wrong-token-456")
	states, errs := rec.snapshot()
	assert.Equal(t, []State{StateConnecting, StateErrored}, states)
	assert.Len(t, errs, 1)
}

func TestContextEndsFrames(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn) {
		io.Copy(io.Discard, conn)
	})
	ch := open(t, srv, Options{Logger: logger.NewTestLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch.Frames(ctx) {
		}
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("frames did not end")
	}
	assert.Equal(t, StateClosed, ch.State())
}

func TestDialerFillsDefaults(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn) {})
	d := &Dialer{BaseURL: srv.URL, Logger: logger.NewTestLogger()}
	conn, err := d.Dial(context.Background(), Options{RoomID: "7", Token: "secret-token-123"})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, model.ID("7"), conn.(*Channel).RoomID())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateOpen.Terminal())
}
