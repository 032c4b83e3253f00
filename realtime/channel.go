// Package realtime is the websocket channel a client keeps open for one chat
// room. A channel is scoped to a room and a credential; switching rooms means
// closing the channel and opening a new one.
package realtime

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/logger"
	"github.com/roommate-match/go-client/metrics"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/protocol"
	cstr "github.com/roommate-match/go-client/string"
	"golang.org/x/net/websocket"
)

// ErrProtocolDecode marks an inbound frame that is not a valid message.
var ErrProtocolDecode = errors.New("invalid realtime frame")

// State is the lifecycle state of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the channel can no longer carry frames.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Conn is the part of a Channel the chat layer depends on.
type Conn interface {
	// Send writes frame and reports whether it was written.
	Send(frame protocol.Frame) bool
	// Frames returns the inbound messages. It can only be consumed once.
	Frames(ctx context.Context) iter.Seq[model.Message]
	// State returns the current lifecycle state.
	State() State
	// Close closes the connection.
	Close() error
}

type Options struct {
	// BaseURL is the realtime base, ws(s):// or http(s):// (required)
	BaseURL string
	// RoomID is the room the channel is scoped to (required)
	RoomID model.ID
	// Token is the access token presented on connect (required)
	Token string
	// ReadOnly channels never send
	ReadOnly bool
	// Origin sent on the handshake, derived from BaseURL when empty
	Origin string
	// Logger defaults to a console logger at warn
	Logger logger.Logger
	// Handler receives lifecycle callbacks (optional)
	Handler Handler
}

// Channel is one websocket connection to a room.
type Channel struct {
	conn     *websocket.Conn
	roomID   model.ID
	readOnly bool
	logger   logger.Logger
	handler  Handler
	state    atomic.Int32
	consumed atomic.Bool
	writeMu  sync.Mutex
	done     chan struct{}
}

var _ Conn = (*Channel)(nil)

// URL returns the connect URL for roomID presenting token.
func URL(base string, roomID model.ID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", errors.Wrap(err, "error parsing realtime base url")
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Newf("unsupported realtime base url %q", base)
	}
	u.Path = path.Join("/", u.Path, "ws")
	q := u.Query()
	q.Set("token", token)
	q.Set("roomId", roomID.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func originFor(wsURL *url.URL) string {
	scheme := "http"
	if wsURL.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + wsURL.Host
}

// Open connects to the room. The returned channel is Open; a failed
// connect leaves no channel behind and is reported to the handler.
func Open(ctx context.Context, opts Options) (*Channel, error) {
	if opts.RoomID.IsZero() {
		return nil, errors.New("room id is required")
	}
	if opts.Token == "" {
		return nil, errors.New("access token is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	if opts.Handler == nil {
		opts.Handler = &HandlerCallback{}
	}
	target, err := URL(opts.BaseURL, opts.RoomID, opts.Token)
	if err != nil {
		return nil, err
	}
	masked, _ := cstr.MaskURL(target)
	ch := &Channel{
		roomID:   opts.RoomID,
		readOnly: opts.ReadOnly,
		logger:   opts.Logger.WithPrefix("[realtime]").With(map[string]interface{}{"roomId": opts.RoomID.String()}),
		handler:  opts.Handler,
		done:     make(chan struct{}),
	}
	ch.handler.OnStateChange(ch, StateConnecting)

	origin := opts.Origin
	if origin == "" {
		u, _ := url.Parse(target)
		origin = originFor(u)
	}
	cfg, err := websocket.NewConfig(target, origin)
	if err != nil {
		return nil, errors.Wrap(err, "error creating websocket config")
	}
	cfg.Header = http.Header{}
	cfg.Header.Set("User-Agent", "roommate-go-client")

	ch.logger.Debug("connecting to %s", masked)
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		// the dial error repeats the unmasked url
		var de *websocket.DialError
		if errors.As(err, &de) {
			err = de.Err
		}
		err = errors.Wrapf(err, "error connecting to %s", masked)
		ch.fail(err)
		return nil, err
	}
	ch.conn = conn
	ch.transition(StateOpen)
	ch.logger.Debug("connected (read only: %v)", ch.readOnly)
	return ch, nil
}

// RoomID returns the room the channel is scoped to.
func (c *Channel) RoomID() model.ID {
	return c.roomID
}

// ReadOnly reports whether the channel was opened for observation only.
func (c *Channel) ReadOnly() bool {
	return c.readOnly
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Done is closed when the channel reaches Closed or Errored.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// transition moves to state unless the channel is already terminal.
func (c *Channel) transition(to State) bool {
	for {
		from := State(c.state.Load())
		if from.Terminal() || from == to {
			return false
		}
		if c.state.CompareAndSwap(int32(from), int32(to)) {
			if from == StateOpen {
				metrics.OpenChannels.Dec()
			}
			if to == StateOpen {
				metrics.OpenChannels.Inc()
			}
			if to.Terminal() {
				close(c.done)
			}
			c.handler.OnStateChange(c, to)
			return true
		}
	}
}

func (c *Channel) fail(err error) {
	if c.transition(StateErrored) {
		c.logger.Warn("channel failed: %s", err)
		c.handler.OnError(c, err)
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Send writes frame. It returns false without sending when the channel is
// read only or not open. Delivery is not acknowledged.
func (c *Channel) Send(frame protocol.Frame) bool {
	if c.readOnly || c.State() != StateOpen {
		return false
	}
	c.writeMu.Lock()
	err := websocket.JSON.Send(c.conn, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.fail(errors.Wrap(err, "error sending frame"))
		return false
	}
	metrics.FramesSent.WithLabelValues(string(frame.Type)).Inc()
	c.logger.Trace("sent %s frame", frame.Type)
	return true
}

// Frames returns the inbound messages in arrival order, annotated with
// their protocol type. Each step reads one frame from the connection.
// Frames that cannot be decoded are dropped. The sequence ends when the
// connection closes or fails, or when ctx is done, which closes the
// channel. Only the first call yields messages.
func (c *Channel) Frames(ctx context.Context) iter.Seq[model.Message] {
	if !c.consumed.CompareAndSwap(false, true) {
		return func(func(model.Message) bool) {}
	}
	return func(yield func(model.Message) bool) {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
		for {
			var raw []byte
			if err := websocket.Message.Receive(c.conn, &raw); err != nil {
				c.readFailed(err)
				return
			}
			msg, err := decodeFrame(raw)
			if err != nil {
				metrics.FramesDropped.Inc()
				c.logger.Warn("dropping frame: %s", err)
				c.handler.OnError(c, err)
				continue
			}
			metrics.FramesReceived.Inc()
			if !yield(msg) {
				return
			}
		}
	}
}

func (c *Channel) readFailed(err error) {
	if c.State().Terminal() {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		c.logger.Debug("connection closed by server")
		c.transition(StateClosed)
		c.conn.Close()
		return
	}
	c.fail(errors.Wrap(err, "error reading frame"))
}

func decodeFrame(raw []byte) (model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.Message{}, errors.Mark(errors.Wrap(err, "error decoding frame"), ErrProtocolDecode)
	}
	return protocol.Annotate(msg), nil
}

// Close closes the connection. It is safe to call more than once.
func (c *Channel) Close() error {
	if !c.transition(StateClosed) {
		return nil
	}
	c.logger.Debug("closing channel")
	return c.conn.Close()
}
