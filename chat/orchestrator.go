// Package chat coordinates the rooms a viewer can see, the realtime channel
// of the open room and the match negotiation carried inside it.
//
// At most one room is open at a time. Opening a room closes the previous
// channel before anything else, then loads the history and the server's
// negotiation record concurrently and starts delivering live messages after
// the history, in arrival order.
package chat

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/logger"
	"github.com/roommate-match/go-client/match"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/protocol"
	"github.com/roommate-match/go-client/realtime"
	"golang.org/x/sync/errgroup"
)

// ErrValidation is returned when an operation is not permitted or is
// missing an input. It is the same error the match package returns.
var ErrValidation = match.ErrValidation

// Service is the REST surface the orchestrator needs.
type Service interface {
	match.Service
	ListRooms(ctx context.Context, view string) ([]model.ChatRoom, error)
	RoomMessages(ctx context.Context, roomID model.ID) ([]model.Message, error)
	CreateRoom(ctx context.Context, opponent model.ID) (model.ChatRoom, error)
}

// Dialer opens realtime connections.
type Dialer interface {
	Dial(ctx context.Context, opts realtime.Options) (realtime.Conn, error)
}

// Sessions provides the viewer's identity and credential.
type Sessions interface {
	Identity() model.Identity
	AccessToken() string
}

type Options struct {
	Service  Service
	Dialer   Dialer
	Sessions Sessions
	// Listener is optional
	Listener Listener
	Logger   logger.Logger
}

// openRoom is the state of the room currently open.
type openRoom struct {
	room    model.ChatRoom
	epoch   uint64
	conn    realtime.Conn
	machine *match.Machine
	cancel  context.CancelFunc
	done    chan struct{}
	bg      sync.WaitGroup
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	svc      Service
	dialer   Dialer
	sessions Sessions
	listener Listener
	logger   logger.Logger

	// switchMu serialises scope and room changes
	switchMu sync.Mutex

	mu       sync.Mutex
	scope    Scope
	rooms    []model.ChatRoom
	hasRooms bool
	epoch    uint64
	open     *openRoom
	messages []model.Message
}

// New returns an orchestrator in the default scope for the viewer's role.
func New(opts Options) (*Orchestrator, error) {
	if opts.Service == nil || opts.Dialer == nil || opts.Sessions == nil {
		return nil, errors.New("service, dialer and sessions are required")
	}
	if opts.Listener == nil {
		opts.Listener = &ListenerFuncs{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	return &Orchestrator{
		svc:      opts.Service,
		dialer:   opts.Dialer,
		sessions: opts.Sessions,
		listener: opts.Listener,
		logger:   opts.Logger.WithPrefix("[chat]"),
		scope:    DefaultScope(opts.Sessions.Identity().Role),
	}, nil
}

// Scope returns the current scope.
func (o *Orchestrator) Scope() Scope {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scope
}

// ReadOnly reports whether the current scope only observes.
func (o *Orchestrator) ReadOnly() bool {
	return o.Scope().ReadOnly()
}

// SelectScope closes the open room and switches to scope.
func (o *Orchestrator) SelectScope(scope Scope) error {
	role := o.sessions.Identity().Role
	if !scope.Allowed(role) {
		return errors.Wrapf(ErrValidation, "scope %s is not available to role %q", scope, role)
	}
	o.switchMu.Lock()
	defer o.switchMu.Unlock()
	o.closeRoom()
	o.mu.Lock()
	o.scope = scope
	o.rooms, o.hasRooms = nil, false
	o.mu.Unlock()
	o.logger.Debug("switched to scope %s", scope)
	return nil
}

// Rooms fetches the rooms of the current scope. The server listing is
// filtered so every returned room satisfies the scope.
func (o *Orchestrator) Rooms(ctx context.Context) ([]model.ChatRoom, error) {
	scope := o.Scope()
	viewer := o.sessions.Identity().ID
	listed, err := o.svc.ListRooms(ctx, string(scope))
	if err != nil {
		return nil, errors.Wrap(err, "error listing rooms")
	}
	rooms := make([]model.ChatRoom, 0, len(listed))
	for _, room := range listed {
		if scope.Includes(room, viewer) {
			rooms = append(rooms, room)
		}
	}
	if dropped := len(listed) - len(rooms); dropped > 0 {
		o.logger.Debug("filtered %d rooms outside scope %s", dropped, scope)
	}
	o.mu.Lock()
	if o.scope == scope {
		o.rooms, o.hasRooms = rooms, true
	}
	o.mu.Unlock()
	return slices.Clone(rooms), nil
}

func (o *Orchestrator) findRoom(ctx context.Context, roomID model.ID) (model.ChatRoom, error) {
	o.mu.Lock()
	rooms, ok := o.rooms, o.hasRooms
	o.mu.Unlock()
	if !ok {
		var err error
		if rooms, err = o.Rooms(ctx); err != nil {
			return model.ChatRoom{}, err
		}
	}
	for _, room := range rooms {
		if room.ID == roomID {
			return room, nil
		}
	}
	return model.ChatRoom{}, errors.Wrapf(ErrValidation, "room %s is not in scope %s", roomID, o.Scope())
}

// CreateRoom opens a room with opponent and invalidates the room list.
func (o *Orchestrator) CreateRoom(ctx context.Context, opponent model.ID) (model.ChatRoom, error) {
	if opponent.IsZero() {
		return model.ChatRoom{}, errors.Wrap(ErrValidation, "opponent id is required")
	}
	room, err := o.svc.CreateRoom(ctx, opponent)
	if err != nil {
		return model.ChatRoom{}, errors.Wrap(err, "error creating room")
	}
	o.mu.Lock()
	o.rooms, o.hasRooms = nil, false
	o.mu.Unlock()
	return room, nil
}

// OpenRoom makes roomID the open room. Any previous channel is closed
// before the new room is touched.
func (o *Orchestrator) OpenRoom(ctx context.Context, roomID model.ID) error {
	o.switchMu.Lock()
	defer o.switchMu.Unlock()

	o.closeRoom()

	room, err := o.findRoom(ctx, roomID)
	if err != nil {
		return err
	}
	viewer := o.sessions.Identity()
	scope := o.Scope()

	o.mu.Lock()
	o.epoch++
	r := &openRoom{room: room, epoch: o.epoch, done: make(chan struct{})}
	o.open = r
	o.messages = nil
	o.mu.Unlock()

	// actions always run as the viewer; a read-only observer follows the
	// negotiation between the two participants instead
	self, counterpart := viewer.ID, room.Counterpart(viewer.ID).ID
	if scope.ReadOnly() && !room.Has(viewer.ID) {
		self, counterpart = room.A.ID, room.B.ID
	}
	r.machine = match.New(match.Config{
		Service:     o.svc,
		RoomID:      room.ID,
		Self:        self,
		Counterpart: counterpart,
		Broadcast:   func(f protocol.Frame) bool { return o.sendOn(r.epoch, f) },
		History:     o.Messages,
		OnChange:    o.listener.OnNegotiation,
		Logger:      o.logger,
	})

	var history []model.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msgs, err := o.svc.RoomMessages(gctx, room.ID)
		if err != nil {
			return errors.Wrapf(err, "error loading history of room %s", room.ID)
		}
		history = msgs
		return nil
	})
	g.Go(func() error {
		if err := r.machine.Reconcile(gctx); err != nil {
			o.logger.Warn("failed to load negotiation for room %s: %s", room.ID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		o.closeRoom()
		return err
	}

	o.mu.Lock()
	for _, msg := range history {
		o.messages = append(o.messages, protocol.Annotate(msg))
	}
	o.mu.Unlock()

	conn, err := o.dialer.Dial(ctx, realtime.Options{
		RoomID:   room.ID,
		Token:    o.sessions.AccessToken(),
		ReadOnly: scope.ReadOnly(),
		Handler: &realtime.HandlerCallback{
			OnStateChangeFunc: func(_ *realtime.Channel, s realtime.State) {
				o.listener.OnChannelState(s)
			},
		},
	})
	if err != nil {
		// the history stays readable without a live channel
		close(r.done)
		return errors.Wrapf(err, "error opening channel for room %s", room.ID)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	r.conn = conn
	r.cancel = cancel
	o.mu.Unlock()
	go o.pump(pumpCtx, r)
	o.logger.Debug("opened room %s in scope %s", room.ID, scope)
	return nil
}

// pump delivers live messages of r until its channel ends.
func (o *Orchestrator) pump(ctx context.Context, r *openRoom) {
	defer close(r.done)
	for msg := range r.conn.Frames(ctx) {
		if !msg.RoomID.IsZero() && msg.RoomID != r.room.ID {
			o.logger.Debug("ignoring message for room %s", msg.RoomID)
			continue
		}
		if !o.append(r.epoch, msg) {
			continue
		}
		o.listener.OnMessage(msg)
		if r.machine.Observe(msg) {
			r.bg.Add(1)
			go func() {
				defer r.bg.Done()
				if err := r.machine.Reconcile(ctx); err != nil && ctx.Err() == nil {
					o.logger.Warn("failed to reconcile negotiation: %s", err)
				}
			}()
		}
	}
	o.logger.Debug("channel for room %s ended: %s", r.room.ID, r.conn.State())
}

// append adds a live message unless the room changed or the message is
// already in the history.
func (o *Orchestrator) append(epoch uint64, msg model.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.open == nil || o.open.epoch != epoch {
		return false
	}
	if !msg.ID.IsZero() && slices.ContainsFunc(o.messages, func(m model.Message) bool { return m.ID == msg.ID }) {
		return false
	}
	o.messages = append(o.messages, msg)
	return true
}

func (o *Orchestrator) sendOn(epoch uint64, f protocol.Frame) bool {
	o.mu.Lock()
	r := o.open
	o.mu.Unlock()
	if r == nil || r.epoch != epoch || r.conn == nil {
		return false
	}
	return r.conn.Send(f)
}

// closeRoom closes the open room's channel and waits for its pump.
func (o *Orchestrator) closeRoom() {
	o.mu.Lock()
	r := o.open
	o.open = nil
	o.messages = nil
	o.epoch++
	o.mu.Unlock()
	if r == nil {
		return
	}
	if r.conn != nil {
		r.conn.Close()
		r.cancel()
		<-r.done
	}
	r.bg.Wait()
	o.logger.Debug("closed room %s", r.room.ID)
}

// current returns the open room or ErrValidation.
func (o *Orchestrator) current() (*openRoom, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.open == nil {
		return nil, errors.Wrap(ErrValidation, "no room is open")
	}
	return o.open, nil
}

// Room returns the open room.
func (o *Orchestrator) Room() (model.ChatRoom, bool) {
	r, err := o.current()
	if err != nil {
		return model.ChatRoom{}, false
	}
	return r.room, true
}

// Send sends text into the open room. It reports false without sending for
// empty text, in read only scopes, or when the channel is not open.
func (o *Orchestrator) Send(text string) (bool, error) {
	r, err := o.current()
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(text) == "" || o.ReadOnly() {
		return false, nil
	}
	return o.sendOn(r.epoch, protocol.Text(text).Frame()), nil
}

// Propose proposes a match to the counterpart of the open room. It does
// nothing in read only scopes.
func (o *Orchestrator) Propose(ctx context.Context) error {
	return o.act(ctx, (*match.Machine).Propose)
}

// Accept accepts the counterpart's proposal. It does nothing in read only scopes.
func (o *Orchestrator) Accept(ctx context.Context) error {
	return o.act(ctx, (*match.Machine).Accept)
}

// Decline declines the counterpart's proposal. It does nothing in read only scopes.
func (o *Orchestrator) Decline(ctx context.Context) error {
	return o.act(ctx, (*match.Machine).Decline)
}

func (o *Orchestrator) act(ctx context.Context, action func(*match.Machine, context.Context) error) error {
	r, err := o.current()
	if err != nil {
		return err
	}
	if o.ReadOnly() {
		return nil
	}
	return action(r.machine, ctx)
}

// Reconcile refreshes the negotiation of the open room from the server.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	r, err := o.current()
	if err != nil {
		return err
	}
	return r.machine.Reconcile(ctx)
}

// Negotiation returns the negotiation of the open room.
func (o *Orchestrator) Negotiation() (model.Negotiation, bool) {
	r, err := o.current()
	if err != nil {
		return model.Negotiation{}, false
	}
	return r.machine.Snapshot(), true
}

// Messages returns the open room's messages, history first then live
// messages in arrival order, each annotated with its protocol type.
func (o *Orchestrator) Messages() []model.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.messages)
}

// Close closes the open room.
func (o *Orchestrator) Close() error {
	o.switchMu.Lock()
	defer o.switchMu.Unlock()
	o.closeRoom()
	return nil
}
