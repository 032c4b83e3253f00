// Package match drives the match negotiation between the viewer and the
// counterpart of a chat room.
//
// A negotiation moves NONE -> PENDING -> ACCEPTED | REJECTED. Local actions
// call the REST service, commit the new state optimistically, broadcast the
// matching protocol frame into the room and then reconcile with the server,
// whose record always wins.
package match

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/logger"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/protocol"
)

var (
	// ErrValidation is returned before any network call when an action is
	// missing a required input.
	ErrValidation = errors.New("validation failed")
	// ErrUnresolvedNegotiation is returned by Accept and Decline when no
	// match id can be found for the negotiation.
	ErrUnresolvedNegotiation = errors.New("no match id for negotiation")
)

// Service is the REST surface the machine needs.
type Service interface {
	ProposeMatch(ctx context.Context, proposer, target model.ID, message string) (string, error)
	AcceptMatch(ctx context.Context, matchID string) error
	RejectMatch(ctx context.Context, matchID string) error
	MatchResult(ctx context.Context, self, counterpart model.ID) (model.MatchRecord, error)
}

// DefaultProposal is the proposal message sent with Propose.
const DefaultProposal = "Let's be roommates!"

type Config struct {
	Service     Service
	RoomID      model.ID
	Self        model.ID
	Counterpart model.ID
	// Broadcast sends a frame into the room; nil drops frames
	Broadcast func(protocol.Frame) bool
	// History returns the annotated room history, oldest first
	History func() []model.Message
	// OnChange is called after every state change, outside the lock
	OnChange func(model.Negotiation)
	Proposal string
	Logger   logger.Logger
}

// Machine is the negotiation state for one room. Actions are serialised;
// reads are safe at any time.
type Machine struct {
	cfg    Config
	logger logger.Logger

	actionMu sync.Mutex

	mu    sync.Mutex
	state model.Negotiation
	// seq orders commits and reconciles; a reconcile only applies when no
	// commit or newer reconcile landed after it started
	seq       uint64
	committed uint64
	applied   uint64
}

// New returns a machine in state NONE.
func New(cfg Config) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	if cfg.Proposal == "" {
		cfg.Proposal = DefaultProposal
	}
	return &Machine{
		cfg:    cfg,
		logger: cfg.Logger.WithPrefix("[match]").With(map[string]interface{}{"roomId": cfg.RoomID.String()}),
		state: model.Negotiation{
			RoomID:        cfg.RoomID,
			CounterpartID: cfg.Counterpart,
			Status:        model.StatusNone,
		},
	}
}

// Snapshot returns the current negotiation.
func (m *Machine) Snapshot() model.Negotiation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) validate() error {
	if m.cfg.Service == nil {
		return errors.Wrap(ErrValidation, "no match service")
	}
	if m.cfg.Self.IsZero() {
		return errors.Wrap(ErrValidation, "viewer id is required")
	}
	if m.cfg.Counterpart.IsZero() {
		return errors.Wrap(ErrValidation, "counterpart id is required")
	}
	return nil
}

// commit installs a locally decided state and invalidates reconciles in flight.
func (m *Machine) commit(status model.Status, matchID string) {
	m.mu.Lock()
	m.seq++
	m.committed = m.seq
	m.state.Status = status
	if matchID != "" {
		m.state.MatchID = matchID
	}
	next := m.state
	m.mu.Unlock()
	m.notify(next)
}

func (m *Machine) notify(n model.Negotiation) {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(n)
	}
}

func (m *Machine) broadcast(ev protocol.Event) {
	if m.cfg.Broadcast == nil {
		return
	}
	if !m.cfg.Broadcast(ev.Frame()) {
		m.logger.Debug("%s frame not sent", ev.Type)
	}
}

// reconcileAfter runs the post-action reconcile; its failure leaves the
// optimistic state in place.
func (m *Machine) reconcileAfter(ctx context.Context) {
	if err := m.Reconcile(ctx); err != nil {
		m.logger.Warn("failed to reconcile after action: %s", err)
	}
}

// Propose files a proposal to the counterpart. It is a no-op once the
// negotiation is terminal.
func (m *Machine) Propose(ctx context.Context) error {
	if err := m.validate(); err != nil {
		return err
	}
	m.actionMu.Lock()
	defer m.actionMu.Unlock()
	if m.Snapshot().Status.Terminal() {
		return nil
	}
	matchID, err := m.cfg.Service.ProposeMatch(ctx, m.cfg.Self, m.cfg.Counterpart, m.cfg.Proposal)
	if err != nil {
		return errors.Wrap(err, "error proposing match")
	}
	m.logger.Info("proposed match %s", matchID)
	m.commit(model.StatusPending, matchID)
	m.broadcast(protocol.Request(matchID))
	m.reconcileAfter(ctx)
	return nil
}

// Accept accepts the counterpart's proposal.
func (m *Machine) Accept(ctx context.Context) error {
	return m.respond(ctx, true)
}

// Decline declines the counterpart's proposal.
func (m *Machine) Decline(ctx context.Context) error {
	return m.respond(ctx, false)
}

func (m *Machine) respond(ctx context.Context, accept bool) error {
	if err := m.validate(); err != nil {
		return err
	}
	m.actionMu.Lock()
	defer m.actionMu.Unlock()
	if m.Snapshot().Status.Terminal() {
		return nil
	}
	matchID := m.resolveMatchID()
	if matchID == "" {
		return ErrUnresolvedNegotiation
	}
	if accept {
		if err := m.cfg.Service.AcceptMatch(ctx, matchID); err != nil {
			return errors.Wrapf(err, "error accepting match %s", matchID)
		}
		m.logger.Info("accepted match %s", matchID)
		m.commit(model.StatusAccepted, matchID)
		m.broadcast(protocol.Accept(matchID))
	} else {
		if err := m.cfg.Service.RejectMatch(ctx, matchID); err != nil {
			return errors.Wrapf(err, "error declining match %s", matchID)
		}
		m.logger.Info("declined match %s", matchID)
		m.commit(model.StatusRejected, matchID)
		m.broadcast(protocol.Decline(matchID))
	}
	m.reconcileAfter(ctx)
	return nil
}

// resolveMatchID takes the id of the most recent proposal received from
// someone else. A bare proposal falls back to the last known match id.
func (m *Machine) resolveMatchID() string {
	if m.cfg.History != nil {
		history := m.cfg.History()
		for i := len(history) - 1; i >= 0; i-- {
			msg := history[i]
			if msg.Type != model.TypeMatchRequest || msg.SenderID == m.cfg.Self {
				continue
			}
			if msg.CorrelationID != "" {
				return msg.CorrelationID
			}
			break
		}
	}
	return m.Snapshot().MatchID
}

// Reconcile replaces the local state with the server record. An empty
// record resets the negotiation to NONE. The result is discarded when a
// local action committed while the fetch was in flight.
func (m *Machine) Reconcile(ctx context.Context) error {
	if err := m.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.seq++
	started := m.seq
	m.mu.Unlock()

	rec, err := m.cfg.Service.MatchResult(ctx, m.cfg.Self, m.cfg.Counterpart)
	if err != nil {
		return errors.Wrap(err, "error fetching match result")
	}

	m.mu.Lock()
	if m.committed > started || m.applied > started {
		m.mu.Unlock()
		m.logger.Debug("discarding stale match result")
		return nil
	}
	m.applied = started
	rec.Status = model.ParseStatus(string(rec.Status))
	changed := m.state.Status != rec.Status || m.state.MatchID != rec.MatchID
	m.state.Status = rec.Status
	m.state.MatchID = rec.MatchID
	next := m.state
	m.mu.Unlock()
	if changed {
		m.notify(next)
	}
	return nil
}

// Observe applies an inbound negotiation message from the counterpart to
// the local state. It reports whether the state changed; the server record
// is authoritative and callers are expected to reconcile afterwards.
func (m *Machine) Observe(msg model.Message) bool {
	if msg.SenderID == m.cfg.Self || msg.CorrelationID == "" {
		return false
	}
	var next model.Status
	switch msg.Type {
	case model.TypeMatchRequest:
		next = model.StatusPending
	case model.TypeMatchAccept:
		next = model.StatusAccepted
	case model.TypeMatchDecline:
		next = model.StatusRejected
	default:
		return false
	}
	cur := m.Snapshot()
	if cur.Status.Terminal() || (cur.Status == next && cur.MatchID == msg.CorrelationID) {
		return false
	}
	m.commit(next, msg.CorrelationID)
	return true
}
