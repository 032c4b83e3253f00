package match

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/logger"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu       sync.Mutex
	calls    []string
	nextID   string
	record   model.MatchRecord
	fail     error
	resultFn func() (model.MatchRecord, error)
}

func (f *fakeService) called(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) ProposeMatch(ctx context.Context, proposer, target model.ID, message string) (string, error) {
	f.called("propose:" + proposer.String() + ">" + target.String())
	if f.fail != nil {
		return "", f.fail
	}
	return f.nextID, nil
}

func (f *fakeService) AcceptMatch(ctx context.Context, matchID string) error {
	f.called("accept:" + matchID)
	return f.fail
}

func (f *fakeService) RejectMatch(ctx context.Context, matchID string) error {
	f.called("reject:" + matchID)
	return f.fail
}

func (f *fakeService) MatchResult(ctx context.Context, self, counterpart model.ID) (model.MatchRecord, error) {
	f.called("result")
	if f.resultFn != nil {
		return f.resultFn()
	}
	return f.record, nil
}

type harness struct {
	svc     *fakeService
	mu      sync.Mutex
	sent    []protocol.Frame
	history []model.Message
	changes []model.Negotiation
}

func (h *harness) machine(self, counterpart model.ID) *Machine {
	return New(Config{
		Service:     h.svc,
		RoomID:      "9",
		Self:        self,
		Counterpart: counterpart,
		Broadcast: func(f protocol.Frame) bool {
			h.mu.Lock()
			h.sent = append(h.sent, f)
			h.mu.Unlock()
			return true
		},
		History: func() []model.Message {
			h.mu.Lock()
			defer h.mu.Unlock()
			return append([]model.Message(nil), h.history...)
		},
		OnChange: func(n model.Negotiation) {
			h.mu.Lock()
			h.changes = append(h.changes, n)
			h.mu.Unlock()
		},
		Logger: logger.NewTestLogger(),
	})
}

func msg(sender model.ID, content string) model.Message {
	return protocol.Annotate(model.Message{SenderID: sender, Content: content})
}

func TestProposeCommitsBroadcastsAndReconciles(t *testing.T) {
	h := &harness{svc: &fakeService{nextID: "31", record: model.MatchRecord{MatchID: "31", Status: model.StatusPending}}}
	m := h.machine("1", "2")

	require.NoError(t, m.Propose(context.Background()))
	assert.Equal(t, []string{"propose:1>2", "result"}, h.svc.Calls())
	require.Len(t, h.sent, 1)
	assert.Equal(t, model.TypeMatchRequest, h.sent[0].Type)
	assert.Equal(t, protocol.Classification{Type: model.TypeMatchRequest, CorrelationID: "31"}, protocol.Classify(h.sent[0].Content))
	assert.Equal(t, model.Negotiation{RoomID: "9", CounterpartID: "2", MatchID: "31", Status: model.StatusPending}, m.Snapshot())
}

func TestServerRecordWinsAfterAction(t *testing.T) {
	h := &harness{svc: &fakeService{nextID: "31", record: model.MatchRecord{MatchID: "31", Status: model.StatusAccepted}}}
	m := h.machine("1", "2")
	require.NoError(t, m.Propose(context.Background()))
	assert.Equal(t, model.StatusAccepted, m.Snapshot().Status)
}

func TestAcceptUsesLatestIncomingRequest(t *testing.T) {
	h := &harness{svc: &fakeService{record: model.MatchRecord{MatchID: "40", Status: model.StatusAccepted}}}
	h.history = []model.Message{
		msg("2", "[[MATCH_REQUEST#12]] old"),
		msg("1", "[[MATCH_REQUEST#77]] mine"),
		msg("2", "[[MATCH_REQUEST#40]] new"),
		msg("2", "just text"),
	}
	m := h.machine("1", "2")

	require.NoError(t, m.Accept(context.Background()))
	assert.Equal(t, []string{"accept:40", "result"}, h.svc.Calls())
	require.Len(t, h.sent, 1)
	assert.Equal(t, model.TypeMatchAccept, h.sent[0].Type)
	assert.Contains(t, h.sent[0].Content, "[[MATCH_ACCEPT#40]]")
	assert.Equal(t, model.StatusAccepted, m.Snapshot().Status)
}

func TestBareIncomingRequestUsesKnownMatchID(t *testing.T) {
	h := &harness{svc: &fakeService{record: model.MatchRecord{MatchID: "40", Status: model.StatusPending}}}
	h.history = []model.Message{
		msg("2", "[[MATCH_REQUEST#12]] earlier"),
		msg("2", "[[MATCH_REQUEST]] again"),
	}
	m := h.machine("1", "2")
	require.NoError(t, m.Reconcile(context.Background()))

	h.svc.record = model.MatchRecord{MatchID: "40", Status: model.StatusAccepted}
	require.NoError(t, m.Accept(context.Background()))
	assert.Equal(t, []string{"result", "accept:40", "result"}, h.svc.Calls())
	assert.Contains(t, h.sent[0].Content, "[[MATCH_ACCEPT#40]]")
}

func TestEmptyServerRecordNormalisesToNone(t *testing.T) {
	h := &harness{svc: &fakeService{}}
	m := h.machine("1", "2")
	require.NoError(t, m.Reconcile(context.Background()))
	assert.Equal(t, model.StatusNone, m.Snapshot().Status)

	h.svc.record = model.MatchRecord{MatchID: "3", Status: "DECLINED"}
	require.NoError(t, m.Reconcile(context.Background()))
	assert.Equal(t, model.StatusRejected, m.Snapshot().Status)
}

func TestDeclineFallsBackToKnownMatchID(t *testing.T) {
	h := &harness{svc: &fakeService{record: model.MatchRecord{MatchID: "5", Status: model.StatusPending}}}
	m := h.machine("1", "2")
	require.NoError(t, m.Reconcile(context.Background()))
	assert.Equal(t, "5", m.Snapshot().MatchID)

	h.svc.record = model.MatchRecord{MatchID: "5", Status: model.StatusRejected}
	require.NoError(t, m.Decline(context.Background()))
	assert.Equal(t, []string{"result", "reject:5", "result"}, h.svc.Calls())
	assert.Equal(t, model.StatusRejected, m.Snapshot().Status)
	assert.Contains(t, h.sent[0].Content, "[[MATCH_DECLINE#5]]")
}

func TestUnresolvedNegotiation(t *testing.T) {
	h := &harness{svc: &fakeService{}}
	h.history = []model.Message{msg("1", "[[MATCH_REQUEST#3]] mine"), msg("2", "[[MATCH_REQUEST]]")}
	m := h.machine("1", "2")

	for _, action := range []func(context.Context) error{m.Accept, m.Decline} {
		err := action(context.Background())
		assert.ErrorIs(t, err, ErrUnresolvedNegotiation)
	}
	assert.Empty(t, h.svc.Calls())
	assert.Empty(t, h.sent)
	assert.Equal(t, model.StatusNone, m.Snapshot().Status)
}

func TestTerminalActionsAreNoOps(t *testing.T) {
	h := &harness{svc: &fakeService{record: model.MatchRecord{MatchID: "8", Status: model.StatusAccepted}}}
	m := h.machine("1", "2")
	require.NoError(t, m.Reconcile(context.Background()))

	require.NoError(t, m.Propose(context.Background()))
	require.NoError(t, m.Accept(context.Background()))
	require.NoError(t, m.Decline(context.Background()))
	assert.Equal(t, []string{"result"}, h.svc.Calls())
	assert.Empty(t, h.sent)
	assert.Equal(t, model.StatusAccepted, m.Snapshot().Status)

	// the server can still move a terminal negotiation
	h.svc.record = model.MatchRecord{}
	require.NoError(t, m.Reconcile(context.Background()))
	assert.Equal(t, model.Negotiation{RoomID: "9", CounterpartID: "2", Status: model.StatusNone}, m.Snapshot())
}

func TestNetworkFailureLeavesStateUnchanged(t *testing.T) {
	boom := errors.New("connection refused")
	h := &harness{svc: &fakeService{fail: boom}}
	h.history = []model.Message{msg("2", "[[MATCH_REQUEST#4]]")}
	m := h.machine("1", "2")

	err := m.Propose(context.Background())
	require.ErrorIs(t, err, boom)
	err = m.Accept(context.Background())
	require.ErrorIs(t, err, boom)
	err = m.Decline(context.Background())
	require.ErrorIs(t, err, boom)

	assert.Equal(t, model.StatusNone, m.Snapshot().Status)
	assert.Empty(t, m.Snapshot().MatchID)
	assert.Empty(t, h.sent)
	assert.Empty(t, h.changes)
}

func TestValidationBeforeNetwork(t *testing.T) {
	h := &harness{svc: &fakeService{}}
	for _, m := range []*Machine{h.machine("", "2"), h.machine("1", "")} {
		assert.ErrorIs(t, m.Propose(context.Background()), ErrValidation)
		assert.ErrorIs(t, m.Accept(context.Background()), ErrValidation)
		assert.ErrorIs(t, m.Decline(context.Background()), ErrValidation)
		assert.ErrorIs(t, m.Reconcile(context.Background()), ErrValidation)
	}
	assert.Empty(t, h.svc.Calls())
}

func TestStaleReconcileIsDiscarded(t *testing.T) {
	h := &harness{svc: &fakeService{nextID: "31"}}
	m := h.machine("1", "2")

	entered := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	h.svc.resultFn = func() (model.MatchRecord, error) {
		stale := false
		first.Do(func() { stale = true })
		if stale {
			close(entered)
			<-release
			return model.MatchRecord{}, nil
		}
		return model.MatchRecord{MatchID: "31", Status: model.StatusPending}, nil
	}

	done := make(chan error)
	go func() { done <- m.Reconcile(context.Background()) }()
	<-entered
	require.NoError(t, m.Propose(context.Background()))
	close(release)
	require.NoError(t, <-done)

	// the reconcile that started before the proposal does not reset it
	assert.Equal(t, model.StatusPending, m.Snapshot().Status)
	assert.Equal(t, "31", m.Snapshot().MatchID)
}

func TestObserve(t *testing.T) {
	h := &harness{svc: &fakeService{}}
	m := h.machine("1", "2")

	assert.False(t, m.Observe(msg("2", "hello")))
	assert.False(t, m.Observe(msg("1", "[[MATCH_REQUEST#3]]")))
	assert.False(t, m.Observe(msg("2", "[[MATCH_REQUEST]]")))

	assert.True(t, m.Observe(msg("2", "[[MATCH_REQUEST#3]] hi")))
	assert.Equal(t, model.Negotiation{RoomID: "9", CounterpartID: "2", MatchID: "3", Status: model.StatusPending}, m.Snapshot())
	assert.False(t, m.Observe(msg("2", "[[MATCH_REQUEST#3]] again")))

	assert.True(t, m.Observe(msg("2", "[[MATCH_DECLINE#3]]")))
	assert.Equal(t, model.StatusRejected, m.Snapshot().Status)
	// terminal
	assert.False(t, m.Observe(msg("2", "[[MATCH_REQUEST#4]]")))
	assert.Len(t, h.changes, 2)
	assert.Empty(t, h.svc.Calls())
}

func TestActionsAreSerialised(t *testing.T) {
	h := &harness{svc: &fakeService{nextID: "1", record: model.MatchRecord{MatchID: "1", Status: model.StatusPending}}}
	m := h.machine("1", "2")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Propose(context.Background()))
		}()
	}
	wg.Wait()
	calls := h.svc.Calls()
	require.Len(t, calls, 8)
	for i := 0; i < len(calls); i += 2 {
		assert.Equal(t, "propose:1>2", calls[i])
		assert.Equal(t, "result", calls[i+1])
	}
}
