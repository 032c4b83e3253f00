package chat

import (
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/realtime"
)

// Listener is notified of changes to the open room. Callbacks run on the
// orchestrator's goroutines and must not block.
type Listener interface {
	// OnMessage is called for every live message, in arrival order
	OnMessage(msg model.Message)
	// OnNegotiation is called when the room's negotiation changes
	OnNegotiation(n model.Negotiation)
	// OnChannelState is called when the realtime channel changes state
	OnChannelState(state realtime.State)
}

// ListenerFuncs implements Listener with optional funcs.
type ListenerFuncs struct {
	OnMessageFunc      func(msg model.Message)
	OnNegotiationFunc  func(n model.Negotiation)
	OnChannelStateFunc func(state realtime.State)
}

var _ Listener = (*ListenerFuncs)(nil)

func (l *ListenerFuncs) OnMessage(msg model.Message) {
	if l.OnMessageFunc != nil {
		l.OnMessageFunc(msg)
	}
}

func (l *ListenerFuncs) OnNegotiation(n model.Negotiation) {
	if l.OnNegotiationFunc != nil {
		l.OnNegotiationFunc(n)
	}
}

func (l *ListenerFuncs) OnChannelState(state realtime.State) {
	if l.OnChannelStateFunc != nil {
		l.OnChannelStateFunc(state)
	}
}
