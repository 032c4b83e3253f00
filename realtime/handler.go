package realtime

// Handler receives the lifecycle callbacks of a Channel.
type Handler interface {
	// OnStateChange is called on every state transition
	OnStateChange(ch *Channel, state State)
	// OnError is called when the channel fails or drops an undecodable frame
	OnError(ch *Channel, err error)
}

// HandlerCallback implements Handler with optional funcs.
type HandlerCallback struct {
	OnStateChangeFunc func(ch *Channel, state State)
	OnErrorFunc       func(ch *Channel, err error)
}

var _ Handler = (*HandlerCallback)(nil)

func (h *HandlerCallback) OnStateChange(ch *Channel, state State) {
	if h.OnStateChangeFunc != nil {
		h.OnStateChangeFunc(ch, state)
	}
}

func (h *HandlerCallback) OnError(ch *Channel, err error) {
	if h.OnErrorFunc != nil {
		h.OnErrorFunc(ch, err)
	}
}
