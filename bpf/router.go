package bpf

// Handler consumes the events of one event channel. Ring buffer events are
// reported with cpu set to NoCPU.
type Handler interface {
	HandleEvent(cpu int, data []byte)
	HandleLost(cpu int, lost uint64)
}

// Router maps tokens back to the Handler of the channel they belong to.
//
// Channels carry a plain Token rather than a closure. Register a Handler to
// get the token to create the channel with, pass the Router's entry points as
// the channel callbacks, and Unregister once the channel is closed.
type Router struct {
	slots *Slots[Handler]
}

// NewRouter returns a Router serving up to capacity channels.
func NewRouter(capacity int) *Router {
	return &Router{
		slots: NewSlots[Handler](capacity),
	}
}

// Register reserves a token for h.
func (r *Router) Register(h Handler) (Token, error) {
	return r.slots.Put(h)
}

// Unregister releases tok. Close the channel using tok first.
func (r *Router) Unregister(tok Token) {
	r.slots.Remove(tok)
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	return r.slots.Len()
}

// Ring is the RingCallback entry point.
func (r *Router) Ring(tok Token, data []byte) {
	if h, ok := r.slots.Get(tok); ok {
		h.HandleEvent(NoCPU, data)
	}
}

// Sample is the PerfCallback entry point.
func (r *Router) Sample(tok Token, cpu int, data []byte) {
	if h, ok := r.slots.Get(tok); ok {
		h.HandleEvent(cpu, data)
	}
}

// Lost is the LostCallback entry point.
func (r *Router) Lost(tok Token, cpu int, lost uint64) {
	if h, ok := r.slots.Get(tok); ok {
		h.HandleLost(cpu, lost)
	}
}

// PerfCallbacks returns the entry points for a perf buffer channel.
func (r *Router) PerfCallbacks() PerfCallbacks {
	return PerfCallbacks{
		Sample: r.Sample,
		Lost:   r.Lost,
	}
}
