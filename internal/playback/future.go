package playback

// Ticket tracks the outcome of a single enqueued playback request.
//
// The done channel delivers at most one value: nil on natural completion or
// the device error that ended the request early. A ticket belonging to a
// queue that was stopped is abandoned and its channel never delivers;
// callers that need a bound must select against their own timeout or the
// queue's lifecycle context.
type Ticket struct {
	done chan error
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan error, 1)}
}

// Done returns the completion channel for this request.
func (t *Ticket) Done() <-chan error {
	return t.done
}

// deliver hands the outcome to the waiter. The buffered channel makes
// delivery non-blocking for the queue loop.
func (t *Ticket) deliver(err error) {
	t.done <- err
}
