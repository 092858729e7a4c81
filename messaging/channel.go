package messaging

import (
	"errors"
	"sync"

	"voucherpoint/models"
)

var (
	// ErrNotReady is returned by Send before a counterpart is addressable.
	// The channel never buffers or retries; the caller holds the message.
	ErrNotReady = errors.New("messaging: no addressable counterpart yet")
	// ErrNoCounterpart is returned when the counterpart has gone away
	ErrNoCounterpart = errors.New("messaging: counterpart closed")
	// ErrOriginMismatch is returned when a second peer tries to claim an
	// already-pinned channel
	ErrOriginMismatch = errors.New("messaging: peer origin mismatch")
)

// Channel is a scoped point-to-point link between the two terminals. Exactly
// one handler receives inbound messages; messages that fail boundary
// validation never reach it.
type Channel interface {
	Send(env models.Envelope) error
	OnMessage(handler func(models.Envelope))
	Close() error
}

// pipeEnd is an in-process channel end used by tests and single-process
// deployments. Delivery is serialized per end to preserve ordering.
type pipeEnd struct {
	mu      sync.Mutex
	handler func(models.Envelope)
	peer    *pipeEnd
	inbox   chan models.Envelope
	done    chan struct{}
	closed  bool
}

// Pipe returns two connected in-process channel ends
func Pipe() (Channel, Channel) {
	a := &pipeEnd{inbox: make(chan models.Envelope, 16), done: make(chan struct{})}
	b := &pipeEnd{inbox: make(chan models.Envelope, 16), done: make(chan struct{})}
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

func (p *pipeEnd) pump() {
	for {
		select {
		case env := <-p.inbox:
			p.mu.Lock()
			h := p.handler
			p.mu.Unlock()
			if h != nil {
				h(env)
			}
		case <-p.done:
			return
		}
	}
}

func (p *pipeEnd) Send(env models.Envelope) error {
	if env.Scope != models.Scope {
		env.Scope = models.Scope
	}
	peer := p.peer
	peer.mu.Lock()
	closed := peer.closed
	peer.mu.Unlock()
	if closed {
		return ErrNoCounterpart
	}
	select {
	case peer.inbox <- env:
		return nil
	case <-peer.done:
		return ErrNoCounterpart
	}
}

func (p *pipeEnd) OnMessage(handler func(models.Envelope)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

func (p *pipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}
