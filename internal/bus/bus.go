// Package bus is the in-process message channel between the supervisor and
// the audio host. Messages are addressed envelopes; a request waits for one
// reply or times out, a notification is fire-and-forget.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout means no reply arrived in time.
	ErrTimeout = errors.New("bus: request timed out")
	// ErrNoReceiver means nothing is registered for the target.
	ErrNoReceiver = errors.New("bus: no receiver for target")
	// ErrClosed means the bus has been closed.
	ErrClosed = errors.New("bus: closed")
)

// DefaultMailboxSize is the buffer used by Register when size is not positive.
const DefaultMailboxSize = 64

// Message is an addressed envelope.
type Message struct {
	ID      string
	Target  string
	Action  string
	Payload any
}

// Envelope is a delivered message. Requests carry a reply slot; Respond on a
// notification is a no-op.
type Envelope struct {
	Message
	reply chan Reply
	once  *sync.Once
}

// Respond sends the reply. Only the first call has effect and it never blocks.
func (e Envelope) Respond(r Reply) {
	if e.reply == nil {
		return
	}
	e.once.Do(func() {
		e.reply <- r
	})
}

// IsRequest reports whether the sender is waiting for a reply.
func (e Envelope) IsRequest() bool {
	return e.reply != nil
}

// Bus routes envelopes to registered mailboxes.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	closed    bool
}

type mailbox struct {
	ch   chan Envelope
	done chan struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{mailboxes: make(map[string]*mailbox)}
}

// Register creates the mailbox for target, replacing any earlier one, and
// returns its channel plus a function that unregisters it.
func (b *Bus) Register(target string, size int) (<-chan Envelope, func()) {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	mb := &mailbox{ch: make(chan Envelope, size), done: make(chan struct{})}

	b.mu.Lock()
	if old, ok := b.mailboxes[target]; ok {
		close(old.done)
	}
	b.mailboxes[target] = mb
	b.mu.Unlock()

	var once sync.Once
	return mb.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if b.mailboxes[target] == mb {
				delete(b.mailboxes, target)
				close(mb.done)
			}
			b.mu.Unlock()
		})
	}
}

// HasReceiver reports whether target has a registered mailbox.
func (b *Bus) HasReceiver(target string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mailboxes[target]
	return ok
}

// Request delivers a message and waits up to timeout for its reply.
func (b *Bus) Request(ctx context.Context, target, action string, payload any, timeout time.Duration) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan Reply, 1)
	env := Envelope{
		Message: Message{ID: uuid.NewString(), Target: target, Action: action, Payload: payload},
		reply:   reply,
		once:    &sync.Once{},
	}

	mb, err := b.deliver(ctx, env)
	if err != nil {
		return Reply{}, err
	}

	select {
	case r := <-reply:
		return r, nil
	case <-mb.done:
		return Reply{}, fmt.Errorf("%s/%s: %w", target, action, ErrNoReceiver)
	case <-ctx.Done():
		return Reply{}, requestErr(ctx, target, action)
	}
}

// Notify delivers a message without waiting for a reply. It blocks only while
// the mailbox is full, and gives up when ctx is done.
func (b *Bus) Notify(ctx context.Context, target, action string, payload any) error {
	env := Envelope{Message: Message{ID: uuid.NewString(), Target: target, Action: action, Payload: payload}}
	_, err := b.deliver(ctx, env)
	return err
}

func (b *Bus) deliver(ctx context.Context, env Envelope) (*mailbox, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	mb, ok := b.mailboxes[env.Target]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", env.Target, env.Action, ErrNoReceiver)
	}

	select {
	case mb.ch <- env:
		return mb, nil
	case <-mb.done:
		return nil, fmt.Errorf("%s/%s: %w", env.Target, env.Action, ErrNoReceiver)
	case <-ctx.Done():
		return nil, requestErr(ctx, env.Target, env.Action)
	}
}

func requestErr(ctx context.Context, target, action string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s/%s: %w", target, action, ErrTimeout)
	}
	return fmt.Errorf("%s/%s: %w", target, action, ctx.Err())
}

// Close unregisters every mailbox; later sends fail with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for target, mb := range b.mailboxes {
		close(mb.done)
		delete(b.mailboxes, target)
	}
}
