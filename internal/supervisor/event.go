package supervisor

import (
	"sync"

	"github.com/abgutierrez/buntime/internal/policy"
	"github.com/abgutierrez/buntime/internal/ringbuf"
)

// EventKind enumerates the event names the Supervisor emits (spec.md §4.7).
// Subscribers are expected to ignore kinds they don't recognize rather than
// error, so adding a new kind is never a breaking change.
type EventKind string

const (
	EventPolicyLoaded    EventKind = "policy-loaded"
	EventPolicySetLoaded EventKind = "policy-set-loaded"
	EventState           EventKind = "state"
	EventOutput          EventKind = "output"
	EventError           EventKind = "error"
	EventMemory          EventKind = "memory"
	EventSyscalls        EventKind = "syscalls"
	EventAuditEvents     EventKind = "audit-events"
	EventAuditReset      EventKind = "audit-reset"
)

// Event is a single tagged-union value dispatched through the Bus. It is a
// plain struct rather than an interface so broadcasting never allocates
// beyond the value itself: every field not relevant to Kind is left zero.
type Event struct {
	Kind EventKind

	Worker WorkerState
	Signal string

	// ExitCode is populated on the terminal "exec_end" state event that
	// follows an unexpected worker exit (spec.md §4.7's exit scenarios);
	// it is zero for every other event kind.
	ExitCode int

	Output []byte

	Message string

	Memory ringbuf.Stats

	Syscalls []string

	Audit []policy.AuditEvent

	PolicySource string
}

// Bus is an append-only subscriber list broadcasting Events in the order the
// Supervisor observed them. There is no per-subscriber back-pressure: a slow
// subscriber drops events rather than stalling the Supervisor (spec.md §5).
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel that receives every subsequent
// broadcast Event. The subscription never ends on its own; callers that stop
// reading simply stop receiving (events to that channel are dropped once its
// buffer is full).
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// broadcast publishes ev to every subscriber, dropping it for subscribers
// whose buffer is full rather than blocking the Supervisor's single
// cooperative loop.
func (b *Bus) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
