package events

import (
	"sync"

	"github.com/eapache/queue"
)

// Kind names one of the independent event channels emitted by the probe backend.
type Kind string

const (
	KindLog      Kind = "log"
	KindStatus   Kind = "status"
	KindProgress Kind = "progress"
	KindError    Kind = "error"
)

// Kinds lists every channel in a stable order.
var Kinds = []Kind{KindLog, KindStatus, KindProgress, KindError}

// Progress is the payload carried on the progress channel.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Msg     *string `json:"msg,omitempty"`
}

// Event is a single message on one channel. Text is used by log, status and
// error; Progress only by the progress channel. RunID names the run that
// produced the event and is empty when the producer does not know it.
type Event struct {
	Kind     Kind
	RunID    string
	Text     string
	Progress Progress
}

// Source hands out subscriptions to one channel each.
type Source interface {
	Subscribe(kind Kind) *Subscription
}

// Publisher emits events to every current subscriber of the event's kind.
type Publisher interface {
	Publish(ev Event)
}

// Bus is an in-process fan-out of events. Publish never blocks the caller.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind]map[uint64]*Subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind]map[uint64]*Subscription)}
}

// Subscribe attaches a new subscriber to kind.
func (b *Bus) Subscribe(kind Kind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := newSubscription(b, kind, b.nextID)
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]*Subscription)
	}
	b.subs[kind][sub.id] = sub
	return sub
}

// Publish delivers ev to the subscribers attached at the time of the call.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[ev.Kind] {
		sub.push(ev)
	}
}

// Log, Status and Error are shorthands for Publish on their channels.
func (b *Bus) Log(msg string)    { b.Publish(Event{Kind: KindLog, Text: msg}) }
func (b *Bus) Status(msg string) { b.Publish(Event{Kind: KindStatus, Text: msg}) }
func (b *Bus) Error(msg string)  { b.Publish(Event{Kind: KindError, Text: msg}) }

// Progress publishes a progress message. An empty msg is sent as absent.
func (b *Bus) Progress(current, total int, msg string) {
	p := Progress{Current: current, Total: total}
	if msg != "" {
		p.Msg = &msg
	}
	b.Publish(Event{Kind: KindProgress, Progress: p})
}

// Subscribers reports how many subscribers are attached to kind.
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

func (b *Bus) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.subs[sub.kind]; m != nil {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(b.subs, sub.kind)
		}
	}
}

// Subscription is a single consumer's view of one channel. Messages are
// buffered in an unbounded FIFO so a slow consumer never stalls the producer.
type Subscription struct {
	bus  *Bus
	kind Kind
	id   uint64

	mu      sync.Mutex
	pending *queue.Queue
	closed  bool
	signal  chan struct{}

	out     chan Event
	done    chan struct{}
	release sync.Once
}

func newSubscription(b *Bus, kind Kind, id uint64) *Subscription {
	s := &Subscription{
		bus:     b,
		kind:    kind,
		id:      id,
		pending: queue.New(),
		signal:  make(chan struct{}, 1),
		out:     make(chan Event),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

// Kind returns the channel this subscription is attached to.
func (s *Subscription) Kind() Kind { return s.kind }

// C returns the delivery channel. It is closed after Release once the
// subscription stops delivering.
func (s *Subscription) C() <-chan Event { return s.out }

// Release detaches the subscription from the bus. Messages still buffered are
// discarded. Safe to call more than once.
func (s *Subscription) Release() {
	s.release.Do(func() {
		s.bus.detach(s)
		s.mu.Lock()
		s.closed = true
		for s.pending.Length() > 0 {
			s.pending.Remove()
		}
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending.Add(ev)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending.Length() == 0 {
		return Event{}, false
	}
	return s.pending.Remove().(Event), true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		ev, ok := s.next()
		if !ok {
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
