// Package events carries typed messages from worker goroutines to front ends.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/updatr/internal/activity"
	"github.com/loykin/updatr/internal/ansi"
	"github.com/loykin/updatr/internal/gitprobe"
)

const DefaultBuffer = 256

// Message is implemented by every event type.
type Message interface {
	Kind() string
}

type StatusReady struct {
	Status gitprobe.RepoStatus `json:"status"`
}

type OutputLine struct {
	Raw   string      `json:"raw"`
	Spans []ansi.Span `json:"spans"`
}

type OperationStarted struct {
	Name string `json:"name"`
}

type OperationFinished struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Summary string `json:"summary"`
}

type Notice struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type ActivityAdded struct {
	Entry activity.Entry `json:"entry"`
}

func (StatusReady) Kind() string       { return "status" }
func (OutputLine) Kind() string        { return "output" }
func (OperationStarted) Kind() string  { return "started" }
func (OperationFinished) Kind() string { return "finished" }
func (Notice) Kind() string            { return "notice" }
func (ActivityAdded) Kind() string     { return "activity" }

// Envelope is the wire form of a message.
type Envelope struct {
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
	Data Message   `json:"data"`
}

func Wrap(m Message) Envelope {
	return Envelope{Kind: m.Kind(), Time: time.Now(), Data: m}
}

// Subscription receives messages on C until it is closed.
type Subscription struct {
	C  <-chan Message
	ch chan Message
	b  *Broker

	// queued subscriptions buffer without limit and are fed by pump.
	queued bool
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Message
	ending bool
	quit   chan struct{}
	once   sync.Once
}

// Close unsubscribes and closes C. Messages still queued are discarded.
// It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
	if s.queued {
		s.stop()
	}
}

// Finish unsubscribes but lets C deliver every message published so far
// before it closes. The caller must keep reading C until it is closed.
func (s *Subscription) Finish() {
	if !s.queued {
		s.Close()
		return
	}
	s.b.detach(s)
	s.end()
}

func (s *Subscription) enqueue(m Message) {
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Subscription) end() {
	s.mu.Lock()
	s.ending = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.quit) })
	s.end()
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.ending {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		m := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- m:
		case <-s.quit:
			return
		}
	}
}

// Broker fans messages out to subscribers. Publish never blocks: a buffered
// subscriber whose buffer is full misses the message and the drop is counted,
// a queued subscriber keeps it until read.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Int64
	sent    atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given buffer size.
// A closed broker returns an already closed subscription.
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Message, buffer)
	s := &Subscription{C: ch, ch: ch, b: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// SubscribeQueued registers a subscriber that never misses a message. Its
// backlog grows without bound while C is not read.
func (b *Broker) SubscribeQueued() *Subscription {
	ch := make(chan Message)
	s := &Subscription{C: ch, ch: ch, b: b, queued: true, quit: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.end()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Broker) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		if !s.queued {
			close(s.ch)
		}
	}
}

// detach removes s without closing it.
func (b *Broker) detach(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *Broker) Publish(m Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if s.queued {
			s.enqueue(m)
			b.sent.Add(1)
			continue
		}
		select {
		case s.ch <- m:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// Close closes every subscription; later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		if s.queued {
			s.end()
		} else {
			close(s.ch)
		}
		delete(b.subs, s)
	}
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

// Delivered returns how many deliveries succeeded.
func (b *Broker) Delivered() int64 { return b.sent.Load() }
