package agent

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Interview/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

type SubscriptionState int32

const (
	SubscriptionActive SubscriptionState = iota
	SubscriptionPaused
	SubscriptionDone
)

// FrameWriter consumes frames handed off by the agent. A returned error
// ends its subscription.
type FrameWriter interface {
	WriteFrame(peer domain.ParticipantID, track string, pkt *rtp.Packet) error
}

type FrameWriterFunc func(peer domain.ParticipantID, track string, pkt *rtp.Packet) error

func (f FrameWriterFunc) WriteFrame(peer domain.ParticipantID, track string, pkt *rtp.Packet) error {
	return f(peer, track, pkt)
}

type Subscription struct {
	writer FrameWriter
	state  atomic.Int32
}

func (s *Subscription) State() SubscriptionState { return SubscriptionState(s.state.Load()) }

func (s *Subscription) Pause() {
	s.state.CompareAndSwap(int32(SubscriptionActive), int32(SubscriptionPaused))
}

func (s *Subscription) Resume() {
	s.state.CompareAndSwap(int32(SubscriptionPaused), int32(SubscriptionActive))
}

// Cancel is final; the fan-out forgets the subscription on the next frame.
func (s *Subscription) Cancel() { s.state.Store(int32(SubscriptionDone)) }

// Fanout copies every received frame to its subscribers.
type Fanout struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func NewFanout() *Fanout {
	return &Fanout{subs: make(map[string]*Subscription)}
}

// Subscribe registers w under name, replacing any earlier subscriber of
// that name.
func (f *Fanout) Subscribe(name string, w FrameWriter) *Subscription {
	s := &Subscription{writer: w}
	f.mu.Lock()
	if old, ok := f.subs[name]; ok {
		old.Cancel()
	}
	f.subs[name] = s
	f.mu.Unlock()
	return s
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

func (f *Fanout) OnFrame(peer domain.ParticipantID, track string, pkt *rtp.Packet) {
	f.mu.RLock()
	snapshot := maps.Clone(f.subs)
	f.mu.RUnlock()

	var dirty []string
	for name, s := range snapshot {
		switch s.State() {
		case SubscriptionDone:
			dirty = append(dirty, name)
		case SubscriptionPaused:
		case SubscriptionActive:
			if err := s.writer.WriteFrame(peer, track, pkt); err != nil {
				log.Warn().Str("module", "agent.fanout").Str("subscriber", name).Err(err).Msg("write failed, dropping subscriber")
				s.Cancel()
				dirty = append(dirty, name)
			}
		}
	}
	if len(dirty) > 0 {
		f.cleanup(snapshot, dirty)
	}
}

// cleanup removes the listed subscriptions unless they were replaced in
// the meantime.
func (f *Fanout) cleanup(seen map[string]*Subscription, dirty []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range dirty {
		if f.subs[name] == seen[name] {
			delete(f.subs, name)
		}
	}
}

// Close cancels every subscription.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, s := range f.subs {
		s.Cancel()
		delete(f.subs, name)
	}
}
