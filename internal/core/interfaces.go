package core

import (
	"errors"

	"github.com/dkeye/Interview/internal/domain"
)

// ErrBackpressure is returned by TrySend when the outbound queue is full.
var ErrBackpressure = errors.New("backpressure")

// ErrConnectionClosed is returned by TrySend after Close.
var ErrConnectionClosed = errors.New("connection closed")

// Frame is one serialized signaling message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Member binds a joined participant and its transport endpoint.
// This is what a room stores and fans out to.
type Member struct {
	Participant domain.Participant
	Signal      SignalConnection
}

// PublishResult reports delivery stats/backpressure to the router.
type PublishResult struct {
	SentTo  int
	Dropped []Member
}
