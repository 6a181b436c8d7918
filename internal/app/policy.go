package app

import (
	"fmt"

	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a participant whose outbound queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, member core.Member) BackpressureAction
}

// KickPolicy disconnects the slow participant.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.RoomID, core.Member) BackpressureAction {
	return KickMember
}

// DropPolicy loses the frame and keeps the participant.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomID, core.Member) BackpressureAction {
	return DropFrame
}

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return KickPolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
