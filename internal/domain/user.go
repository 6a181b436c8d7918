// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxDisplayNameLen = 36
	MaxRoomIDLen      = 64
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrRoomIDEmpty        = errors.New("room id empty")
	ErrRoomIDTooLong      = errors.New("room id too long")
)

// Profile is what a participant declared at the checkpoint for one room.
type Profile struct {
	DisplayName string `json:"display_name"`
	MuteAudio   bool   `json:"mute_audio"`
	MuteVideo   bool   `json:"mute_video"`
}

// NewProfile is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewProfile(displayName string, muteAudio, muteVideo bool) (*Profile, error) {
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	return &Profile{DisplayName: displayName, MuteAudio: muteAudio, MuteVideo: muteVideo}, nil
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}

// Credentials maps each room a client checked into to the profile it declared.
// The signaling server trusts it as the client's identity.
type Credentials map[RoomID]Profile

func (c Credentials) For(room RoomID) (Profile, bool) {
	p, ok := c[room]
	return p, ok
}
