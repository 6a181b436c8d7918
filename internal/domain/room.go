package domain

import "strings"

type RoomID string

func ValidateRoomID(id RoomID) error {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return ErrRoomIDEmpty
	}
	if len(s) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}

// RoomInfo is the read-only summary exposed over the REST surface.
type RoomInfo struct {
	ID      RoomID `json:"room_id"`
	Members int    `json:"members"`
}
