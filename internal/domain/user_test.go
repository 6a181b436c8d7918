package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewProfile(t *testing.T) {
	p, err := NewProfile("Alice", true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DisplayName != "Alice" || !p.MuteAudio || p.MuteVideo {
		t.Fatalf("unexpected profile: %+v", p)
	}

	if _, err := NewProfile("", false, false); !errors.Is(err, ErrDisplayNameEmpty) {
		t.Fatalf("expected ErrDisplayNameEmpty, got %v", err)
	}
	if _, err := NewProfile(strings.Repeat("x", MaxDisplayNameLen+1), false, false); !errors.Is(err, ErrDisplayNameTooLong) {
		t.Fatalf("expected ErrDisplayNameTooLong, got %v", err)
	}
}

func TestValidateRoomID(t *testing.T) {
	cases := map[RoomID]error{
		"room-1":                                 nil,
		"   ":                                    ErrRoomIDEmpty,
		RoomID(strings.Repeat("r", MaxRoomIDLen+1)): ErrRoomIDTooLong,
	}
	for id, want := range cases {
		if err := ValidateRoomID(id); !errors.Is(err, want) {
			t.Errorf("ValidateRoomID(%q) = %v, want %v", id, err, want)
		}
	}
}

func TestCredentialsFor(t *testing.T) {
	creds := Credentials{"r1": {DisplayName: "Bob"}}
	if p, ok := creds.For("r1"); !ok || p.DisplayName != "Bob" {
		t.Fatalf("expected Bob for r1, got %+v %v", p, ok)
	}
	if _, ok := creds.For("r2"); ok {
		t.Fatal("expected no credential for r2")
	}
}
