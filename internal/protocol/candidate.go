package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
)

var ErrMalformedCandidate = errors.New("malformed ice candidate")

// Candidate is the structured form of an ICE candidate attribute line.
type Candidate struct {
	Foundation     string
	Component      uint16
	Protocol       string
	Priority       uint32
	Address        string
	Port           int
	Type           string
	RelatedAddress string
	RelatedPort    int
}

// ParseCandidate accepts the text form with or without the "candidate:" prefix.
func ParseCandidate(raw string) (Candidate, error) {
	value := strings.TrimPrefix(strings.TrimSpace(raw), "candidate:")
	if value == "" {
		return Candidate{}, fmt.Errorf("%w: empty", ErrMalformedCandidate)
	}
	c, err := ice.UnmarshalCandidate(value)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrMalformedCandidate, err)
	}
	out := Candidate{
		Foundation: c.Foundation(),
		Component:  c.Component(),
		Protocol:   c.NetworkType().NetworkShort(),
		Priority:   c.Priority(),
		Address:    c.Address(),
		Port:       c.Port(),
		Type:       c.Type().String(),
	}
	if rel := c.RelatedAddress(); rel != nil {
		out.RelatedAddress = rel.Address
		out.RelatedPort = rel.Port
	}
	return out, nil
}

func (c Candidate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidate:%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Protocol, c.Priority, c.Address, c.Port, c.Type)
	if c.RelatedAddress != "" {
		fmt.Fprintf(&b, " raddr %s rport %d", c.RelatedAddress, c.RelatedPort)
	}
	return b.String()
}
