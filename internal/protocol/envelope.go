package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Interview/internal/domain"
	"github.com/pion/webrtc/v4"
)

type SignalKind string

const (
	KindOffer     SignalKind = "offer"
	KindAnswer    SignalKind = "answer"
	KindCandidate SignalKind = "new-ice-candidate"
)

var ErrUnknownSignal = errors.New("unknown signal type")

// Signal is one of Offer, Answer or CandidateSignal.
type Signal interface {
	Kind() SignalKind
	isSignal()
}

type Offer struct {
	Description webrtc.SessionDescription
}

type Answer struct {
	Description webrtc.SessionDescription
}

type CandidateSignal struct {
	Init webrtc.ICECandidateInit
}

func (Offer) Kind() SignalKind           { return KindOffer }
func (Answer) Kind() SignalKind          { return KindAnswer }
func (CandidateSignal) Kind() SignalKind { return KindCandidate }

func (Offer) isSignal()           {}
func (Answer) isSignal()          {}
func (CandidateSignal) isSignal() {}

// Envelope carries one signal from Sender to Target.
// The server only reads the addressing; the signal is opaque to it.
type Envelope struct {
	Sender domain.ParticipantID
	Target domain.ParticipantID
	Signal Signal
}

// wireSDP tolerates a missing or unknown sdp type; the envelope type decides.
type wireSDP struct {
	Type string `json:"type,omitempty"`
	SDP  string `json:"sdp"`
}

type wireEnvelope struct {
	Type      SignalKind               `json:"type"`
	Sender    domain.ParticipantID     `json:"sender_id"`
	Target    domain.ParticipantID     `json:"target_id"`
	SDP       *wireSDP                 `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{Sender: e.Sender, Target: e.Target}
	switch s := e.Signal.(type) {
	case Offer:
		w.Type, w.SDP = KindOffer, &wireSDP{Type: webrtc.SDPTypeOffer.String(), SDP: s.Description.SDP}
	case Answer:
		w.Type, w.SDP = KindAnswer, &wireSDP{Type: webrtc.SDPTypeAnswer.String(), SDP: s.Description.SDP}
	case CandidateSignal:
		c := s.Init
		w.Type, w.Candidate = KindCandidate, &c
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownSignal, e.Signal)
	}
	return json.Marshal(w)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Sender == "" || w.Target == "" {
		return fmt.Errorf("%w: envelope without addressing", ErrMalformedFrame)
	}
	var sig Signal
	switch w.Type {
	case KindOffer, KindAnswer:
		if w.SDP == nil || w.SDP.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrMalformedFrame, w.Type)
		}
		d := webrtc.SessionDescription{SDP: w.SDP.SDP}
		if w.Type == KindOffer {
			d.Type = webrtc.SDPTypeOffer
			sig = Offer{Description: d}
		} else {
			d.Type = webrtc.SDPTypeAnswer
			sig = Answer{Description: d}
		}
	case KindCandidate:
		if w.Candidate == nil {
			return fmt.Errorf("%w: candidate signal without candidate", ErrMalformedFrame)
		}
		sig = CandidateSignal{Init: *w.Candidate}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignal, w.Type)
	}
	*e = Envelope{Sender: w.Sender, Target: w.Target, Signal: sig}
	return nil
}
