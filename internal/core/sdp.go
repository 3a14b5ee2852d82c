package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrInvalidSignal = errors.New("invalid signaling payload")

// CheckSessionDescription makes sure raw is a session description of type
// want whose SDP body parses. The payload itself is never rewritten.
func CheckSessionDescription(raw json.RawMessage, want webrtc.SDPType) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if desc.Type != want {
		return fmt.Errorf("%w: sdp type %q, want %q", ErrInvalidSignal, desc.Type, want)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	return nil
}

// CheckCandidate makes sure raw decodes as an ICE candidate init.
// An empty candidate string is the end-of-candidates marker and is allowed.
func CheckCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	return nil
}
