package domain

import "time"

type (
	CallID    string
	MediaKind string
)

// Phase is the negotiation stage of a call.
type Phase string

const (
	PhaseRinging   Phase = "ringing"
	PhaseAccepted  Phase = "accepted"
	PhaseConnected Phase = "connected"
	PhaseRejected  Phase = "rejected"
	PhaseEnded     Phase = "ended"
)

// Terminal reports whether no further transition can leave p.
func (p Phase) Terminal() bool {
	return p == PhaseRejected || p == PhaseEnded
}

// Call holds the immutable facts of a call session.
type Call struct {
	ID        CallID
	CallerID  UserID
	TargetID  UserID
	MediaKind MediaKind
	CreatedAt time.Time
}

// Involves reports whether uid is one of the two participants.
func (c *Call) Involves(uid UserID) bool {
	return uid == c.CallerID || uid == c.TargetID
}

// Peer returns the participant other than uid. The second result is false
// when uid does not take part in the call.
func (c *Call) Peer(uid UserID) (UserID, bool) {
	switch uid {
	case c.CallerID:
		return c.TargetID, true
	case c.TargetID:
		return c.CallerID, true
	}
	return 0, false
}
