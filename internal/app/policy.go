package app

import "github.com/dkeye/callrelay/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickPeer
)

// Policy decides what happens to a peer whose outbound queue is full.
// The frame itself is never retried.
type Policy interface {
	OnBackPressure(c *core.Client) BackpressureAction
}

type SimplePolicy struct {
	KickSlow bool
}

func (p SimplePolicy) OnBackPressure(_ *core.Client) BackpressureAction {
	if p.KickSlow {
		return KickPeer
	}
	return DropFrame
}
