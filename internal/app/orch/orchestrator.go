package orch

import (
	"errors"
	"time"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/dkeye/callrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Error messages sent back to the sender.
const (
	MsgInvalidFormat    = "Invalid message format"
	MsgNotRegistered    = "Not registered"
	MsgUnknownType      = "Unknown message type"
	MsgCallNotFound     = "Call not found"
	MsgCallExists       = "Call already exists"
	MsgNotParticipant   = "Not a participant"
	MsgCallingSelf      = "Cannot call yourself"
	MsgOnlyCallee       = "Only the callee can respond"
	MsgNotRinging       = "Call is not ringing"
	MsgUsernameTooLong  = "Username too long"
	MsgSuperseded       = "Registered from another connection"
	MsgInvalidOffer     = "Invalid offer"
	MsgInvalidAnswer    = "Invalid answer"
	MsgInvalidCandidate = "Invalid candidate"
)

// Reasons carried by call_failed and call_ended.
const (
	ReasonNotOnline    = "User not online"
	ReasonRateLimited  = "Rate limited"
	ReasonEndedByPeer  = "Ended by peer"
	ReasonDisconnected = "User disconnected"
	ReasonNoAnswer     = "No answer"
)

type Options struct {
	// RingTimeout ends calls left ringing this long. Zero rings forever.
	RingTimeout time.Duration
	// CloseOnSupersede closes a connection whose identity registers again
	// from another connection.
	CloseOnSupersede bool
	// StrictSDP checks offer, answer and candidate payloads before forwarding.
	StrictSDP bool
}

// Orchestrator routes inbound signaling between the two sides of a call.
// It is safe for concurrent use by one reader goroutine per connection.
type Orchestrator struct {
	Registry *app.Registry
	Calls    *app.CallTable
	Policy   app.Policy
	Limiter  *app.CallRateLimiter
	Metrics  *metrics.Metrics
	Options  Options
	// Now stamps outbound events; time.Now when nil.
	Now func() time.Time
}

var knownTypes = map[core.MessageType]bool{
	core.TypeRegister:     true,
	core.TypeCallRequest:  true,
	core.TypeCallResponse: true,
	core.TypeEndCall:      true,
	core.TypeOffer:        true,
	core.TypeAnswer:       true,
	core.TypeICECandidate: true,
	core.TypePing:         true,
}

// OnMessage handles one inbound frame from c.
func (o *Orchestrator) OnMessage(c *core.Client, data []byte) {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", c.ConnID()).Msg("bad envelope")
		o.replyError(c, MsgInvalidFormat)
		return
	}
	if knownTypes[env.Type] {
		o.Metrics.MessagesTotal.WithLabelValues(string(env.Type)).Inc()
	} else {
		o.Metrics.MessagesTotal.WithLabelValues("unknown").Inc()
	}

	switch env.Type {
	case core.TypeRegister:
		o.handleRegister(c, data)
		return
	case core.TypePing:
		o.reply(c, core.Pong{Stamp: o.stamp(core.TypePong)})
		return
	}

	uid, ok := c.UserID()
	if !ok {
		o.replyError(c, MsgNotRegistered)
		return
	}

	switch env.Type {
	case core.TypeCallRequest:
		o.handleCallRequest(c, uid, data)
	case core.TypeCallResponse:
		o.handleCallResponse(c, uid, data)
	case core.TypeEndCall:
		o.handleEndCall(c, uid, data)
	case core.TypeOffer:
		o.handleOffer(c, uid, data)
	case core.TypeAnswer:
		o.handleAnswer(c, uid, data)
	case core.TypeICECandidate:
		o.handleCandidate(c, uid, data)
	default:
		log.Warn().Str("module", "orch").Str("type", string(env.Type)).Stringer("uid", uid).Msg("unknown signal")
		o.replyError(c, MsgUnknownType)
	}
}

func (o *Orchestrator) handleRegister(c *core.Client, data []byte) {
	var p core.RegisterPayload
	if err := core.Decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", c.ConnID()).Msg("bad register payload")
		o.replyError(c, MsgInvalidFormat)
		return
	}
	user, err := domain.NewUser(*p.UserID, p.Name)
	if err != nil {
		o.replyError(c, MsgUsernameTooLong)
		return
	}

	if prev, ok := c.UserID(); ok && prev != user.ID {
		o.release(c, prev, ReasonDisconnected)
	}
	c.Bind(user)

	if old := o.Registry.Register(user.ID, c); old != nil {
		o.supersede(old, user.ID)
	}
	o.Metrics.Connections.Set(float64(o.Registry.Count()))

	o.reply(c, core.Registered{Stamp: o.stamp(core.TypeRegistered), UserID: user.ID})
}

// supersede detaches uid from old, which lost it to a newer connection. If
// old has meanwhile moved on to another identity it is left alone.
func (o *Orchestrator) supersede(old *core.Client, uid domain.UserID) {
	if !old.UnbindIf(uid) {
		log.Debug().Str("module", "orch").Str("conn", old.ConnID()).Stringer("uid", uid).Msg("superseded connection already moved on")
		return
	}
	if o.Options.CloseOnSupersede {
		o.replyError(old, MsgSuperseded)
		old.Close()
	}
}

// OnDisconnect runs cleanup for a closed connection. It is idempotent.
func (o *Orchestrator) OnDisconnect(c *core.Client) {
	user, ok := c.Unbind()
	if !ok {
		log.Debug().Str("module", "orch").Str("conn", c.ConnID()).Msg("disconnect without identity")
		return
	}
	o.release(c, user.ID, ReasonDisconnected)
}

// release unbinds uid from c and ends every call uid takes part in. Nothing
// happens when uid has meanwhile been taken over by another connection.
func (o *Orchestrator) release(c *core.Client, uid domain.UserID, reason string) {
	if !o.Registry.Unregister(uid, c) {
		return
	}
	o.Limiter.Forget(uid)
	o.Metrics.Connections.Set(float64(o.Registry.Count()))

	for _, s := range o.Calls.CallsOf(uid) {
		if s.Abandon() {
			// the call_request handler still owns it and reports the failure
			continue
		}
		o.terminate(s, uid, reason, metrics.OutcomeDisconnected)
	}
}

// terminate ends s on behalf of by and tells the other side. It reports
// false when s was already finished by someone else.
func (o *Orchestrator) terminate(s *app.Session, by domain.UserID, reason, outcome string) bool {
	if err := s.Fire(app.EventEnd); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("call_id", string(s.ID)).Msg("end skipped")
		return false
	}
	if !o.Calls.Remove(s) {
		return false
	}
	o.finish(outcome)

	peer, _ := s.Peer(by)
	o.deliver(peer, core.TypeCallEnded, core.CallEnded{
		Stamp:  o.stamp(core.TypeCallEnded),
		CallID: s.ID,
		Reason: reason,
	})
	log.Info().Str("module", "orch").Str("call_id", string(s.ID)).Stringer("by", by).Str("reason", reason).Msg("call ended")
	return true
}

func (o *Orchestrator) finish(outcome string) {
	o.Metrics.CallsTotal.WithLabelValues(outcome).Inc()
	o.Metrics.CallsActive.Set(float64(o.Calls.Count()))
}

func (o *Orchestrator) phaseObserver(id domain.CallID) func(from, to domain.Phase) {
	return func(from, to domain.Phase) {
		o.Metrics.PhaseTransitions.WithLabelValues(string(from), string(to)).Inc()
		log.Debug().Str("module", "orch").Str("call_id", string(id)).Str("from", string(from)).Str("to", string(to)).Msg("phase")
	}
}

// deliver queues v for uid. Failures are counted and reported as false,
// never returned to the sender's connection.
func (o *Orchestrator) deliver(uid domain.UserID, t core.MessageType, v any) bool {
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("deliver encode")
		return false
	}
	c, err := o.Registry.Send(uid, f)
	if err == nil {
		return true
	}
	o.Metrics.DeliveryFailures.WithLabelValues(string(t)).Inc()
	log.Warn().Err(err).Str("module", "orch").Stringer("uid", uid).Str("type", string(t)).Msg("not delivered")

	if errors.Is(err, core.ErrBackpressure) && c != nil && o.Policy != nil {
		switch o.Policy.OnBackPressure(c) {
		case app.KickPeer:
			log.Warn().Str("module", "orch").Stringer("uid", uid).Str("conn", c.ConnID()).Msg("kicking slow peer")
			c.Close()
		case app.DropFrame, app.NoAction:
		}
	}
	return false
}

func (o *Orchestrator) reply(c *core.Client, v any) {
	f, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("reply encode")
		return
	}
	if err := c.Send(f); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", c.ConnID()).Msg("reply not delivered")
	}
}

func (o *Orchestrator) replyError(c *core.Client, msg string) {
	o.reply(c, core.Error{Stamp: o.stamp(core.TypeError), Message: msg})
}

func (o *Orchestrator) stamp(t core.MessageType) core.Stamp {
	return core.NewStamp(t, o.now())
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Stats returns the number of registered identities and tracked calls.
func (o *Orchestrator) Stats() (connections, calls int) {
	return o.Registry.Count(), o.Calls.Count()
}
