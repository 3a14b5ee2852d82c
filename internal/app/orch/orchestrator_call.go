package orch

import (
	"errors"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/dkeye/callrelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleCallRequest(c *core.Client, uid domain.UserID, data []byte) {
	var p core.CallRequestPayload
	if err := core.Decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "orch").Stringer("uid", uid).Msg("bad call_request payload")
		o.replyError(c, MsgInvalidFormat)
		return
	}
	target := *p.TargetUserID
	if target == uid {
		o.replyError(c, MsgCallingSelf)
		return
	}
	if !o.Limiter.Allow(uid) {
		o.reply(c, core.CallFailed{Stamp: o.stamp(core.TypeCallFailed), CallID: p.CallID, Reason: ReasonRateLimited})
		return
	}

	caller, ok := c.User()
	if !ok {
		o.replyError(c, MsgNotRegistered)
		return
	}
	s := app.NewSession(domain.Call{
		ID:        p.CallID,
		CallerID:  uid,
		TargetID:  target,
		MediaKind: p.CallType,
		CreatedAt: o.now(),
	}, o.phaseObserver(p.CallID))
	if err := o.Calls.Create(s); err != nil {
		o.replyError(c, MsgCallExists)
		return
	}
	o.Metrics.CallsActive.Set(float64(o.Calls.Count()))

	delivered := o.deliver(target, core.TypeIncomingCall, core.IncomingCall{
		Stamp:      o.stamp(core.TypeIncomingCall),
		CallID:     s.ID,
		CallerID:   uid,
		CallType:   s.MediaKind,
		CallerInfo: *caller,
	})
	abandoned := s.Settle()
	switch {
	case delivered && !abandoned:
		if d := o.Options.RingTimeout; d > 0 && s.Phase() == domain.PhaseRinging {
			s.ArmTimer(d, func() { o.expire(s) })
		}
		return
	case delivered:
		// offered, but a participant left before the handler finished
		if s.Fire(app.EventEnd) == nil && o.Calls.Remove(s) {
			o.finish(metrics.OutcomeDisconnected)
			ended := core.CallEnded{Stamp: o.stamp(core.TypeCallEnded), CallID: s.ID, Reason: ReasonDisconnected}
			o.reply(c, ended)
			o.deliver(target, core.TypeCallEnded, ended)
		}
		return
	}

	if s.Fire(app.EventEnd) == nil && o.Calls.Discard(s) {
		o.finish(metrics.OutcomeFailed)
	}
	o.reply(c, core.CallFailed{Stamp: o.stamp(core.TypeCallFailed), CallID: s.ID, Reason: ReasonNotOnline})
}

func (o *Orchestrator) handleCallResponse(c *core.Client, uid domain.UserID, data []byte) {
	var p core.CallResponsePayload
	if err := core.Decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "orch").Stringer("uid", uid).Msg("bad call_response payload")
		o.replyError(c, MsgInvalidFormat)
		return
	}
	s, err := o.Calls.Get(p.CallID)
	if err != nil {
		o.replyError(c, MsgCallNotFound)
		return
	}
	if uid != s.TargetID {
		if uid == s.CallerID {
			o.replyError(c, MsgOnlyCallee)
		} else {
			o.replyError(c, MsgNotParticipant)
		}
		return
	}

	switch p.Response {
	case core.ResponseAccept:
		if err := s.Fire(app.EventAccept); err != nil {
			o.replyError(c, MsgNotRinging)
			return
		}
		s.StopTimer()
		o.finish(metrics.OutcomeAccepted)
		o.deliver(s.CallerID, core.TypeCallAccepted, core.CallOutcome{Stamp: o.stamp(core.TypeCallAccepted), CallID: s.ID})
		log.Info().Str("module", "orch").Str("call_id", string(s.ID)).Msg("call accepted")
	case core.ResponseReject:
		if err := s.Fire(app.EventReject); err != nil {
			o.replyError(c, MsgNotRinging)
			return
		}
		if o.Calls.Remove(s) {
			o.finish(metrics.OutcomeRejected)
		}
		o.deliver(s.CallerID, core.TypeCallRejected, core.CallOutcome{Stamp: o.stamp(core.TypeCallRejected), CallID: s.ID})
		log.Info().Str("module", "orch").Str("call_id", string(s.ID)).Msg("call rejected")
	}
}

func (o *Orchestrator) handleEndCall(c *core.Client, uid domain.UserID, data []byte) {
	var p core.EndCallPayload
	if err := core.Decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "orch").Stringer("uid", uid).Msg("bad end_call payload")
		o.replyError(c, MsgInvalidFormat)
		return
	}
	s, err := o.Calls.Get(p.CallID)
	if err != nil {
		o.replyError(c, MsgCallNotFound)
		return
	}
	if !s.Involves(uid) {
		o.replyError(c, MsgNotParticipant)
		return
	}
	if !o.terminate(s, uid, ReasonEndedByPeer, metrics.OutcomeEnded) {
		o.replyError(c, MsgCallNotFound)
	}
}

// expire ends s if it is still ringing when the ring timer fires.
func (o *Orchestrator) expire(s *app.Session) {
	if err := s.Fire(app.EventTimeout); err != nil {
		return
	}
	if !o.Calls.Remove(s) {
		return
	}
	o.finish(metrics.OutcomeNoAnswer)
	log.Info().Str("module", "orch").Str("call_id", string(s.ID)).Msg("ring timeout")
	for _, uid := range []domain.UserID{s.CallerID, s.TargetID} {
		o.deliver(uid, core.TypeCallEnded, core.CallEnded{
			Stamp:  o.stamp(core.TypeCallEnded),
			CallID: s.ID,
			Reason: ReasonNoAnswer,
		})
	}
}

// lookupForward resolves the session and the peer for a forwarded signal.
// Ids removed recently are dropped quietly; quiet also applies to unknown
// ids when strict is false.
func (o *Orchestrator) lookupForward(c *core.Client, uid domain.UserID, id domain.CallID, strict bool) (*app.Session, domain.UserID, bool) {
	s, err := o.Calls.Get(id)
	if err != nil {
		if errors.Is(err, app.ErrCallGone) || !strict {
			log.Debug().Str("module", "orch").Str("call_id", string(id)).Stringer("uid", uid).Msg("late signal dropped")
			return nil, 0, false
		}
		o.replyError(c, MsgCallNotFound)
		return nil, 0, false
	}
	peer, ok := s.Peer(uid)
	if !ok {
		o.replyError(c, MsgNotParticipant)
		return nil, 0, false
	}
	return s, peer, true
}
