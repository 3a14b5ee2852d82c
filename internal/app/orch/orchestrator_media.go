package orch

import (
	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/core"
	"github.com/dkeye/callrelay/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Offer, answer and candidate payloads are opaque here: they go to the peer
// byte for byte. Only the answer moves the phase.

func (o *Orchestrator) handleOffer(c *core.Client, uid domain.UserID, data []byte) {
	var p core.OfferPayload
	if err := core.Decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "orch").Stringer("uid", uid).Msg("bad offer payload")
		o.replyError(c, MsgInvalidFormat)
		return
	}
	s, peer, ok := o.lookupForward(c, uid, p.CallID, true)
	if !ok {
		return
	}
	if o.Options.StrictSDP {
		if err := core.CheckSessionDescription(p.Offer, webrtc.SDPTypeOffer); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("call_id", string(s.ID)).Msg("offer rejected")
			o.replyError(c, MsgInvalidOffer)
			return
		}
	}
	if s.Phase().Terminal() {
		return
	}
	o.deliver(peer, core.TypeOffer, core.Offer{Stamp: o.stamp(core.TypeOffer), CallID: s.ID, Offer: p.Offer})
}

func (o *Orchestrator) handleAnswer(c *core.Client, uid domain.UserID, data []byte) {
	var p core.AnswerPayload
	if err := core.Decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "orch").Stringer("uid", uid).Msg("bad answer payload")
		o.replyError(c, MsgInvalidFormat)
		return
	}
	s, peer, ok := o.lookupForward(c, uid, p.CallID, true)
	if !ok {
		return
	}
	if o.Options.StrictSDP {
		if err := core.CheckSessionDescription(p.Answer, webrtc.SDPTypeAnswer); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("call_id", string(s.ID)).Msg("answer rejected")
			o.replyError(c, MsgInvalidAnswer)
			return
		}
	}
	if err := s.Fire(app.EventAnswer); err != nil {
		// lost the race against end_call or a disconnect
		log.Debug().Err(err).Str("module", "orch").Str("call_id", string(s.ID)).Msg("answer dropped")
		return
	}
	s.StopTimer()
	o.deliver(peer, core.TypeAnswer, core.Answer{Stamp: o.stamp(core.TypeAnswer), CallID: s.ID, Answer: p.Answer})
}

func (o *Orchestrator) handleCandidate(c *core.Client, uid domain.UserID, data []byte) {
	var p core.ICECandidatePayload
	if err := core.Decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "orch").Stringer("uid", uid).Msg("bad candidate payload")
		o.replyError(c, MsgInvalidFormat)
		return
	}
	s, peer, ok := o.lookupForward(c, uid, p.CallID, false)
	if !ok {
		return
	}
	if o.Options.StrictSDP {
		if err := core.CheckCandidate(p.Candidate); err != nil {
			o.replyError(c, MsgInvalidCandidate)
			return
		}
	}
	if s.Phase().Terminal() {
		return
	}
	o.deliver(peer, core.TypeICECandidate, core.ICECandidate{Stamp: o.stamp(core.TypeICECandidate), CallID: s.ID, Candidate: p.Candidate})
}
