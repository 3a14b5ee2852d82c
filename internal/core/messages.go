package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/callrelay/internal/domain"
)

type MessageType string

// Inbound.
const (
	TypeRegister     MessageType = "register"
	TypeCallRequest  MessageType = "call_request"
	TypeCallResponse MessageType = "call_response"
	TypeEndCall      MessageType = "end_call"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice_candidate"
	TypePing         MessageType = "ping"
)

// Outbound. Offer, answer and ice_candidate reuse the inbound names.
const (
	TypeRegistered   MessageType = "registered"
	TypeIncomingCall MessageType = "incoming_call"
	TypeCallFailed   MessageType = "call_failed"
	TypeCallAccepted MessageType = "call_accepted"
	TypeCallRejected MessageType = "call_rejected"
	TypeCallEnded    MessageType = "call_ended"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
)

const (
	ResponseAccept = "accept"
	ResponseReject = "reject"
)

// Envelope is decoded first to pick a handler.
type Envelope struct {
	Type MessageType `json:"type"`
}

type RegisterPayload struct {
	UserID *domain.UserID `json:"user_id" validate:"required"`
	Name   string         `json:"name,omitempty"`
}

type CallRequestPayload struct {
	CallID       domain.CallID    `json:"call_id" validate:"required,max=128"`
	TargetUserID *domain.UserID   `json:"target_user_id" validate:"required"`
	CallType     domain.MediaKind `json:"call_type" validate:"required,max=64"`
}

type CallResponsePayload struct {
	CallID   domain.CallID `json:"call_id" validate:"required"`
	Response string        `json:"response" validate:"required,oneof=accept reject"`
}

type EndCallPayload struct {
	CallID domain.CallID `json:"call_id" validate:"required"`
}

type OfferPayload struct {
	CallID domain.CallID   `json:"call_id" validate:"required"`
	Offer  json.RawMessage `json:"offer" validate:"present"`
}

type AnswerPayload struct {
	CallID domain.CallID   `json:"call_id" validate:"required"`
	Answer json.RawMessage `json:"answer" validate:"present"`
}

type ICECandidatePayload struct {
	CallID    domain.CallID   `json:"call_id" validate:"required"`
	Candidate json.RawMessage `json:"candidate" validate:"present"`
}

// Stamp is embedded in every outbound event.
type Stamp struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

func NewStamp(t MessageType, now time.Time) Stamp {
	return Stamp{Type: t, Timestamp: now.UnixMilli()}
}

type Registered struct {
	Stamp
	UserID domain.UserID `json:"user_id"`
}

type IncomingCall struct {
	Stamp
	CallID     domain.CallID    `json:"call_id"`
	CallerID   domain.UserID    `json:"caller_id"`
	CallType   domain.MediaKind `json:"call_type"`
	CallerInfo domain.User      `json:"caller_info"`
}

type CallFailed struct {
	Stamp
	CallID domain.CallID `json:"call_id"`
	Reason string        `json:"reason"`
}

// CallOutcome is used for call_accepted and call_rejected.
type CallOutcome struct {
	Stamp
	CallID domain.CallID `json:"call_id"`
}

type CallEnded struct {
	Stamp
	CallID domain.CallID `json:"call_id"`
	Reason string        `json:"reason"`
}

type Offer struct {
	Stamp
	CallID domain.CallID   `json:"call_id"`
	Offer  json.RawMessage `json:"offer"`
}

type Answer struct {
	Stamp
	CallID domain.CallID   `json:"call_id"`
	Answer json.RawMessage `json:"answer"`
}

type ICECandidate struct {
	Stamp
	CallID    domain.CallID   `json:"call_id"`
	Candidate json.RawMessage `json:"candidate"`
}

type Pong struct {
	Stamp
}

type Error struct {
	Stamp
	Message string `json:"message"`
}
