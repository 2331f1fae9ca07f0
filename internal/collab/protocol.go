package collab

import (
	"encoding/json"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/crdt"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
)

// MessageType names a sync protocol message.
type MessageType string

const (
	// MsgSyncStep1 carries a participant's state vector.
	MsgSyncStep1 MessageType = "sync_step1"
	// MsgSyncStep2 answers step 1 with the operations the participant lacks.
	MsgSyncStep2 MessageType = "sync_step2"
	// MsgUpdate carries an incremental edit, in either direction.
	MsgUpdate MessageType = "update"
	// MsgAck confirms a persisted update with its room clock.
	MsgAck MessageType = "ack"
	// MsgAwareness is a presence heartbeat with display attributes.
	MsgAwareness MessageType = "awareness"
	// MsgError reports a rejected message.
	MsgError MessageType = "error"
)

// Message is the transport-agnostic envelope. Update holds an encoded
// crdt.Update.
type Message struct {
	Type        MessageType          `json:"type"`
	StateVector crdt.StateVector     `json:"state_vector,omitempty"`
	Update      json.RawMessage      `json:"update,omitempty"`
	Clock       int64                `json:"clock,omitempty"`
	Participant string               `json:"participant,omitempty"`
	Awareness   *presence.Attributes `json:"awareness,omitempty"`
	Error       *ErrorBody           `json:"error,omitempty"`
}

// ErrorBody is the payload of an error message.
type ErrorBody struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

// ErrorMessage converts err into an error message.
func ErrorMessage(err error) Message {
	return Message{
		Type:  MsgError,
		Error: &ErrorBody{Code: errs.CodeOf(err), Message: err.Error()},
	}
}
