package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// MessageType identifies the protocol operation a message carries.
type MessageType string

const (
	MsgPrepare    MessageType = "TRANSACTION_PREPARE"
	MsgCommit     MessageType = "TRANSACTION_COMMIT"
	MsgAbort      MessageType = "TRANSACTION_ABORT"
	MsgHealthPing MessageType = "HEALTH_PING"
)

// MessageID uniquely identifies one message.
type MessageID string

// NewMessageID generates a fresh message ID.
func NewMessageID() MessageID {
	return MessageID(uuid.NewString())
}

// Message is one request sent through the substrate.
type Message struct {
	ID        MessageID       `json:"id"`
	From      topology.NodeID `json:"from"`
	To        topology.NodeID `json:"to"`
	Type      MessageType     `json:"type"`
	Payload   []byte          `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Priority  int             `json:"priority"`
}

// Response is the reply to one Message.
type Response struct {
	InReplyTo MessageID       `json:"in_reply_to"`
	From      topology.NodeID `json:"from"`
	OK        bool            `json:"ok"`
	Detail    string          `json:"detail,omitempty"`
	Payload   []byte          `json:"payload,omitempty"`
}

// Handler processes a message on behalf of a participant node.
type Handler func(msg Message) (Response, error)

// RPC is the messaging substrate the engine sends through. The engine treats
// it as opaque and reacts only to success, timeout, or error; timeouts come
// from the context deadline.
type RPC interface {
	Send(ctx context.Context, target topology.NodeID, msg Message) (Response, error)
}
