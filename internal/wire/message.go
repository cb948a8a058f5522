package wire

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Message types exchanged between feed publishers, the tickerplant, and
// subscribers. Every frame on the wire carries exactly one Message.
const (
	TypeUpdate      = "update"      // publisher -> plant: rows for one table
	TypeSubscribe   = "subscribe"   // subscriber -> plant: table/sym filter
	TypeUnsubscribe = "unsubscribe" // subscriber -> plant: drop all interest
	TypeSnapshot    = "snapshot"    // plant -> subscriber: current rows, one per table
	TypePush        = "push"        // plant -> subscriber: filtered live rows
	TypeAck         = "ack"         // plant -> publisher: update applied
	TypeError       = "error"       // plant -> peer: request rejected
)

// Message is the single JSON envelope used on every connection.
// Rows stays raw so the plant can log and fan out update payloads without
// re-encoding them.
type Message struct {
	Type   string          `json:"type"`
	Table  string          `json:"table,omitempty"`
	Tables []string        `json:"tables,omitempty"`
	Syms   []string        `json:"syms,omitempty"`
	Rows   json.RawMessage `json:"rows,omitempty"`
	Seq    uint64          `json:"seq,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Encode serializes a message for framing.
func Encode(msg Message) ([]byte, error) {
	data, err := sonic.ConfigFastest.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "encode wire message")
	}
	return data, nil
}

// Decode parses one framed message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := sonic.ConfigFastest.Unmarshal(data, &msg); err != nil {
		return Message{}, errors.Wrap(err, "decode wire message")
	}
	if msg.Type == "" {
		return Message{}, errors.New("wire message missing type")
	}
	return msg, nil
}
