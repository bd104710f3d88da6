package hub

import (
	"encoding/json"

	"notehub/internal/presence"
)

// ─────────────────────────────────────────────────────────────
// Wire Messages (one JSON envelope type in both directions)
// ─────────────────────────────────────────────────────────────

type MessageType string

// Client to server.
const (
	MsgJoinPage         MessageType = "join-page"
	MsgLeavePage        MessageType = "leave-page"
	MsgDocumentFragment MessageType = "document-fragment"
	MsgPresenceUpdate   MessageType = "presence-update"
	MsgTypingStart      MessageType = "typing-start"
	MsgTypingStop       MessageType = "typing-stop"
	MsgHeartbeat        MessageType = "heartbeat"
)

// Server to client. Fragment and presence relays reuse the client
// message types above.
const (
	MsgSnapshot          MessageType = "snapshot"
	MsgMembershipChanged MessageType = "membership-changed"
	MsgSessionJoined     MessageType = "session-joined"
	MsgSessionLeft       MessageType = "session-left"
	MsgAccessDenied      MessageType = "access-denied"
)

// PresencePayload carries cursor/selection updates. A nil pointer means
// "leave unchanged"; the dedicated clear flags drop the value.
type PresencePayload struct {
	Cursor         *presence.Cursor    `json:"cursor,omitempty"`
	Selection      *presence.Selection `json:"selection,omitempty"`
	ClearCursor    bool                `json:"clearCursor,omitempty"`
	ClearSelection bool                `json:"clearSelection,omitempty"`
}

// Message is the envelope for every frame on the page channel. Fields
// are populated per type; unknown fields are ignored on decode.
type Message struct {
	Type     MessageType       `json:"type"`
	PageID   string            `json:"pageId,omitempty"`
	BlockID  string            `json:"blockId,omitempty"`
	Fragment json.RawMessage   `json:"fragment,omitempty"`
	Presence *PresencePayload  `json:"presence,omitempty"`
	Snapshot json.RawMessage   `json:"snapshot,omitempty"`
	Record   *presence.Record  `json:"record,omitempty"`
	Records  []presence.Record `json:"records,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

func encodeMessage(m Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// Message only holds marshalable fields.
		panic(err)
	}
	return data
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
