package chessdto

import "encoding/json"

// Inbound frame types.
const (
	TypeCreateSession = "create_session"
	TypeJoinSession   = "join_session"
	TypeSubmitMove    = "submit_move"
	TypeResign        = "resign"
	TypeOfferDraw     = "offer_draw"
	TypeAcceptDraw    = "accept_draw"
	TypeHeartbeat     = "heartbeat"
	TypeReconnect     = "reconnect"
	TypeObserve       = "observe"
	TypeSendChat      = "send_chat"
)

// Outbound frame types. Broadcasts go to every subscriber of a session; the
// rest are answered to the requesting connection only.
const (
	TypeSessionCreated     = "session_created"
	TypeSessionState       = "session_state"
	TypeSessionStarted     = "session_started"
	TypeMoveApplied        = "move_applied"
	TypeClockUpdate        = "clock_update"
	TypeInactivityAdvisory = "inactivity_advisory"
	TypeSessionConcluded   = "session_concluded"
	TypeDrawOffered        = "draw_offered"
	TypeChatMessage        = "chat_message"
	TypeMoveRejected       = "move_rejected"
	TypeRejected           = "rejected"
	TypeAdvisory           = "advisory"
)

// Inbound is a client request. The actor is taken from the authenticated
// connection, never from the frame.
type Inbound struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Move        string `json:"move,omitempty"`
	TimeControl int    `json:"time_control,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewOutbound encodes data into a frame.
func NewOutbound(typ, sessionID string, data any) (Outbound, error) {
	f := Outbound{Type: typ, SessionID: sessionID}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return f, err
	}
	f.Data = raw
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Outbound) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}
