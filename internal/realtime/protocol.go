package realtime

import "encoding/json"

// Client → server events.
const (
	EventAuthenticate       = "authenticate"
	EventSendJoinRequest    = "send_join_request"
	EventRespondJoinRequest = "respond_join_request"
	EventJoinProjectRoom    = "join_project_room"
	EventJoinProjectRoomAlt = "join-project-room" // legacy alias
	EventMessageSend        = "message:send"
	EventMessageEdit        = "message:edit"
	EventMessageDelete      = "message:delete"
	EventTypingUpdate       = "typing:update"
)

// Server → client events.
const (
	EventAuthenticated       = "authenticated"
	EventAuthError           = "auth_error"
	EventJoinRequestSent     = "join_request_sent"
	EventJoinRequestError    = "join_request_error"
	EventJoinResponseSent    = "join_response_sent"
	EventJoinResponseError   = "join_response_error"
	EventProjectRoomJoined   = "project_room_joined"
	EventProjectRoomError    = "project_room_error"
	EventNewJoinRequest      = "new_join_request"
	EventJoinRequestResponse = "join_request_response"
	EventTeamMemberJoined    = "team_member_joined"
	EventTeamMemberLeft      = "team_member_left"
	EventMessageNew          = "message:new"
	EventMessageEdited       = "message:edit"
	EventMessageDeleted      = "message:delete"
	EventMentionNotify       = "mention:notify"
	EventPresenceUpdate      = "presence:update"
	EventAck                 = "ack"
)

// Frame is the wire envelope for both directions. CallbackID, when set
// on an inbound frame, asks for an ack frame echoing the same ID.
type Frame struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
	CallbackID string          `json:"callback_id,omitempty"`
}

// ErrorPayload is the body of every *_error event.
type ErrorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// AckPayload answers callback-style requests (message:send and friends).
type AckPayload struct {
	CallbackID string      `json:"callback_id"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Message    string      `json:"message,omitempty"`
	Retryable  bool        `json:"retryable,omitempty"`
}

// Encode marshals an event frame for the wire.
func Encode(event string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
