package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/teamboard/backend/internal/realtime"
	"github.com/teamboard/backend/internal/services"
	"github.com/teamboard/backend/internal/utils"
	"github.com/teamboard/backend/pkg/logger"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

const socketReadTimeout = 60 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for the socket endpoint is enforced at the proxy.
		return true
	},
}

// SocketHandler owns the websocket endpoint: it upgrades connections,
// authenticates them, and routes event frames to the domain services.
// A socket is useless until an authenticate frame carries a valid JWT;
// the bound identity comes from the token, never from the client.
type SocketHandler struct {
	hub          *realtime.Hub
	joinRequests *services.JoinRequestService
	chat         *services.ChatService
	db           *gorm.DB
}

func NewSocketHandler(db *gorm.DB, hub *realtime.Hub, joinRequests *services.JoinRequestService, chat *services.ChatService) *SocketHandler {
	return &SocketHandler{
		hub:          hub,
		joinRequests: joinRequests,
		chat:         chat,
		db:           db,
	}
}

// Handle upgrades the request and processes frames until disconnect
// GET /ws
func (h *SocketHandler) Handle(c *gin.Context) {
	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	conn := realtime.NewConnection(ws)
	h.hub.Attach(conn)
	defer func() {
		userID := h.hub.UserID(conn)
		h.hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
		if userID != 0 && !h.hub.UserOnline(userID) {
			h.broadcastPresence(userID, false)
		}
	}()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(socketReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(socketReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
				errors.Is(err, websocket.ErrCloseSent) {
				return
			}
			return
		}

		var frame realtime.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(conn, realtime.EventAck, "invalid frame", false)
			continue
		}

		h.dispatch(conn, &frame)
	}
}

func (h *SocketHandler) dispatch(conn *realtime.Connection, frame *realtime.Frame) {
	if frame.Event == realtime.EventAuthenticate {
		h.handleAuthenticate(conn, frame)
		return
	}

	userID := h.hub.UserID(conn)
	if userID == 0 {
		h.sendError(conn, realtime.EventAuthError, "not authenticated", false)
		return
	}

	switch frame.Event {
	case realtime.EventSendJoinRequest:
		h.handleSendJoinRequest(conn, userID, frame)
	case realtime.EventRespondJoinRequest:
		h.handleRespondJoinRequest(conn, userID, frame)
	case realtime.EventJoinProjectRoom, realtime.EventJoinProjectRoomAlt:
		h.handleJoinProjectRoom(conn, userID, frame)
	case realtime.EventMessageSend:
		h.handleMessageSend(conn, userID, frame)
	case realtime.EventMessageEdit:
		h.handleMessageEdit(conn, userID, frame)
	case realtime.EventMessageDelete:
		h.handleMessageDelete(conn, userID, frame)
	case realtime.EventTypingUpdate:
		h.handleTyping(userID, frame)
	default:
		h.sendError(conn, realtime.EventAck, "unknown event: "+frame.Event, false)
	}
}

type authenticatePayload struct {
	Token string `json:"token"`
}

func (h *SocketHandler) handleAuthenticate(conn *realtime.Connection, frame *realtime.Frame) {
	var payload authenticatePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.Token == "" {
		h.sendError(conn, realtime.EventAuthError, "token is required", false)
		return
	}

	claims, err := utils.ParseToken(payload.Token)
	if err != nil {
		h.sendError(conn, realtime.EventAuthError, "invalid or expired token", false)
		return
	}

	wasOnline := h.hub.UserOnline(claims.UserID)
	h.hub.Bind(conn, claims.UserID)

	// Every room the user already belongs to is joined up front, so
	// project broadcasts reach them without an explicit join frame.
	rooms, err := realtime.RoomsForUser(h.db, claims.UserID)
	if err != nil {
		logger.Error().Err(err).Uint("user_id", claims.UserID).Msg("resolve rooms on authenticate")
	} else {
		for _, room := range rooms.ProjectRooms {
			h.hub.Join(room, conn)
		}
	}

	h.sendEvent(conn, realtime.EventAuthenticated, gin.H{
		"user_id":  claims.UserID,
		"username": claims.Username,
		"room":     realtime.PersonalRoom(claims.UserID),
	})

	if !wasOnline {
		h.broadcastPresence(claims.UserID, true)
	}
}

// Inbound payloads accept both the snake_case keys the rest of the wire
// uses and the camelCase spellings older clients emit.
type sendJoinRequestPayload struct {
	ProjectID      uint   `json:"project_id"`
	ProjectIDCamel uint   `json:"projectId"`
	Message        string `json:"message"`
}

func (h *SocketHandler) handleSendJoinRequest(conn *realtime.Connection, userID uint, frame *realtime.Frame) {
	var payload sendJoinRequestPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		h.sendError(conn, realtime.EventJoinRequestError, "project_id is required", false)
		return
	}
	projectID := payload.ProjectID
	if projectID == 0 {
		projectID = payload.ProjectIDCamel
	}
	if projectID == 0 {
		h.sendError(conn, realtime.EventJoinRequestError, "project_id is required", false)
		return
	}

	request, err := h.joinRequests.Create(projectID, userID, payload.Message)
	if err != nil {
		h.sendError(conn, realtime.EventJoinRequestError, err.Error(), response.IsRetryable(err))
		return
	}

	h.sendEvent(conn, realtime.EventJoinRequestSent, gin.H{
		"request_id":    request.ID,
		"project_id":    request.ProjectID,
		"project_title": request.Project.Title,
		"status":        request.Status,
	})
}

type respondJoinRequestPayload struct {
	RequestID      uint   `json:"request_id"`
	RequestIDCamel uint   `json:"requestId"`
	Action         string `json:"action"`
	Approve        *bool  `json:"approve"`
	Note           string `json:"note"`
	Message        string `json:"message"`
}

// resolve normalizes the two accepted shapes: {request_id, approve, note}
// and {requestId, action: approve|reject, message}. The action enum wins
// when both are present.
func (p *respondJoinRequestPayload) resolve() (requestID uint, approve bool, note string, err error) {
	requestID = p.RequestID
	if requestID == 0 {
		requestID = p.RequestIDCamel
	}
	if requestID == 0 {
		return 0, false, "", errors.New("request_id is required")
	}

	switch p.Action {
	case "approve":
		approve = true
	case "reject":
	case "":
		if p.Approve == nil {
			return 0, false, "", errors.New("action must be approve or reject")
		}
		approve = *p.Approve
	default:
		return 0, false, "", errors.New("action must be approve or reject")
	}

	note = p.Note
	if note == "" {
		note = p.Message
	}
	return requestID, approve, note, nil
}

func (h *SocketHandler) handleRespondJoinRequest(conn *realtime.Connection, userID uint, frame *realtime.Frame) {
	var payload respondJoinRequestPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		h.sendError(conn, realtime.EventJoinResponseError, "request_id is required", false)
		return
	}
	requestID, approve, note, err := payload.resolve()
	if err != nil {
		h.sendError(conn, realtime.EventJoinResponseError, err.Error(), false)
		return
	}

	result, err := h.joinRequests.Respond(requestID, userID, approve, note)
	if err != nil {
		h.sendError(conn, realtime.EventJoinResponseError, err.Error(), response.IsRetryable(err))
		return
	}

	action := "reject"
	if result.Approved {
		action = "approve"
	}
	h.sendEvent(conn, realtime.EventJoinResponseSent, gin.H{
		"request_id":     result.Request.ID,
		"project_id":     result.Request.ProjectID,
		"project_title":  result.Project.Title,
		"requester_name": result.Requester.DisplayName(),
		"action":         action,
		"status":         result.Request.Status,
	})
}

type joinProjectRoomPayload struct {
	ProjectID      uint `json:"project_id"`
	ProjectIDCamel uint `json:"projectId"`
}

// parseProjectID accepts {"project_id": 7}, {"projectId": 7}, a bare 7,
// and a bare "7"; older clients emit all of these shapes.
func parseProjectID(data json.RawMessage) uint {
	var payload joinProjectRoomPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.ProjectID != 0 {
			return payload.ProjectID
		}
		if payload.ProjectIDCamel != 0 {
			return payload.ProjectIDCamel
		}
	}
	var n uint
	if err := json.Unmarshal(data, &n); err == nil && n != 0 {
		return n
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if id, err := strconv.ParseUint(s, 10, 32); err == nil {
			return uint(id)
		}
	}
	return 0
}

func (h *SocketHandler) handleJoinProjectRoom(conn *realtime.Connection, userID uint, frame *realtime.Frame) {
	projectID := parseProjectID(frame.Data)
	if projectID == 0 {
		h.sendError(conn, realtime.EventProjectRoomError, "project_id is required", false)
		return
	}

	ok, err := realtime.IsProjectCollaborator(h.db, projectID, userID)
	if err != nil {
		h.sendError(conn, realtime.EventProjectRoomError, "project not found", false)
		return
	}
	if !ok {
		h.sendError(conn, realtime.EventProjectRoomError, "not a member of this project", false)
		return
	}

	room := realtime.ProjectRoom(projectID)
	h.hub.Join(room, conn)
	h.sendEvent(conn, realtime.EventProjectRoomJoined, gin.H{
		"project_id": projectID,
		"room":       room,
	})
}

func (h *SocketHandler) handleMessageSend(conn *realtime.Connection, userID uint, frame *realtime.Frame) {
	var in services.SendMessageInput
	if err := json.Unmarshal(frame.Data, &in); err != nil || in.ProjectID == 0 {
		h.ack(conn, frame.CallbackID, nil, response.NewBadRequest("project_id is required"))
		return
	}

	message, err := h.chat.Send(userID, &in)
	h.ack(conn, frame.CallbackID, message, err)
}

type editMessagePayload struct {
	ProjectID uint   `json:"project_id"`
	MessageID uint   `json:"message_id"`
	Content   string `json:"content"`
}

func (h *SocketHandler) handleMessageEdit(conn *realtime.Connection, userID uint, frame *realtime.Frame) {
	var payload editMessagePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.MessageID == 0 {
		h.ack(conn, frame.CallbackID, nil, response.NewBadRequest("message_id is required"))
		return
	}

	message, err := h.chat.Edit(payload.ProjectID, payload.MessageID, userID, payload.Content)
	h.ack(conn, frame.CallbackID, message, err)
}

type deleteMessagePayload struct {
	ProjectID uint `json:"project_id"`
	MessageID uint `json:"message_id"`
}

func (h *SocketHandler) handleMessageDelete(conn *realtime.Connection, userID uint, frame *realtime.Frame) {
	var payload deleteMessagePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.MessageID == 0 {
		h.ack(conn, frame.CallbackID, nil, response.NewBadRequest("message_id is required"))
		return
	}

	err := h.chat.Delete(payload.ProjectID, payload.MessageID, userID)
	h.ack(conn, frame.CallbackID, gin.H{"message_id": payload.MessageID}, err)
}

type typingPayload struct {
	ProjectID uint `json:"project_id"`
	IsTyping  bool `json:"is_typing"`
}

func (h *SocketHandler) handleTyping(userID uint, frame *realtime.Frame) {
	var payload typingPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.ProjectID == 0 {
		return
	}
	// Typing is fire-and-forget; a rejection is not worth a frame.
	_ = h.chat.Typing(payload.ProjectID, userID, payload.IsTyping)
}

func (h *SocketHandler) broadcastPresence(userID uint, online bool) {
	h.hub.Broadcast(realtime.EventPresenceUpdate, gin.H{
		"user_id": userID,
		"online":  online,
	})
}

func (h *SocketHandler) sendEvent(conn *realtime.Connection, event string, data interface{}) {
	payload, err := realtime.Encode(event, data)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func (h *SocketHandler) sendError(conn *realtime.Connection, event, message string, retryable bool) {
	h.sendEvent(conn, event, realtime.ErrorPayload{Message: message, Retryable: retryable})
}

// ack answers callback-style frames. Without a callback ID errors are
// still surfaced as a generic ack so the client is never left hanging.
func (h *SocketHandler) ack(conn *realtime.Connection, callbackID string, data interface{}, err error) {
	ack := realtime.AckPayload{CallbackID: callbackID, Success: err == nil}
	if err != nil {
		ack.Message = err.Error()
		ack.Retryable = response.IsRetryable(err)
	} else {
		ack.Data = data
	}
	h.sendEvent(conn, realtime.EventAck, ack)
}
