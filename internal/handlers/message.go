package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/teamboard/backend/internal/middleware"
	"github.com/teamboard/backend/internal/services"
	"github.com/teamboard/backend/pkg/response"
)

// MessageHandler is the HTTP fallback for chat: history fetch plus send
// and delete for clients without a live socket. Fan-out still happens,
// the sender just won't see the echo without a connection.
type MessageHandler struct {
	chatService *services.ChatService
}

func NewMessageHandler(chatService *services.ChatService) *MessageHandler {
	return &MessageHandler{chatService: chatService}
}

// List returns the project's message history, oldest first
// GET /api/projects/:id/messages
func (h *MessageHandler) List(c *gin.Context) {
	projectID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	messages, err := h.chatService.List(projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, messages)
}

// Send posts a message over HTTP
// POST /api/projects/:id/messages
func (h *MessageHandler) Send(c *gin.Context) {
	projectID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var in services.SendMessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	in.ProjectID = projectID

	message, err := h.chatService.Send(middleware.GetUserID(c), &in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, message)
}

// Delete soft-deletes a message
// DELETE /api/projects/:id/messages/:message_id
func (h *MessageHandler) Delete(c *gin.Context) {
	projectID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	messageID, ok := parseIDParam(c, "message_id")
	if !ok {
		return
	}

	if err := h.chatService.Delete(projectID, messageID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "message deleted"})
}
