package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/teamboard/backend/internal/middleware"
	"github.com/teamboard/backend/internal/services"
	"github.com/teamboard/backend/pkg/response"
)

// TeamHandler is the HTTP surface of the join-request workflow. The
// socket surface shares the same service, so every rule (capacity,
// duplicate pending, self-join) holds on both paths.
type TeamHandler struct {
	joinRequests *services.JoinRequestService
}

func NewTeamHandler(joinRequests *services.JoinRequestService) *TeamHandler {
	return &TeamHandler{joinRequests: joinRequests}
}

type createJoinRequestBody struct {
	Message string `json:"message" binding:"max=500"`
}

// Create submits a join request for a project
// POST /api/projects/:id/join-requests
func (h *TeamHandler) Create(c *gin.Context) {
	projectID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var body createJoinRequestBody
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, err.Error())
		return
	}

	request, err := h.joinRequests.Create(projectID, middleware.GetUserID(c), body.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

type respondJoinRequestBody struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note" binding:"max=500"`
}

// Respond approves or rejects a pending join request, creator only
// PUT /api/join-requests/:id
func (h *TeamHandler) Respond(c *gin.Context) {
	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var body respondJoinRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.joinRequests.Respond(requestID, middleware.GetUserID(c), body.Approve, body.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result.Request)
}

// ListIncoming returns requests targeting the caller's projects
// GET /api/join-requests/incoming
func (h *TeamHandler) ListIncoming(c *gin.Context) {
	requests, err := h.joinRequests.ListIncoming(middleware.GetUserID(c), c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, requests)
}

// ListOutgoing returns requests the caller has submitted
// GET /api/join-requests/outgoing
func (h *TeamHandler) ListOutgoing(c *gin.Context) {
	requests, err := h.joinRequests.ListOutgoing(middleware.GetUserID(c), c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, requests)
}
