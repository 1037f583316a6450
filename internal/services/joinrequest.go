package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/realtime"
	"github.com/teamboard/backend/pkg/logger"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

const maxJoinMessageLength = 500

// projectLocks serializes join-request mutations per project so the
// duplicate-pending and capacity checks cannot interleave with the
// writes they guard.
type projectLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[uint]*sync.Mutex)}
}

func (l *projectLocks) lock(projectID uint) *sync.Mutex {
	l.mu.Lock()
	m, ok := l.locks[projectID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[projectID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m
}

// JoinRequestService is the single workflow engine for team-join
// requests. Both the REST handlers and the socket adapter call into it,
// so creation, duplicate suppression, response handling, and the side
// effects of approval behave identically on either path. Processed
// requests are kept in their terminal state for history views.
type JoinRequestService struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	locks      *projectLocks
}

func NewJoinRequestService(db *gorm.DB, dispatcher *Dispatcher) *JoinRequestService {
	return &JoinRequestService{
		db:         db,
		dispatcher: dispatcher,
		locks:      newProjectLocks(),
	}
}

// teamCount returns the number of occupied seats, counting the creator
// as an implicit member.
func teamCount(db *gorm.DB, projectID uint) (int64, error) {
	var members int64
	if err := db.Model(&models.TeamMember{}).Where("project_id = ?", projectID).Count(&members).Error; err != nil {
		return 0, err
	}
	return members + 1, nil
}

// Create validates and persists a new pending join request, then
// notifies the project creator. Validation order is fixed: existence,
// self-join, membership, capacity, duplicate-pending.
func (s *JoinRequestService) Create(projectID, requesterID uint, message string) (*models.JoinRequest, error) {
	if len(message) > maxJoinMessageLength {
		return nil, response.NewBadRequest("message too long")
	}

	lock := s.locks.lock(projectID)
	defer lock.Unlock()

	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		return nil, response.NewNotFound("project not found")
	}

	if project.CreatedBy == requesterID {
		return nil, response.NewForbidden("cannot join your own project")
	}

	var memberCount int64
	if err := s.db.Model(&models.TeamMember{}).
		Where("project_id = ? AND user_id = ?", projectID, requesterID).
		Count(&memberCount).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}
	if memberCount > 0 {
		return nil, response.NewConflict("already a member of this project")
	}

	occupied, err := teamCount(s.db, projectID)
	if err != nil {
		return nil, response.NewServerError(err.Error())
	}
	if occupied >= int64(project.MaxTeamSize) {
		return nil, response.NewConflict("project team is full")
	}

	var existing models.JoinRequest
	err = s.db.Where("project_id = ? AND requester_id = ?", projectID, requesterID).
		Order("created_at DESC").First(&existing).Error
	if err == nil {
		if existing.IsPending() {
			return nil, response.NewConflict("a pending join request already exists")
		}
		// Terminal record from an earlier round: clear it so the
		// requester gets a fresh pending one.
		if err := s.db.Delete(&models.JoinRequest{}, existing.ID).Error; err != nil {
			return nil, response.NewServerError(err.Error())
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, response.NewServerError(err.Error())
	}

	request := &models.JoinRequest{
		ProjectID:   projectID,
		RequesterID: requesterID,
		CreatorID:   project.CreatedBy,
		Status:      models.JoinRequestPending,
		Message:     message,
	}
	if err := s.db.Create(request).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}

	var requester models.User
	if err := s.db.First(&requester, requesterID).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}
	request.Requester = &requester
	request.Project = &project

	s.dispatcher.ToUserWithScan(project.CreatedBy, realtime.EventNewJoinRequest, map[string]interface{}{
		"request_id": request.ID,
		"project": map[string]interface{}{
			"id":    project.ID,
			"title": project.Title,
		},
		"requester": map[string]interface{}{
			"id":       requester.ID,
			"username": requester.Username,
			"nickname": requester.Nickname,
			"avatar":   requester.Avatar,
		},
		"message": message,
	}, &NotifyTask{
		UserID:  project.CreatedBy,
		Type:    models.NotificationJoinRequest,
		Title:   "New join request",
		Message: fmt.Sprintf("%s wants to join %s", requester.DisplayName(), project.Title),
		RefType: "join_request",
		RefID:   request.ID,
	})

	uid := requesterID
	LogInfo("Team", "JoinRequest",
		fmt.Sprintf("%s requested to join project %q", requester.Username, project.Title),
		&uid, "", "", map[string]interface{}{"project_id": projectID, "request_id": request.ID})

	return request, nil
}

// RespondResult carries what the adapters need to shape their replies.
type RespondResult struct {
	Request       *models.JoinRequest
	Project       *models.Project
	Requester     *models.User
	Approved      bool
	ResponseNote  string
	HumanReadable string
}

// Respond approves or rejects a pending request. Only the recorded
// creator may respond. Approval re-checks capacity at response time and
// appends the requester to the team; the status flip is a conditional
// update so a concurrent double-respond loses cleanly.
func (s *JoinRequestService) Respond(requestID, responderID uint, approve bool, note string) (*RespondResult, error) {
	var request models.JoinRequest
	if err := s.db.First(&request, requestID).Error; err != nil {
		return nil, response.NewNotFound("join request not found")
	}

	if request.CreatorID != responderID {
		return nil, response.NewForbidden("only the project creator may respond to this request")
	}
	if !request.IsPending() {
		return nil, response.NewConflict("request already processed")
	}

	lock := s.locks.lock(request.ProjectID)
	defer lock.Unlock()

	var project models.Project
	if err := s.db.First(&project, request.ProjectID).Error; err != nil {
		return nil, response.NewNotFound("project not found")
	}

	newStatus := models.JoinRequestRejected
	if approve {
		newStatus = models.JoinRequestApproved

		// Team composition may have changed since the request was made.
		occupied, err := teamCount(s.db, request.ProjectID)
		if err != nil {
			return nil, response.NewServerError(err.Error())
		}
		if occupied >= int64(project.MaxTeamSize) {
			return nil, response.NewConflict("project team is full")
		}
	}

	now := time.Now()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Conditional update: only a still-pending row can be processed.
		result := tx.Model(&models.JoinRequest{}).
			Where("id = ? AND status = ?", request.ID, models.JoinRequestPending).
			Updates(map[string]interface{}{"status": newStatus, "responded_at": &now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return response.NewConflict("request already processed")
		}

		if approve {
			member := models.TeamMember{
				ProjectID: request.ProjectID,
				UserID:    request.RequesterID,
				Role:      "developer",
				JoinedAt:  now,
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var appErr *response.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, response.NewServerError(err.Error())
	}

	request.Status = newStatus
	request.RespondedAt = &now

	var requester models.User
	if err := s.db.First(&requester, request.RequesterID).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}

	verdict := "rejected"
	if approve {
		verdict = "approved"
	}
	human := fmt.Sprintf("Your request to join %q was %s", project.Title, verdict)
	if note != "" {
		human += ": " + note
	}

	result := &RespondResult{
		Request:       &request,
		Project:       &project,
		Requester:     &requester,
		Approved:      approve,
		ResponseNote:  note,
		HumanReadable: human,
	}

	s.notifyResponse(result)
	return result, nil
}

// notifyResponse performs the realtime side effects of a response.
// These are best effort: the status flip is the durable fact, a failed
// room join or broadcast does not roll it back.
func (s *JoinRequestService) notifyResponse(r *RespondResult) {
	s.dispatcher.ToUser(r.Requester.ID, realtime.EventJoinRequestResponse, map[string]interface{}{
		"request_id": r.Request.ID,
		"approved":   r.Approved,
		"project": map[string]interface{}{
			"id":    r.Project.ID,
			"title": r.Project.Title,
		},
		"message": r.HumanReadable,
	}, &NotifyTask{
		UserID:  r.Requester.ID,
		Type:    models.NotificationJoinResponse,
		Title:   "Join request " + r.Request.Status,
		Message: r.HumanReadable,
		RefType: "project",
		RefID:   r.Project.ID,
	})

	if !r.Approved {
		return
	}

	// Required postcondition of approval: the new member's live sockets
	// join the project room, and current collaborators learn about the
	// roster change without reconnecting.
	room := realtime.ProjectRoom(r.Project.ID)
	joined := s.dispatcher.JoinUserSockets(r.Requester.ID, room)
	s.dispatcher.ToRoom(room, realtime.EventTeamMemberJoined, map[string]interface{}{
		"project_id": r.Project.ID,
		"member": map[string]interface{}{
			"id":       r.Requester.ID,
			"username": r.Requester.Username,
			"nickname": r.Requester.Nickname,
			"avatar":   r.Requester.Avatar,
			"role":     "developer",
		},
	})

	logger.Info().
		Uint("project_id", r.Project.ID).
		Uint("user_id", r.Requester.ID).
		Int("sockets_joined", joined).
		Msg("join request approved")
}

type JoinRequestListRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=pending approved rejected"`
}

// ListIncoming returns requests addressed to the creator, newest first.
func (s *JoinRequestService) ListIncoming(creatorID uint, status string) ([]models.JoinRequest, error) {
	return s.list("creator_id", creatorID, status)
}

// ListOutgoing returns requests made by the requester, newest first.
func (s *JoinRequestService) ListOutgoing(requesterID uint, status string) ([]models.JoinRequest, error) {
	return s.list("requester_id", requesterID, status)
}

func (s *JoinRequestService) list(column string, id uint, status string) ([]models.JoinRequest, error) {
	query := s.db.Where(column+" = ?", id).
		Preload("Project").
		Preload("Requester")
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var requests []models.JoinRequest
	if err := query.Order("created_at DESC").Find(&requests).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}
	return requests, nil
}

var joinSweeperCron *cron.Cron

// StartJoinRequestSweeper rejects pending requests older than maxAge
// once a day, so creators who never respond do not leave requesters
// blocked from re-requesting elsewhere forever.
func StartJoinRequestSweeper(db *gorm.DB, maxAge time.Duration) {
	joinSweeperCron = cron.New()
	_, err := joinSweeperCron.AddFunc("30 3 * * *", func() {
		cutoff := time.Now().Add(-maxAge)
		now := time.Now()
		result := db.Model(&models.JoinRequest{}).
			Where("status = ? AND created_at < ?", models.JoinRequestPending, cutoff).
			Updates(map[string]interface{}{"status": models.JoinRequestRejected, "responded_at": &now})
		if result.Error != nil {
			logger.Error().Err(result.Error).Msg("join request sweep failed")
			return
		}
		if result.RowsAffected > 0 {
			logger.Info().Int64("expired", result.RowsAffected).Msg("stale join requests rejected")
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to schedule join request sweeper")
		return
	}
	joinSweeperCron.Start()
}

// StopJoinRequestSweeper halts the sweep schedule.
func StopJoinRequestSweeper() {
	if joinSweeperCron != nil {
		joinSweeperCron.Stop()
	}
}
