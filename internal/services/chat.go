package services

import (
	"fmt"
	"time"

	"github.com/teamboard/backend/internal/config"
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/moderation"
	"github.com/teamboard/backend/internal/realtime"
	"github.com/teamboard/backend/internal/utils"
	"github.com/teamboard/backend/pkg/logger"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

// ChatService is the chat fan-out engine: it persists messages and
// pushes them to the project room, with supplementary delivery to
// mentioned users' personal rooms so mentions arrive even for users who
// never joined the room.
type ChatService struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	moderator  *moderation.Moderator
	maxLength  int
	pageSize   int
}

func NewChatService(db *gorm.DB, dispatcher *Dispatcher, cfg *config.ChatConfig) *ChatService {
	s := &ChatService{
		db:         db,
		dispatcher: dispatcher,
		maxLength:  cfg.MaxMessageLength,
		pageSize:   cfg.HistoryPageSize,
	}

	if len(cfg.CensoredWords) > 0 {
		moderator, err := moderation.NewModerator(cfg.CensoredWords, '*')
		if err != nil {
			logger.Error().Err(err).Msg("failed to build chat moderator, censoring disabled")
		} else {
			s.moderator = moderator
		}
	}

	return s
}

func (s *ChatService) requireCollaborator(projectID, userID uint) error {
	ok, err := realtime.IsProjectCollaborator(s.db, projectID, userID)
	if err != nil {
		return response.NewNotFound("project not found")
	}
	if !ok {
		return response.NewForbidden("not a member of this project")
	}
	return nil
}

// clean strips markup and applies the profanity censor.
func (s *ChatService) clean(content string) string {
	cleaned := utils.StripTags(content)
	if s.moderator != nil {
		censored, matched := s.moderator.Censor(cleaned)
		if len(matched) > 0 {
			logger.Debug().Strs("words", matched).Msg("censored chat message")
		}
		cleaned = censored
	}
	return cleaned
}

type SendMessageInput struct {
	ProjectID     uint   `json:"project_id"`
	Content       string `json:"content"`
	Mentions      []uint `json:"mentions"`
	ImageURL      string `json:"image_url"`
	ImagePublicID string `json:"image_public_id"`
}

// Send persists and fans out a new chat message.
func (s *ChatService) Send(senderID uint, in *SendMessageInput) (*models.Message, error) {
	if err := s.requireCollaborator(in.ProjectID, senderID); err != nil {
		return nil, err
	}

	content := s.clean(in.Content)
	if content == "" && in.ImageURL == "" {
		return nil, response.NewBadRequest("message is empty")
	}
	if len(content) > s.maxLength {
		return nil, response.NewBadRequest(fmt.Sprintf("message exceeds %d characters", s.maxLength))
	}

	message := &models.Message{
		ProjectID:     in.ProjectID,
		SenderID:      senderID,
		Content:       content,
		ImageURL:      in.ImageURL,
		ImagePublicID: in.ImagePublicID,
	}
	message.SetMentionIDs(dedupeIDs(in.Mentions))

	if err := s.db.Create(message).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}
	if err := s.db.Preload("Sender").First(message, message.ID).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}

	s.dispatcher.ToRoom(realtime.ProjectRoom(in.ProjectID), realtime.EventMessageNew, messagePayload(message))

	// Mentions go to personal rooms, independent of project-room
	// membership, and land in the inbox when the user is offline.
	sender := message.Sender
	for _, mentionedID := range message.MentionIDs() {
		if mentionedID == senderID {
			continue
		}
		s.dispatcher.ToUser(mentionedID, realtime.EventMentionNotify, map[string]interface{}{
			"message_id": message.ID,
			"project_id": in.ProjectID,
			"sender": map[string]interface{}{
				"id":       sender.ID,
				"username": sender.Username,
				"nickname": sender.Nickname,
			},
			"content": content,
		}, &NotifyTask{
			UserID:  mentionedID,
			Type:    models.NotificationMention,
			Title:   "You were mentioned",
			Message: fmt.Sprintf("%s mentioned you", sender.DisplayName()),
			RefType: "message",
			RefID:   message.ID,
		})
	}

	return message, nil
}

// Edit replaces a message's content. Only the original sender may edit.
func (s *ChatService) Edit(projectID, messageID, editorID uint, content string) (*models.Message, error) {
	var message models.Message
	if err := s.db.First(&message, messageID).Error; err != nil {
		return nil, response.NewNotFound("message not found")
	}
	if message.ProjectID != projectID {
		return nil, response.NewNotFound("message not found in this project")
	}
	if message.DeletedAt != nil {
		return nil, response.NewNotFound("message not found")
	}
	if message.SenderID != editorID {
		return nil, response.NewForbidden("only the sender may edit a message")
	}

	cleaned := s.clean(content)
	if cleaned == "" {
		return nil, response.NewBadRequest("message is empty")
	}
	if len(cleaned) > s.maxLength {
		return nil, response.NewBadRequest(fmt.Sprintf("message exceeds %d characters", s.maxLength))
	}

	if err := s.db.Model(&message).
		Updates(map[string]interface{}{"content": cleaned, "edited": true}).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}
	message.Content = cleaned
	message.Edited = true

	if err := s.db.Preload("Sender").First(&message, message.ID).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}
	s.dispatcher.ToRoom(realtime.ProjectRoom(projectID), realtime.EventMessageEdited, messagePayload(&message))

	return &message, nil
}

// Delete soft-deletes a message: the row and content stay for the audit
// path, list queries hide it, and the room learns only the ID. The
// sender and the project creator are both authorized.
func (s *ChatService) Delete(projectID, messageID, actorID uint) error {
	var message models.Message
	if err := s.db.First(&message, messageID).Error; err != nil {
		return response.NewNotFound("message not found")
	}
	if message.ProjectID != projectID {
		return response.NewNotFound("message not found in this project")
	}
	if message.DeletedAt != nil {
		return response.NewNotFound("message not found")
	}

	if message.SenderID != actorID {
		var project models.Project
		if err := s.db.First(&project, projectID).Error; err != nil {
			return response.NewNotFound("project not found")
		}
		if project.CreatedBy != actorID {
			return response.NewForbidden("only the sender or the project creator may delete a message")
		}
	}

	now := time.Now()
	if err := s.db.Model(&message).Update("deleted_at", &now).Error; err != nil {
		return response.NewServerError(err.Error())
	}

	s.dispatcher.ToRoom(realtime.ProjectRoom(projectID), realtime.EventMessageDeleted, map[string]interface{}{
		"message_id": messageID,
		"project_id": projectID,
	})

	return nil
}

// Typing broadcasts an ephemeral typing indicator to the project room.
// Membership is checked like every other chat operation.
func (s *ChatService) Typing(projectID, userID uint, isTyping bool) error {
	if err := s.requireCollaborator(projectID, userID); err != nil {
		return err
	}

	s.dispatcher.ToRoom(realtime.ProjectRoom(projectID), realtime.EventTypingUpdate, map[string]interface{}{
		"project_id": projectID,
		"user_id":    userID,
		"is_typing":  isTyping,
	})
	return nil
}

type ListMessagesRequest struct {
	Limit int  `form:"limit" binding:"min=0,max=500"`
	All   bool `form:"all"`
}

// List returns the project's live messages in ascending chronological
// order, excluding soft-deleted rows, capped at the configured page
// size unless All is set.
func (s *ChatService) List(projectID, userID uint, req *ListMessagesRequest) ([]models.Message, error) {
	if err := s.requireCollaborator(projectID, userID); err != nil {
		return nil, err
	}

	query := s.db.Where("project_id = ? AND deleted_at IS NULL", projectID).
		Preload("Sender").
		Order("created_at DESC, id DESC")

	if !req.All {
		limit := req.Limit
		if limit == 0 {
			limit = s.pageSize
		}
		query = query.Limit(limit)
	}

	var messages []models.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}

	// Fetched newest-first to make the cap a tail window; display order
	// is oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// GetByID is the audit path: it finds the message whether or not it has
// been soft-deleted.
func (s *ChatService) GetByID(messageID uint) (*models.Message, error) {
	var message models.Message
	if err := s.db.Preload("Sender").First(&message, messageID).Error; err != nil {
		return nil, response.NewNotFound("message not found")
	}
	return &message, nil
}

func messagePayload(m *models.Message) map[string]interface{} {
	payload := map[string]interface{}{
		"id":         m.ID,
		"project_id": m.ProjectID,
		"content":    m.Content,
		"edited":     m.Edited,
		"mentions":   m.MentionIDs(),
		"created_at": m.CreatedAt,
	}
	if m.ImageURL != "" {
		payload["image_url"] = m.ImageURL
	}
	if m.Sender != nil {
		payload["sender"] = map[string]interface{}{
			"id":       m.Sender.ID,
			"username": m.Sender.Username,
			"nickname": m.Sender.Nickname,
			"avatar":   m.Sender.Avatar,
		}
	} else {
		payload["sender"] = map[string]interface{}{"id": m.SenderID}
	}
	return payload
}

func dedupeIDs(ids []uint) []uint {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
