package services

import (
	"context"
	"testing"

	"github.com/teamboard/backend/internal/models"
)

func TestNotificationStoreAndList(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db)
	user := createTestUser(t, db, "reader")

	for _, task := range []*NotifyTask{
		{UserID: user.ID, Type: models.NotificationJoinRequest, Title: "New join request", RefType: "join_request", RefID: 1},
		{UserID: user.ID, Type: models.NotificationMention, Title: "You were mentioned", RefType: "message", RefID: 9},
		{UserID: user.ID + 1, Type: models.NotificationMention, Title: "Someone else's"},
	} {
		if err := svc.Store(context.Background(), task); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	resp, err := svc.List(user.ID, &NotificationListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Total != 2 || resp.Unread != 2 {
		t.Errorf("total=%d unread=%d, want 2/2", resp.Total, resp.Unread)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(resp.Items))
	}
	for _, item := range resp.Items {
		if item.UserID != user.ID {
			t.Errorf("item %d belongs to user %d", item.ID, item.UserID)
		}
	}
}

func TestNotificationMarkRead(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db)
	owner := createTestUser(t, db, "owner")
	other := createTestUser(t, db, "other")

	if err := svc.Store(context.Background(), &NotifyTask{UserID: owner.ID, Type: models.NotificationMention, Title: "hi"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	var stored models.Notification
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := svc.MarkRead(other.ID, stored.ID); err == nil {
		t.Error("expected error marking another user's notification")
	}
	if err := svc.MarkRead(owner.ID, stored.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	db.First(&stored, stored.ID)
	if !stored.IsRead || stored.ReadAt == nil {
		t.Errorf("notification not marked read: is_read=%v read_at=%v", stored.IsRead, stored.ReadAt)
	}
}

func TestNotificationMarkAllRead(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db)
	user := createTestUser(t, db, "reader")

	for i := 0; i < 3; i++ {
		if err := svc.Store(context.Background(), &NotifyTask{UserID: user.ID, Type: models.NotificationMention, Title: "n"}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if err := svc.MarkAllRead(user.ID); err != nil {
		t.Fatalf("mark all read: %v", err)
	}

	resp, err := svc.List(user.ID, &NotificationListRequest{UnreadOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Unread != 0 || len(resp.Items) != 0 {
		t.Errorf("unread=%d items=%d after mark all read", resp.Unread, len(resp.Items))
	}
}
