package services

import (
	"strings"
	"testing"

	"github.com/teamboard/backend/internal/config"
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/realtime"
	"gorm.io/gorm"
)

func newChatFixture(t *testing.T, online ...uint) (*ChatService, *gorm.DB, *fakeEmitter, *recordQueue) {
	db := newTestDB(t)
	emitter := newFakeEmitter(online...)
	queue := &recordQueue{}
	svc := NewChatService(db, NewDispatcher(emitter, queue), &config.ChatConfig{
		MaxMessageLength: 2000,
		HistoryPageSize:  50,
		CensoredWords:    []string{"badword"},
	})
	return svc, db, emitter, queue
}

func TestChatSend(t *testing.T) {
	svc, db, emitter, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	member := createTestUser(t, db, "member")
	project := createTestProject(t, db, creator.ID, 5)
	addTestMember(t, db, project.ID, member.ID)

	message, err := svc.Send(member.ID, &SendMessageInput{
		ProjectID: project.ID,
		Content:   "hello team",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if message.ID == 0 {
		t.Error("message should be persisted")
	}
	if message.Sender == nil || message.Sender.Username != "member" {
		t.Error("sender should be preloaded")
	}

	got := emitter.eventsFor(realtime.EventMessageNew)
	if len(got) != 1 || got[0].Room != realtime.ProjectRoom(project.ID) {
		t.Errorf("message:new emissions = %+v", got)
	}
}

func TestChatSend_NotMember(t *testing.T) {
	svc, db, _, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	outsider := createTestUser(t, db, "outsider")
	project := createTestProject(t, db, creator.ID, 5)

	_, err := svc.Send(outsider.ID, &SendMessageInput{ProjectID: project.ID, Content: "hi"})
	assertStatusCode(t, err, 403)
}

func TestChatSend_SanitizesMarkup(t *testing.T) {
	svc, db, _, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	project := createTestProject(t, db, creator.ID, 5)

	message, err := svc.Send(creator.ID, &SendMessageInput{
		ProjectID: project.ID,
		Content:   "<script>alert(1)</script>hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if strings.Contains(message.Content, "<script>") {
		t.Errorf("markup survived: %q", message.Content)
	}
	if !strings.Contains(message.Content, "hello") {
		t.Errorf("text lost: %q", message.Content)
	}
}

func TestChatSend_CensorsConfiguredWords(t *testing.T) {
	svc, db, _, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	project := createTestProject(t, db, creator.ID, 5)

	message, err := svc.Send(creator.ID, &SendMessageInput{
		ProjectID: project.ID,
		Content:   "this is badword indeed",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if strings.Contains(message.Content, "badword") {
		t.Errorf("censored word survived: %q", message.Content)
	}
	if !strings.Contains(message.Content, "*") {
		t.Errorf("expected mask characters: %q", message.Content)
	}
}

func TestChatSend_EmptyAfterSanitize(t *testing.T) {
	svc, db, _, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	project := createTestProject(t, db, creator.ID, 5)

	_, err := svc.Send(creator.ID, &SendMessageInput{
		ProjectID: project.ID,
		Content:   "<b></b>",
	})
	assertStatusCode(t, err, 400)
}

func TestChatSend_ImageOnlyAllowed(t *testing.T) {
	svc, db, _, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	project := createTestProject(t, db, creator.ID, 5)

	message, err := svc.Send(creator.ID, &SendMessageInput{
		ProjectID: project.ID,
		ImageURL:  "https://cdn.example.com/shot.png",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if message.ImageURL == "" {
		t.Error("image url should persist")
	}
}

// Mentions reach the mentioned user's personal room even when they are
// not in the project room, and land in the offline queue when they have
// no live connection.
func TestChatSend_Mentions(t *testing.T) {
	svc, db, emitter, queue := newChatFixture(t) // everyone offline
	creator := createTestUser(t, db, "creator")
	member := createTestUser(t, db, "member")
	project := createTestProject(t, db, creator.ID, 5)
	addTestMember(t, db, project.ID, member.ID)

	_, err := svc.Send(creator.ID, &SendMessageInput{
		ProjectID: project.ID,
		Content:   "@member look at this",
		Mentions:  []uint{member.ID, creator.ID}, // self-mention is dropped
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	notifies := emitter.eventsFor(realtime.EventMentionNotify)
	if len(notifies) != 1 || notifies[0].UserID != member.ID {
		t.Errorf("mention:notify emissions = %+v", notifies)
	}

	tasks := queue.list()
	if len(tasks) != 1 || tasks[0].Type != models.NotificationMention || tasks[0].UserID != member.ID {
		t.Errorf("queued tasks = %+v", tasks)
	}
}

func TestChatEdit(t *testing.T) {
	svc, db, emitter, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	project := createTestProject(t, db, creator.ID, 5)

	message, _ := svc.Send(creator.ID, &SendMessageInput{ProjectID: project.ID, Content: "draft"})

	edited, err := svc.Edit(project.ID, message.ID, creator.ID, "final")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Content != "final" || !edited.Edited {
		t.Errorf("edited = %+v", edited)
	}
	if edited.Sender == nil || edited.Sender.Username != "creator" {
		t.Error("edited message should carry the reloaded sender")
	}
	if got := emitter.eventsFor(realtime.EventMessageEdited); len(got) != 1 {
		t.Errorf("message:edit emissions = %d, want 1", len(got))
	}
}

func TestChatEdit_OnlySender(t *testing.T) {
	svc, db, _, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	member := createTestUser(t, db, "member")
	project := createTestProject(t, db, creator.ID, 5)
	addTestMember(t, db, project.ID, member.ID)

	message, _ := svc.Send(member.ID, &SendMessageInput{ProjectID: project.ID, Content: "mine"})

	// Even the project creator cannot edit someone else's message.
	_, err := svc.Edit(project.ID, message.ID, creator.ID, "hijacked")
	assertStatusCode(t, err, 403)
}

func TestChatDelete_SoftDelete(t *testing.T) {
	svc, db, emitter, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	project := createTestProject(t, db, creator.ID, 5)

	message, _ := svc.Send(creator.ID, &SendMessageInput{ProjectID: project.ID, Content: "oops"})

	if err := svc.Delete(project.ID, message.ID, creator.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Hidden from the list...
	messages, err := svc.List(project.ID, creator.ID, &ListMessagesRequest{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("deleted message still listed: %+v", messages)
	}

	// ...but the audit path still finds the row with its content.
	stored, err := svc.GetByID(message.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.DeletedAt == nil {
		t.Error("deleted_at should be set")
	}
	if stored.Content != "oops" {
		t.Errorf("content = %q, want retained", stored.Content)
	}

	// The room learns only the ID.
	if got := emitter.eventsFor(realtime.EventMessageDeleted); len(got) != 1 {
		t.Errorf("message:delete emissions = %d, want 1", len(got))
	}
}

func TestChatDelete_CreatorMayModerate(t *testing.T) {
	svc, db, _, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	member := createTestUser(t, db, "member")
	other := createTestUser(t, db, "other")
	project := createTestProject(t, db, creator.ID, 5)
	addTestMember(t, db, project.ID, member.ID)
	addTestMember(t, db, project.ID, other.ID)

	message, _ := svc.Send(member.ID, &SendMessageInput{ProjectID: project.ID, Content: "spam"})

	// An unrelated member cannot delete it.
	err := svc.Delete(project.ID, message.ID, other.ID)
	assertStatusCode(t, err, 403)

	// The project creator can.
	if err := svc.Delete(project.ID, message.ID, creator.ID); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
}

func TestChatList_OrderAndLimit(t *testing.T) {
	svc, db, _, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	project := createTestProject(t, db, creator.ID, 5)

	for _, text := range []string{"one", "two", "three"} {
		if _, err := svc.Send(creator.ID, &SendMessageInput{ProjectID: project.ID, Content: text}); err != nil {
			t.Fatalf("Send %q: %v", text, err)
		}
	}

	messages, err := svc.List(project.ID, creator.ID, &ListMessagesRequest{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len = %d, want 2", len(messages))
	}
	// The cap keeps the most recent tail, presented oldest first.
	if messages[0].Content != "two" || messages[1].Content != "three" {
		t.Errorf("order = [%q, %q], want [two, three]", messages[0].Content, messages[1].Content)
	}

	all, err := svc.List(project.ID, creator.ID, &ListMessagesRequest{All: true})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

func TestChatTyping_RequiresMembership(t *testing.T) {
	svc, db, emitter, _ := newChatFixture(t)
	creator := createTestUser(t, db, "creator")
	outsider := createTestUser(t, db, "outsider")
	project := createTestProject(t, db, creator.ID, 5)

	err := svc.Typing(project.ID, outsider.ID, true)
	assertStatusCode(t, err, 403)

	if err := svc.Typing(project.ID, creator.ID, true); err != nil {
		t.Fatalf("Typing: %v", err)
	}
	if got := emitter.eventsFor(realtime.EventTypingUpdate); len(got) != 1 {
		t.Errorf("typing:update emissions = %d, want 1", len(got))
	}
}
