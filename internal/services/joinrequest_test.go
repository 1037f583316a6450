package services

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/realtime"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

func newJoinRequestFixture(t *testing.T, online ...uint) (*JoinRequestService, *gorm.DB, *fakeEmitter, *recordQueue) {
	db := newTestDB(t)
	emitter := newFakeEmitter(online...)
	queue := &recordQueue{}
	svc := NewJoinRequestService(db, NewDispatcher(emitter, queue))
	return svc, db, emitter, queue
}

func assertStatusCode(t *testing.T, err error, want int) {
	t.Helper()
	var appErr *response.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != want {
		t.Errorf("error code = %d, want %d (%s)", appErr.Code, want, appErr.Message)
	}
}

func TestJoinRequestCreate(t *testing.T) {
	svc, db, emitter, _ := newJoinRequestFixture(t, 1)
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	project := createTestProject(t, db, creator.ID, 5)

	request, err := svc.Create(project.ID, requester.ID, "let me in")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if request.Status != models.JoinRequestPending {
		t.Errorf("status = %q, want pending", request.Status)
	}
	if request.CreatorID != creator.ID {
		t.Errorf("creator_id = %d, want %d", request.CreatorID, creator.ID)
	}

	notified := emitter.eventsFor(realtime.EventNewJoinRequest)
	if len(notified) != 1 {
		t.Fatalf("expected 1 new_join_request emission, got %d", len(notified))
	}
	if notified[0].UserID != creator.ID {
		t.Errorf("notification went to user %d, want creator %d", notified[0].UserID, creator.ID)
	}
}

func TestJoinRequestCreate_SelfJoin(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	project := createTestProject(t, db, creator.ID, 5)

	_, err := svc.Create(project.ID, creator.ID, "")
	assertStatusCode(t, err, 403)
}

func TestJoinRequestCreate_AlreadyMember(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	member := createTestUser(t, db, "member")
	project := createTestProject(t, db, creator.ID, 5)
	addTestMember(t, db, project.ID, member.ID)

	_, err := svc.Create(project.ID, member.ID, "")
	assertStatusCode(t, err, 409)
}

func TestJoinRequestCreate_DuplicatePending(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	project := createTestProject(t, db, creator.ID, 5)

	if _, err := svc.Create(project.ID, requester.ID, "first"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := svc.Create(project.ID, requester.ID, "second")
	assertStatusCode(t, err, 409)

	var count int64
	db.Model(&models.JoinRequest{}).
		Where("project_id = ? AND requester_id = ?", project.ID, requester.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("join request rows = %d, want 1", count)
	}
}

// The creator occupies a seat, so a project of capacity 2 is full with
// a single explicit member.
func TestJoinRequestCreate_TeamFull(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	member := createTestUser(t, db, "member")
	late := createTestUser(t, db, "late")
	project := createTestProject(t, db, creator.ID, 2)
	addTestMember(t, db, project.ID, member.ID)

	_, err := svc.Create(project.ID, late.ID, "")
	assertStatusCode(t, err, 409)
}

func TestJoinRequestCreate_MessageTooLong(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	project := createTestProject(t, db, creator.ID, 5)

	_, err := svc.Create(project.ID, requester.ID, strings.Repeat("x", 501))
	assertStatusCode(t, err, 400)
}

func TestJoinRequestCreate_ProjectMissing(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	requester := createTestUser(t, db, "requester")

	_, err := svc.Create(999, requester.ID, "")
	assertStatusCode(t, err, 404)
}

// A rejected request does not block a fresh one; the terminal row is
// replaced so the requester is back to a single pending request.
func TestJoinRequestCreate_ReRequestAfterRejection(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	project := createTestProject(t, db, creator.ID, 5)

	first, err := svc.Create(project.ID, requester.ID, "round one")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Respond(first.ID, creator.ID, false, "not now"); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	second, err := svc.Create(project.ID, requester.ID, "round two")
	if err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if second.ID == first.ID {
		t.Error("re-request should create a new row")
	}

	var count int64
	db.Model(&models.JoinRequest{}).
		Where("project_id = ? AND requester_id = ?", project.ID, requester.ID).
		Count(&count)
	if count != 1 {
		t.Errorf("join request rows = %d, want 1", count)
	}
}

// When the creator has no live connection, the notification lands in
// the offline queue instead of disappearing.
func TestJoinRequestCreate_OfflineCreatorQueued(t *testing.T) {
	svc, db, _, queue := newJoinRequestFixture(t) // nobody online
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	project := createTestProject(t, db, creator.ID, 5)

	if _, err := svc.Create(project.ID, requester.ID, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tasks := queue.list()
	if len(tasks) != 1 {
		t.Fatalf("queued tasks = %d, want 1", len(tasks))
	}
	if tasks[0].UserID != creator.ID || tasks[0].Type != models.NotificationJoinRequest {
		t.Errorf("unexpected task %+v", tasks[0])
	}
}

func TestJoinRequestRespond_Approve(t *testing.T) {
	svc, db, emitter, _ := newJoinRequestFixture(t, 1, 2)
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	project := createTestProject(t, db, creator.ID, 5)

	request, err := svc.Create(project.ID, requester.ID, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := svc.Respond(request.ID, creator.ID, true, "welcome")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !result.Approved {
		t.Error("result should be approved")
	}

	// Membership row created.
	var member models.TeamMember
	if err := db.Where("project_id = ? AND user_id = ?", project.ID, requester.ID).First(&member).Error; err != nil {
		t.Fatalf("team member row missing: %v", err)
	}

	// Terminal record retained, not deleted.
	var stored models.JoinRequest
	if err := db.First(&stored, request.ID).Error; err != nil {
		t.Fatalf("request row missing: %v", err)
	}
	if stored.Status != models.JoinRequestApproved {
		t.Errorf("status = %q, want approved", stored.Status)
	}
	if stored.RespondedAt == nil {
		t.Error("responded_at should be set")
	}

	// Requester's sockets joined the project room.
	if len(emitter.roomJoins) != 1 || emitter.roomJoins[0].Room != realtime.ProjectRoom(project.ID) {
		t.Errorf("expected room join for project room, got %+v", emitter.roomJoins)
	}

	// Both the requester and the room learned about the decision.
	if got := emitter.eventsFor(realtime.EventJoinRequestResponse); len(got) != 1 || got[0].UserID != requester.ID {
		t.Errorf("join_request_response emissions = %+v", got)
	}
	if got := emitter.eventsFor(realtime.EventTeamMemberJoined); len(got) != 1 || got[0].Room != realtime.ProjectRoom(project.ID) {
		t.Errorf("team_member_joined emissions = %+v", got)
	}
}

func TestJoinRequestRespond_Reject(t *testing.T) {
	svc, db, emitter, _ := newJoinRequestFixture(t, 2)
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	project := createTestProject(t, db, creator.ID, 5)

	request, _ := svc.Create(project.ID, requester.ID, "")
	result, err := svc.Respond(request.ID, creator.ID, false, "")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if result.Approved {
		t.Error("result should not be approved")
	}

	var count int64
	db.Model(&models.TeamMember{}).Where("project_id = ?", project.ID).Count(&count)
	if count != 0 {
		t.Errorf("rejection must not add members, got %d", count)
	}
	if got := emitter.eventsFor(realtime.EventTeamMemberJoined); len(got) != 0 {
		t.Errorf("rejection must not broadcast team_member_joined, got %+v", got)
	}
}

func TestJoinRequestRespond_NotCreator(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	intruder := createTestUser(t, db, "intruder")
	project := createTestProject(t, db, creator.ID, 5)

	request, _ := svc.Create(project.ID, requester.ID, "")
	_, err := svc.Respond(request.ID, intruder.ID, true, "")
	assertStatusCode(t, err, 403)
}

func TestJoinRequestRespond_AlreadyProcessed(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	project := createTestProject(t, db, creator.ID, 5)

	request, _ := svc.Create(project.ID, requester.ID, "")
	if _, err := svc.Respond(request.ID, creator.ID, true, ""); err != nil {
		t.Fatalf("first Respond: %v", err)
	}
	_, err := svc.Respond(request.ID, creator.ID, false, "")
	assertStatusCode(t, err, 409)

	// The first decision stands.
	var stored models.JoinRequest
	db.First(&stored, request.ID)
	if stored.Status != models.JoinRequestApproved {
		t.Errorf("status = %q, want approved", stored.Status)
	}
}

// Capacity is re-checked at approval time: two pending requests for the
// last seat cannot both be approved.
func TestJoinRequestRespond_ApproveBeyondCapacity(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	first := createTestUser(t, db, "first")
	second := createTestUser(t, db, "second")
	project := createTestProject(t, db, creator.ID, 2)

	reqA, err := svc.Create(project.ID, first.ID, "")
	if err != nil {
		t.Fatalf("Create A: %v", err)
	}
	reqB, err := svc.Create(project.ID, second.ID, "")
	if err != nil {
		t.Fatalf("Create B: %v", err)
	}

	if _, err := svc.Respond(reqA.ID, creator.ID, true, ""); err != nil {
		t.Fatalf("approve A: %v", err)
	}
	_, err = svc.Respond(reqB.ID, creator.ID, true, "")
	assertStatusCode(t, err, 409)

	var count int64
	db.Model(&models.TeamMember{}).Where("project_id = ?", project.ID).Count(&count)
	if count != 1 {
		t.Errorf("members = %d, want 1", count)
	}
}

// Concurrent approvals of distinct requests for one remaining seat must
// admit exactly one member.
func TestJoinRequestRespond_ConcurrentApprovals(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	project := createTestProject(t, db, creator.ID, 2)

	var requests []*models.JoinRequest
	for i := 0; i < 4; i++ {
		u := createTestUser(t, db, "candidate"+string(rune('a'+i)))
		r, err := svc.Create(project.ID, u.ID, "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		requests = append(requests, r)
	}

	var wg sync.WaitGroup
	for _, r := range requests {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, _ = svc.Respond(id, creator.ID, true, "")
		}(r.ID)
	}
	wg.Wait()

	var members int64
	db.Model(&models.TeamMember{}).Where("project_id = ?", project.ID).Count(&members)
	if members != 1 {
		t.Errorf("members = %d, want exactly 1", members)
	}
}

func TestJoinRequestListIncomingOutgoing(t *testing.T) {
	svc, db, _, _ := newJoinRequestFixture(t)
	creator := createTestUser(t, db, "creator")
	requester := createTestUser(t, db, "requester")
	projectA := createTestProject(t, db, creator.ID, 5)
	projectB := createTestProject(t, db, creator.ID, 5)

	reqA, _ := svc.Create(projectA.ID, requester.ID, "")
	if _, err := svc.Create(projectB.ID, requester.ID, ""); err != nil {
		t.Fatalf("Create B: %v", err)
	}
	if _, err := svc.Respond(reqA.ID, creator.ID, false, ""); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	incoming, err := svc.ListIncoming(creator.ID, "")
	if err != nil {
		t.Fatalf("ListIncoming: %v", err)
	}
	if len(incoming) != 2 {
		t.Errorf("incoming = %d, want 2", len(incoming))
	}

	pending, err := svc.ListIncoming(creator.ID, models.JoinRequestPending)
	if err != nil {
		t.Fatalf("ListIncoming pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending incoming = %d, want 1", len(pending))
	}

	outgoing, err := svc.ListOutgoing(requester.ID, "")
	if err != nil {
		t.Fatalf("ListOutgoing: %v", err)
	}
	if len(outgoing) != 2 {
		t.Errorf("outgoing = %d, want 2", len(outgoing))
	}
}
