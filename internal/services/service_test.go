package services

import (
	"fmt"
	"sync"
	"testing"

	"github.com/teamboard/backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens a fresh in-memory database per test. The named DSN
// keeps it alive across pooled connections.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.TeamMember{},
		&models.JoinRequest{},
		&models.Message{},
		&models.Task{},
		&models.Notification{},
		&models.SystemLog{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// emission records one realtime delivery for assertions.
type emission struct {
	Room   string
	UserID uint
	Event  string
	Data   interface{}
}

// fakeEmitter implements Emitter and records everything. onlineUsers
// controls how many deliveries personal-room sends report, so tests can
// simulate offline recipients.
type fakeEmitter struct {
	mu          sync.Mutex
	emissions   []emission
	roomJoins   []emission
	onlineUsers map[uint]int
}

func newFakeEmitter(online ...uint) *fakeEmitter {
	f := &fakeEmitter{onlineUsers: make(map[uint]int)}
	for _, id := range online {
		f.onlineUsers[id] = 1
	}
	return f
}

func (f *fakeEmitter) EmitToRoom(room, event string, data interface{}) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emissions = append(f.emissions, emission{Room: room, Event: event, Data: data})
	return 1
}

func (f *fakeEmitter) EmitToUser(userID uint, event string, data interface{}) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emissions = append(f.emissions, emission{UserID: userID, Event: event, Data: data})
	return f.onlineUsers[userID]
}

func (f *fakeEmitter) EmitToUserWithScan(userID uint, event string, data interface{}) int {
	return f.EmitToUser(userID, event, data)
}

func (f *fakeEmitter) JoinUserSockets(userID uint, room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomJoins = append(f.roomJoins, emission{UserID: userID, Room: room})
	return f.onlineUsers[userID]
}

func (f *fakeEmitter) eventsFor(event string) []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emission
	for _, e := range f.emissions {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// recordQueue implements TaskQueue and collects enqueued tasks without
// processing them, keeping tests deterministic.
type recordQueue struct {
	mu    sync.Mutex
	tasks []*NotifyTask
}

func (q *recordQueue) Enqueue(task *NotifyTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordQueue) IsAsync() bool { return false }
func (q *recordQueue) Close() error  { return nil }

func (q *recordQueue) list() []*NotifyTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*NotifyTask(nil), q.tasks...)
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Role: models.RoleMember, IsActive: true}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func createTestProject(t *testing.T, db *gorm.DB, creatorID uint, maxSize int) *models.Project {
	t.Helper()
	project := &models.Project{
		Title:       "Test Board",
		MaxTeamSize: maxSize,
		CreatedBy:   creatorID,
	}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	return project
}

func addTestMember(t *testing.T, db *gorm.DB, projectID, userID uint) {
	t.Helper()
	if err := db.Create(&models.TeamMember{ProjectID: projectID, UserID: userID, Role: "developer"}).Error; err != nil {
		t.Fatalf("add member: %v", err)
	}
}
