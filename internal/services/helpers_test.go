package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/testutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var almaty = time.FixedZone("ALMT", 5*60*60)

// 2025-05-20 10:30 local time.
var testNow = time.Date(2025, 5, 20, 10, 30, 0, 0, almaty)

type env struct {
	db       *gorm.DB
	users    *UserService
	projects *ProjectService
	tasks    *TaskService
	photos   *PhotoService
	store    *memStore
	notes    *recordingNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	logger := zap.NewNop()
	clock := FixedClock(testNow)
	store := &memStore{files: map[string][]byte{}}
	notes := &recordingNotifier{}

	e := &env{
		db:       db,
		users:    NewUserService(db, logger, []int64{1}),
		projects: NewProjectService(db, logger, clock, 1),
		tasks:    NewTaskService(db, logger, clock),
		photos:   NewPhotoService(db, logger, clock, store),
		store:    store,
		notes:    notes,
	}
	e.users.SetNotifier(notes)
	e.projects.SetNotifier(notes)
	e.photos.SetNotifier(notes)
	return e
}

func (e *env) user(t *testing.T, tgID int64, organizer bool) *models.User {
	t.Helper()
	id := tgID
	return testutil.Create(t, e.db, &models.User{
		TelegramID:  &id,
		Name:        fmt.Sprintf("user-%d", tgID),
		Phone:       fmt.Sprintf("+7700%07d", tgID),
		IsOrganizer: organizer,
	})
}

func (e *env) project(t *testing.T, creator *models.User, title, city string, status string) *models.Project {
	t.Helper()
	return testutil.Create(t, e.db, &models.Project{
		Title:     title,
		City:      city,
		CreatorID: creator.ID,
		Status:    status,
		CreatedAt: testNow,
	})
}

func (e *env) member(t *testing.T, volunteer *models.User, project *models.Project) {
	t.Helper()
	testutil.Create(t, e.db, &models.VolunteerProject{
		VolunteerID: volunteer.ID,
		ProjectID:   project.ID,
		JoinedAt:    testNow,
		IsActive:    true,
	})
}

// taskAt creates a task for one volunteer and walks the assignment to
// the given lifecycle point.
func (e *env) taskAt(t *testing.T, organizer, volunteer *models.User, project *models.Project, status string) *models.Task {
	t.Helper()
	ctx := context.Background()
	task, err := e.tasks.Create(ctx, CreateTaskInput{
		ProjectID:    project.ID,
		CreatorID:    organizer.ID,
		Text:         "collect litter",
		Deadline:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		StartHour:    9,
		EndHour:      17,
		VolunteerIDs: []uint{volunteer.ID},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	steps := map[string][]func(context.Context, uint, uint) (*models.TaskAssignment, error){
		models.AssignmentAssigned:     nil,
		models.AssignmentAccepted:     {e.tasks.Accept},
		models.AssignmentPhotoPending: {e.tasks.Accept, e.tasks.Complete},
	}
	for _, step := range steps[status] {
		if _, err := step(ctx, task.ID, volunteer.ID); err != nil {
			t.Fatalf("advance task: %v", err)
		}
	}
	return task
}

func (e *env) rating(t *testing.T, userID uint) int {
	t.Helper()
	var u models.User
	if err := e.db.First(&u, userID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	return u.Rating
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memStore) Save(_ context.Context, category string, ownerID int64, fileID string, at time.Time, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := fmt.Sprintf("%s/%d/%d/%d/%d_%s.jpg", category, at.Year(), int(at.Month()), at.Day(), ownerID, fileID)
	m.files[path] = data
	return path, nil
}

func (m *memStore) Remove(relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, relPath)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	fail   error
}

func (r *recordingNotifier) record(ev string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.fail
}

func (r *recordingNotifier) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingNotifier) OrganizerRequested(_ context.Context, u *models.User) error {
	return r.record(fmt.Sprintf("organizer_requested:%d", u.ID))
}

func (r *recordingNotifier) OrganizerStatusChanged(_ context.Context, u *models.User, approved bool) error {
	return r.record(fmt.Sprintf("organizer_status:%d:%t", u.ID, approved))
}

func (r *recordingNotifier) ProjectSubmitted(_ context.Context, p *models.Project) error {
	return r.record(fmt.Sprintf("project_submitted:%d", p.ID))
}

func (r *recordingNotifier) ProjectStatusChanged(_ context.Context, p *models.Project) error {
	return r.record(fmt.Sprintf("project_status:%d:%s", p.ID, p.Status))
}

func (r *recordingNotifier) PhotoSubmitted(_ context.Context, p *models.Photo) error {
	return r.record(fmt.Sprintf("photo_submitted:%d", p.ID))
}

func (r *recordingNotifier) PhotoModerated(_ context.Context, p *models.Photo) error {
	return r.record(fmt.Sprintf("photo_moderated:%d:%s", p.ID, p.Status))
}

func itoa(id uint) string {
	return fmt.Sprintf("%d", id)
}
