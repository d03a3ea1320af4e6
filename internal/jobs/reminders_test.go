package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var almaty = time.FixedZone("ALMT", 5*60*60)

var testNow = time.Date(2025, 5, 20, 8, 0, 0, 0, almaty)

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	out  []sent
	fail map[int64]bool
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string, _ interface{}) (int64, error) {
	if f.fail[chatID] {
		return 0, errors.New("blocked by user")
	}
	f.out = append(f.out, sent{chatID: chatID, text: text})
	return int64(len(f.out)), nil
}

type fixture struct {
	db        *gorm.DB
	tasks     *services.TaskService
	organizer *models.User
	project   *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{db: db, tasks: services.NewTaskService(db, zap.NewNop(), services.FixedClock(testNow))}
	f.organizer = f.user(t, 100, true)
	f.project = testutil.Create(t, db, &models.Project{
		Title: "Чистый берег", City: "Алматы", CreatorID: f.organizer.ID,
		Status: models.ProjectStatusApproved, CreatedAt: testNow,
	})
	return f
}

func (f *fixture) user(t *testing.T, tgID int64, organizer bool) *models.User {
	t.Helper()
	u := &models.User{Name: fmt.Sprintf("user-%d", tgID), Phone: fmt.Sprintf("+7700%07d", tgID), IsOrganizer: organizer}
	if tgID > 0 {
		id := tgID
		u.TelegramID = &id
	}
	return testutil.Create(t, f.db, u)
}

func (f *fixture) accepted(t *testing.T, text string, deadline time.Time, volunteers ...*models.User) {
	t.Helper()
	ctx := context.Background()
	ids := make([]uint, 0, len(volunteers))
	for _, v := range volunteers {
		testutil.Create(t, f.db, &models.VolunteerProject{
			VolunteerID: v.ID, ProjectID: f.project.ID, JoinedAt: testNow, IsActive: true,
		})
		ids = append(ids, v.ID)
	}
	task, err := f.tasks.Create(ctx, services.CreateTaskInput{
		ProjectID: f.project.ID, CreatorID: f.organizer.ID, Text: text,
		Deadline: deadline, StartHour: 9, EndHour: 17, VolunteerIDs: ids,
	})
	require.NoError(t, err)
	for _, id := range ids {
		_, err := f.tasks.Accept(ctx, task.ID, id)
		require.NoError(t, err)
	}
}

func TestReminders_SendsForAssignmentsDueToday(t *testing.T) {
	f := newFixture(t)
	due := f.user(t, 201, false)
	later := f.user(t, 202, false)
	f.accepted(t, "Собрать <мусор>", testNow, due)
	f.accepted(t, "Покрасить скамейки", testNow.AddDate(0, 0, 3), later)

	sender := &fakeSender{}
	n, err := NewReminders(f.tasks, sender, services.FixedClock(testNow), zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, sender.out, 1)
	assert.Equal(t, int64(201), sender.out[0].chatID)
	assert.Contains(t, sender.out[0].text, "Собрать &lt;мусор&gt;")
	assert.Contains(t, sender.out[0].text, "«Чистый берег»")
	assert.Contains(t, sender.out[0].text, "09:00–17:00")
}

func TestReminders_SkipsUnreachableVolunteers(t *testing.T) {
	f := newFixture(t)
	noChat := f.user(t, -1, false)
	blocked := f.user(t, 301, false)
	ok := f.user(t, 302, false)
	f.accepted(t, "Посадить деревья", testNow, noChat, blocked, ok)

	sender := &fakeSender{fail: map[int64]bool{301: true}}
	n, err := NewReminders(f.tasks, sender, services.FixedClock(testNow), zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, sender.out, 1)
	assert.Equal(t, int64(302), sender.out[0].chatID)
}

func TestReminders_IgnoresUnacceptedAssignments(t *testing.T) {
	f := newFixture(t)
	v := f.user(t, 401, false)
	testutil.Create(t, f.db, &models.VolunteerProject{
		VolunteerID: v.ID, ProjectID: f.project.ID, JoinedAt: testNow, IsActive: true,
	})
	_, err := f.tasks.Create(context.Background(), services.CreateTaskInput{
		ProjectID: f.project.ID, CreatorID: f.organizer.ID, Text: "Уборка",
		Deadline: testNow, StartHour: 10, EndHour: 12, VolunteerIDs: []uint{v.ID},
	})
	require.NoError(t, err)

	sender := &fakeSender{}
	n, err := NewReminders(f.tasks, sender, services.FixedClock(testNow), zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sender.out)
}

func TestNewScheduler(t *testing.T) {
	r := NewReminders(nil, &fakeSender{}, services.FixedClock(testNow), zap.NewNop())

	s, err := NewScheduler(almaty, "0 0 8 * * *", r, zap.NewNop())
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	_, err = NewScheduler(almaty, "0 8 * * *", r, zap.NewNop())
	assert.Error(t, err)
}
