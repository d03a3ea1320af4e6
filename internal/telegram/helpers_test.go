package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/media"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/testutil"
)

var almaty = time.FixedZone("ALMT", 5*60*60)

// 2025-05-20 10:30 local time.
var testNow = time.Date(2025, 5, 20, 10, 30, 0, 0, almaty)

const adminTelegramID = 1

type outgoing struct {
	ChatID int64
	Text   string
	Markup interface{}
	Photo  *InputFile
	Edit   bool
}

type download struct {
	data []byte
	errs []error
}

// fakeMessenger records everything the bot sends.
type fakeMessenger struct {
	mu        sync.Mutex
	nextID    int64
	out       []outgoing
	failChats map[int64]bool
	downloads map[string]*download
	fetches   map[string]int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		failChats: map[int64]bool{},
		downloads: map[string]*download{},
		fetches:   map[string]int{},
	}
}

var errSendFailed = errors.New("forbidden: bot was blocked by the user")

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, markup interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChats[chatID] {
		return 0, errSendFailed
	}
	f.nextID++
	f.out = append(f.out, outgoing{ChatID: chatID, Text: text, Markup: markup})
	return f.nextID, nil
}

func (f *fakeMessenger) SendPhoto(_ context.Context, chatID int64, photo InputFile, caption string, markup interface{}) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChats[chatID] {
		return 0, errSendFailed
	}
	f.nextID++
	f.out = append(f.out, outgoing{ChatID: chatID, Text: caption, Markup: markup, Photo: &photo})
	return f.nextID, nil
}

func (f *fakeMessenger) EditMessageText(_ context.Context, chatID, _ int64, text string, markup interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, outgoing{ChatID: chatID, Text: text, Markup: markup, Edit: true})
	return nil
}

func (f *fakeMessenger) AnswerCallbackQuery(context.Context, string, string) error {
	return nil
}

// DownloadFile pops one queued error per call before returning the data.
func (f *fakeMessenger) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[fileID]++
	d, ok := f.downloads[fileID]
	if !ok {
		return nil, &APIError{Code: 400, Description: "Bad Request: invalid file_id"}
	}
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	return d.data, nil
}

func (f *fakeMessenger) serve(fileID string, data []byte, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads[fileID] = &download{data: data, errs: errs}
}

func (f *fakeMessenger) to(chatID int64) []outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outgoing
	for _, o := range f.out {
		if o.ChatID == chatID {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeMessenger) last(t *testing.T, chatID int64) outgoing {
	t.Helper()
	out := f.to(chatID)
	require.NotEmpty(t, out, "nothing sent to chat %d", chatID)
	return out[len(out)-1]
}

// saw reports whether any message to chatID contains substr.
func (f *fakeMessenger) saw(chatID int64, substr string) bool {
	for _, o := range f.to(chatID) {
		if strings.Contains(o.Text, substr) {
			return true
		}
	}
	return false
}

func (f *fakeMessenger) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = nil
}

type harness struct {
	db       *gorm.DB
	bot      *fakeMessenger
	state    *StateManager
	store    *media.Store
	users    *services.UserService
	projects *services.ProjectService
	tasks    *services.TaskService
	photos   *services.PhotoService
	handler  *UpdateHandler
	updateID int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	logger := zap.NewNop()
	clock := services.FixedClock(testNow)
	store, err := media.NewStore(t.TempDir())
	require.NoError(t, err)

	bot := newFakeMessenger()
	users := services.NewUserService(db, logger, []int64{adminTelegramID})
	projects := services.NewProjectService(db, logger, clock, 1)
	tasks := services.NewTaskService(db, logger, clock)
	photos := services.NewPhotoService(db, logger, clock, store)

	notifier := NewNotifier(bot, users, store, logger)
	users.SetNotifier(notifier)
	projects.SetNotifier(notifier)
	photos.SetNotifier(notifier)

	state := NewStateManager()
	handler := NewUpdateHandler(bot, state, users, projects, tasks, photos, store, clock, logger, Options{
		DownloadAttempts: 3,
		DownloadBackoff:  time.Millisecond,
		DownloadTimeout:  time.Second,
	})

	return &harness{
		db: db, bot: bot, state: state, store: store,
		users: users, projects: projects, tasks: tasks, photos: photos,
		handler: handler,
	}
}

func (hs *harness) send(msg *Message) {
	hs.updateID++
	hs.handler.Handle(context.Background(), Update{UpdateID: hs.updateID, Message: msg})
}

func (hs *harness) text(userID int64, text string) {
	hs.send(&Message{MessageID: hs.updateID + 1, From: &User{ID: userID}, Chat: Chat{ID: userID}, Text: text})
}

func (hs *harness) contact(userID int64, phone string) {
	hs.send(&Message{
		MessageID: hs.updateID + 1,
		From:      &User{ID: userID},
		Chat:      Chat{ID: userID},
		Contact:   &Contact{PhoneNumber: phone, UserID: userID},
	})
}

func (hs *harness) photo(userID int64, fileID string) {
	hs.send(&Message{
		MessageID: hs.updateID + 1,
		From:      &User{ID: userID},
		Chat:      Chat{ID: userID},
		Photo: []PhotoSize{
			{FileID: fileID + "-small", Width: 90, Height: 90},
			{FileID: fileID, Width: 1280, Height: 960},
		},
	})
}

func (hs *harness) press(userID int64, data string) {
	hs.updateID++
	hs.handler.Handle(context.Background(), Update{
		UpdateID: hs.updateID,
		CallbackQuery: &CallbackQuery{
			ID:      fmt.Sprintf("cb-%d", hs.updateID),
			From:    User{ID: userID},
			Message: &Message{MessageID: 500, Chat: Chat{ID: userID}},
			Data:    data,
		},
	})
}

func (hs *harness) step(userID int64) Step {
	return hs.state.Get(userID).Step
}

func (hs *harness) user(t *testing.T, tgID int64, organizer bool) *models.User {
	t.Helper()
	id := tgID
	return testutil.Create(t, hs.db, &models.User{
		TelegramID:  &id,
		Name:        fmt.Sprintf("user-%d", tgID),
		Phone:       fmt.Sprintf("+7700%07d", tgID),
		IsOrganizer: organizer,
		IsStaff:     tgID == adminTelegramID,
	})
}

func (hs *harness) project(t *testing.T, creator *models.User, title string) *models.Project {
	t.Helper()
	return testutil.Create(t, hs.db, &models.Project{
		Title:       title,
		Description: "описание " + title,
		City:        "Алматы",
		CreatorID:   creator.ID,
		Status:      models.ProjectStatusApproved,
		CreatedAt:   testNow,
	})
}

func (hs *harness) member(t *testing.T, volunteer *models.User, project *models.Project) {
	t.Helper()
	testutil.Create(t, hs.db, &models.VolunteerProject{
		VolunteerID: volunteer.ID,
		ProjectID:   project.ID,
		JoinedAt:    testNow,
		IsActive:    true,
	})
}

// assignment creates a task due on deadline 09:00-17:00 with one assignment
// in the given status.
func (hs *harness) assignment(t *testing.T, project *models.Project, volunteer *models.User, deadline time.Time, status string) *models.Task {
	t.Helper()
	task := testutil.Create(t, hs.db, &models.Task{
		ProjectID:    project.ID,
		CreatorID:    project.CreatorID,
		Text:         "Собрать мусор у озера",
		DeadlineDate: services.DateOnly(deadline),
		StartTime:    "09:00",
		EndTime:      "17:00",
		Status:       models.TaskStatusInProgress,
	})
	testutil.Create(t, hs.db, &models.TaskAssignment{
		TaskID:      task.ID,
		VolunteerID: volunteer.ID,
		Status:      status,
		Accepted:    status != models.AssignmentAssigned,
	})
	return task
}

func (hs *harness) pendingPhoto(t *testing.T, task *models.Task, volunteer *models.User) *models.Photo {
	t.Helper()
	taskID := task.ID
	return testutil.Create(t, hs.db, &models.Photo{
		VolunteerID: volunteer.ID,
		ProjectID:   task.ProjectID,
		TaskID:      &taskID,
		FilePath:    "photos/2025/5/20/x.jpg",
		FileID:      "proof-file",
		Status:      models.PhotoStatusPending,
		UploadedAt:  testNow,
	})
}

func callbacks(markup interface{}) []string {
	kb, ok := markup.(*InlineKeyboardMarkup)
	if !ok || kb == nil {
		return nil
	}
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			out = append(out, b.CallbackData)
		}
	}
	return out
}
