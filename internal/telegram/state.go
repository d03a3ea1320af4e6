package telegram

import (
	"sync"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
)

// Step is the position of a user inside a multi-message dialogue.
type Step string

const (
	StepIdle Step = ""

	StepRegName  Step = "reg_name"
	StepRegPhone Step = "reg_phone"
	StepRegRole  Step = "reg_role"
	StepRegOrg   Step = "reg_org"

	StepProjTitle       Step = "proj_title"
	StepProjDescription Step = "proj_description"
	StepProjCity        Step = "proj_city"
	StepProjTags        Step = "proj_tags"

	StepTaskProject    Step = "task_project"
	StepTaskRecipients Step = "task_recipients"
	StepTaskPickOne    Step = "task_pick_one"
	StepTaskPickMany   Step = "task_pick_many"
	StepTaskText       Step = "task_text"
	StepTaskYear       Step = "task_year"
	StepTaskMonth      Step = "task_month"
	StepTaskDay        Step = "task_day"
	StepTaskStartHour  Step = "task_start_hour"
	StepTaskEndHour    Step = "task_end_hour"
	StepTaskPhoto      Step = "task_photo"
	StepTaskConfirm    Step = "task_confirm"

	StepBrowseProjects Step = "browse_projects"
	StepLeavePick      Step = "leave_pick"

	StepCompleteConfirm Step = "complete_confirm"
	StepProofPhoto      Step = "proof_photo"

	StepModBrowse Step = "mod_browse"
	StepModRate   Step = "mod_rate"
)

const (
	RecipientsAll  = "all"
	RecipientsOne  = "one"
	RecipientsMany = "many"
)

type RosterEntry struct {
	UserID  uint
	Name    string
	ChatID  int64
	HasChat bool
}

type TaskDraft struct {
	ProjectID    uint
	ProjectTitle string
	Roster       []RosterEntry
	Mode         string
	// Selected holds roster indexes.
	Selected    map[int]bool
	Text        string
	Year        int
	Month       int
	Day         int
	StartHour   int
	EndHour     int
	ImagePath   string
	ImageFileID string
}

func (d *TaskDraft) Recipients() []RosterEntry {
	var out []RosterEntry
	for i, e := range d.Roster {
		if d.Selected[i] {
			out = append(out, e)
		}
	}
	return out
}

type ProjectDraft struct {
	Title       string
	Description string
	City        string
}

// Session is the per-user scratch data of the dialogue in progress.
type Session struct {
	Step Step

	Name  string
	Phone string

	Project ProjectDraft
	Task    *TaskDraft

	Filter services.ProjectFilter
	Page   int

	TaskID  uint
	PhotoID uint
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// StateManager keeps dialogue sessions in memory and serializes work per
// user: Lock must be held while an update for that user is processed.
type StateManager struct {
	mu    sync.RWMutex
	users map[int64]*Session
	locks map[int64]*userLock
}

func NewStateManager() *StateManager {
	return &StateManager{
		users: make(map[int64]*Session),
		locks: make(map[int64]*userLock),
	}
}

// Lock blocks until no other update for userID is in flight and returns the
// matching unlock function.
func (m *StateManager) Lock(userID int64) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

func (m *StateManager) Get(userID int64) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.users[userID]
	if !ok {
		return &Session{}
	}
	cp := *s
	return &cp
}

func (m *StateManager) Set(userID int64, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil || s.Step == StepIdle {
		delete(m.users, userID)
		return
	}
	m.users[userID] = s
}

func (m *StateManager) Clear(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}

func (m *StateManager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}
