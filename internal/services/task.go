package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TaskService struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  Clock
}

func NewTaskService(db *gorm.DB, logger *zap.Logger, clock Clock) *TaskService {
	return &TaskService{db: db, logger: logger, clock: clock}
}

type CreateTaskInput struct {
	ProjectID    uint
	CreatorID    uint
	Text         string
	ImagePath    string
	ImageFileID  string
	Deadline     time.Time
	StartHour    int
	EndHour      int
	VolunteerIDs []uint
}

func (in CreateTaskInput) validate(today time.Time) error {
	if strings.TrimSpace(in.Text) == "" {
		return fmt.Errorf("%w: empty task text", ErrInvalidInput)
	}
	if in.StartHour < 0 || in.EndHour > 23 || in.EndHour <= in.StartHour {
		return fmt.Errorf("%w: end hour must be after start hour", ErrInvalidInput)
	}
	if DateOnly(in.Deadline).Before(DateOnly(today)) {
		return fmt.Errorf("%w: deadline in the past", ErrInvalidInput)
	}
	if len(in.VolunteerIDs) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalidInput)
	}
	return nil
}

// Create stores the task and one assignment per recipient in a single
// transaction. Every recipient must be an active member of the project.
func (s *TaskService) Create(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	if err := in.validate(s.clock()); err != nil {
		return nil, err
	}

	var task models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.First(&project, in.ProjectID).Error; err != nil {
			return notFound(err)
		}
		if project.CreatorID != in.CreatorID {
			return ErrForbidden
		}
		if project.Status != models.ProjectStatusApproved {
			return fmt.Errorf("%w: project is not approved", ErrInvalidInput)
		}

		var members int64
		if err := tx.Model(&models.VolunteerProject{}).
			Where("project_id = ? AND is_active = ? AND volunteer_id IN ?", in.ProjectID, true, in.VolunteerIDs).
			Count(&members).Error; err != nil {
			return err
		}
		if members != int64(len(uniqueIDs(in.VolunteerIDs))) {
			return fmt.Errorf("%w: recipient is not a project member", ErrInvalidInput)
		}

		task = models.Task{
			ProjectID:    in.ProjectID,
			CreatorID:    in.CreatorID,
			Text:         strings.TrimSpace(in.Text),
			ImagePath:    in.ImagePath,
			ImageFileID:  in.ImageFileID,
			DeadlineDate: DateOnly(in.Deadline),
			StartTime:    FormatHour(in.StartHour),
			EndTime:      FormatHour(in.EndHour),
			Status:       models.TaskStatusOpen,
		}
		if err := tx.Create(&task).Error; err != nil {
			return err
		}

		for _, id := range uniqueIDs(in.VolunteerIDs) {
			a := models.TaskAssignment{TaskID: task.ID, VolunteerID: id, Status: models.AssignmentAssigned}
			if err := tx.Create(&a).Error; err != nil {
				return fmt.Errorf("assign volunteer %d: %w", id, err)
			}
			task.Assignments = append(task.Assignments, a)
		}
		task.Project = project
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *TaskService) Get(ctx context.Context, id uint) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).Preload("Project").First(&task, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (s *TaskService) Assignment(ctx context.Context, taskID, volunteerID uint) (*models.TaskAssignment, error) {
	return findAssignment(s.db.WithContext(ctx), taskID, volunteerID)
}

func findAssignment(db *gorm.DB, taskID, volunteerID uint) (*models.TaskAssignment, error) {
	var a models.TaskAssignment
	err := db.Preload("Task").Preload("Task.Project").Preload("Volunteer").
		Where("task_id = ? AND volunteer_id = ?", taskID, volunteerID).
		First(&a).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// Accept marks the assignment accepted. The first acceptance moves an open
// task to in_progress.
func (s *TaskService) Accept(ctx context.Context, taskID, volunteerID uint) (*models.TaskAssignment, error) {
	return s.transition(ctx, taskID, volunteerID, EventAccept, func(tx *gorm.DB, a *models.TaskAssignment) error {
		a.Accepted = true
		if a.Task.Status == models.TaskStatusOpen {
			if err := tx.Model(&models.Task{}).Where("id = ? AND status = ?", a.TaskID, models.TaskStatusOpen).
				Update("status", models.TaskStatusInProgress).Error; err != nil {
				return err
			}
			a.Task.Status = models.TaskStatusInProgress
		}
		return nil
	})
}

func (s *TaskService) Decline(ctx context.Context, taskID, volunteerID uint) (*models.TaskAssignment, error) {
	return s.transition(ctx, taskID, volunteerID, EventDecline, func(_ *gorm.DB, a *models.TaskAssignment) error {
		a.Accepted = false
		return nil
	})
}

// Complete records the volunteer's claim that the work is done. The
// assignment then waits for photo proof. Past the deadline nothing changes.
func (s *TaskService) Complete(ctx context.Context, taskID, volunteerID uint) (*models.TaskAssignment, error) {
	return s.transition(ctx, taskID, volunteerID, EventComplete, func(_ *gorm.DB, a *models.TaskAssignment) error {
		now := s.clock()
		if TaskExpired(&a.Task, now) {
			return ErrTaskExpired
		}
		a.Completed = true
		a.CompletedAt = &now
		return nil
	})
}

func (s *TaskService) transition(ctx context.Context, taskID, volunteerID uint, ev AssignmentEvent, apply func(tx *gorm.DB, a *models.TaskAssignment) error) (*models.TaskAssignment, error) {
	var result *models.TaskAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := findAssignment(tx, taskID, volunteerID)
		if err != nil {
			return err
		}
		next, err := NextAssignmentStatus(a.Status, ev)
		if err != nil {
			return err
		}
		a.Status = next
		if err := apply(tx, a); err != nil {
			return err
		}
		if err := tx.Model(&models.TaskAssignment{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
			"status":       a.Status,
			"accepted":     a.Accepted,
			"completed":    a.Completed,
			"completed_at": a.CompletedAt,
		}).Error; err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ActiveForVolunteer lists accepted assignments that still need work or proof.
func (s *TaskService) ActiveForVolunteer(ctx context.Context, volunteerID uint) ([]models.TaskAssignment, error) {
	var rows []models.TaskAssignment
	err := s.db.WithContext(ctx).
		Preload("Task").Preload("Task.Project").
		Joins("JOIN tasks ON tasks.id = task_assignments.task_id").
		Where("task_assignments.volunteer_id = ? AND task_assignments.status IN ?", volunteerID,
			[]string{models.AssignmentAccepted, models.AssignmentPhotoPending}).
		Order("tasks.deadline_date").Order("task_assignments.id").
		Find(&rows).Error
	return rows, err
}

// DueOn lists accepted, unfinished assignments whose deadline is the given date.
func (s *TaskService) DueOn(ctx context.Context, date time.Time) ([]models.TaskAssignment, error) {
	var rows []models.TaskAssignment
	err := s.db.WithContext(ctx).
		Preload("Task").Preload("Task.Project").Preload("Volunteer").
		Joins("JOIN tasks ON tasks.id = task_assignments.task_id").
		Where("task_assignments.status = ? AND tasks.deadline_date = ?", models.AssignmentAccepted, DateOnly(date)).
		Order("task_assignments.id").
		Find(&rows).Error
	return rows, err
}

type TaskSummary struct {
	models.Task
	Assigned  int `json:"assigned"`
	Accepted  int `json:"accepted"`
	Completed int `json:"completed"`
}

func (s *TaskService) List(ctx context.Context) ([]TaskSummary, error) {
	var tasks []models.Task
	if err := s.db.WithContext(ctx).Preload("Assignments").Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	out := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		sum := TaskSummary{Task: t, Assigned: len(t.Assignments)}
		for _, a := range t.Assignments {
			if a.Accepted {
				sum.Accepted++
			}
			if a.Completed {
				sum.Completed++
			}
		}
		sum.Task.Assignments = nil
		out = append(out, sum)
	}
	return out, nil
}

// closeTaskIfDone marks a task completed once no assignment is still in
// flight and at least one was approved.
func closeTaskIfDone(tx *gorm.DB, taskID uint) error {
	var inFlight, approved int64
	if err := tx.Model(&models.TaskAssignment{}).
		Where("task_id = ? AND status IN ?", taskID,
			[]string{models.AssignmentAssigned, models.AssignmentAccepted, models.AssignmentPhotoPending}).
		Count(&inFlight).Error; err != nil {
		return err
	}
	if inFlight > 0 {
		return nil
	}
	if err := tx.Model(&models.TaskAssignment{}).
		Where("task_id = ? AND status = ?", taskID, models.AssignmentApproved).
		Count(&approved).Error; err != nil {
		return err
	}
	if approved == 0 {
		return nil
	}
	return tx.Model(&models.Task{}).Where("id = ?", taskID).Update("status", models.TaskStatusCompleted).Error
}
