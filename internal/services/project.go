package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProjectService struct {
	db                *gorm.DB
	logger            *zap.Logger
	notifier          Notifier
	clock             Clock
	maxActiveProjects int
}

func NewProjectService(db *gorm.DB, logger *zap.Logger, clock Clock, maxActiveProjects int) *ProjectService {
	if maxActiveProjects <= 0 {
		maxActiveProjects = 1
	}
	return &ProjectService{
		db:                db,
		logger:            logger,
		notifier:          NopNotifier{},
		clock:             clock,
		maxActiveProjects: maxActiveProjects,
	}
}

func (s *ProjectService) SetNotifier(n Notifier) {
	s.notifier = n
}

type CreateProjectInput struct {
	Title       string
	Description string
	City        string
	Tags        []string
}

// ParseTags splits a comma separated tag line into unique lowercase names.
func ParseTags(line string) []string {
	seen := map[string]bool{}
	var tags []string
	for _, raw := range strings.Split(line, ",") {
		tag := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "#")))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// Create stores a new project in pending status and tells the admin.
func (s *ProjectService) Create(ctx context.Context, creatorID uint, in CreateProjectInput) (*models.Project, error) {
	title := strings.TrimSpace(in.Title)
	city := strings.TrimSpace(in.City)
	if title == "" || city == "" {
		return nil, fmt.Errorf("%w: title and city are required", ErrInvalidInput)
	}

	var project models.Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var creator models.User
		if err := tx.First(&creator, creatorID).Error; err != nil {
			return notFound(err)
		}
		if !creator.IsOrganizer {
			return ErrNotOrganizer
		}

		tags := make([]models.Tag, 0, len(in.Tags))
		for _, name := range in.Tags {
			tag := models.Tag{Name: name}
			if err := tx.Where(models.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
				return fmt.Errorf("tag %q: %w", name, err)
			}
			tags = append(tags, tag)
		}

		project = models.Project{
			Title:       title,
			Description: strings.TrimSpace(in.Description),
			City:        city,
			CreatorID:   creator.ID,
			Creator:     creator,
			Status:      models.ProjectStatusPending,
			Tags:        tags,
		}
		return tx.Omit("Creator").Create(&project).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.ProjectSubmitted(ctx, &project); err != nil && !errors.Is(err, ErrNoAdmin) {
		s.logger.Error("project submission notification failed", zap.Uint("project_id", project.ID), zap.Error(err))
	}
	return &project, nil
}

func (s *ProjectService) Get(ctx context.Context, id uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.WithContext(ctx).Preload("Tags").Preload("Creator").First(&project, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &project, nil
}

type ProjectFilter struct {
	City string
	Tag  string
}

// ListAvailable pages through approved projects the volunteer has not joined,
// newest first. A page past the end is empty.
func (s *ProjectService) ListAvailable(ctx context.Context, volunteerID uint, filter ProjectFilter, page, size int) ([]models.Project, Pagination, error) {
	scope := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.Project{}).
			Where("status = ?", models.ProjectStatusApproved).
			Where("id NOT IN (?)", s.db.Model(&models.VolunteerProject{}).Select("project_id").Where("volunteer_id = ?", volunteerID))
		if city := strings.TrimSpace(filter.City); city != "" {
			q = q.Where("LOWER(city) = ?", strings.ToLower(city))
		}
		if tag := strings.TrimSpace(filter.Tag); tag != "" {
			q = q.Where("id IN (?)", s.db.Table("project_tags").
				Select("project_tags.project_id").
				Joins("JOIN tags ON tags.id = project_tags.tag_id").
				Where("tags.name = ?", strings.ToLower(strings.TrimPrefix(tag, "#"))))
		}
		return q
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}
	p := newPagination(page, size, total)

	var projects []models.Project
	err := scope().Preload("Tags").
		Order("created_at DESC").Order("id DESC").
		Offset(p.Offset()).Limit(p.PageSize).
		Find(&projects).Error
	return projects, p, err
}

func (s *ProjectService) ListByCreator(ctx context.Context, creatorID uint, status string) ([]models.Project, error) {
	q := s.db.WithContext(ctx).Where("creator_id = ?", creatorID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var projects []models.Project
	err := q.Order("created_at DESC").Order("id DESC").Find(&projects).Error
	return projects, err
}

func (s *ProjectService) ListByStatus(ctx context.Context, status string) ([]models.Project, error) {
	q := s.db.WithContext(ctx).Preload("Tags").Preload("Creator")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var projects []models.Project
	err := q.Order("created_at DESC").Order("id DESC").Find(&projects).Error
	return projects, err
}

// Join adds the volunteer to an approved project, refusing when the volunteer
// already has the maximum number of active memberships. A refused join writes
// nothing.
func (s *ProjectService) Join(ctx context.Context, volunteerID, projectID uint) (*models.VolunteerProject, error) {
	var membership models.VolunteerProject
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Where("id = ? AND status = ?", projectID, models.ProjectStatusApproved).First(&project).Error; err != nil {
			return notFound(err)
		}

		var existing int64
		if err := tx.Model(&models.VolunteerProject{}).
			Where("volunteer_id = ? AND project_id = ?", volunteerID, projectID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyJoined
		}

		var active int64
		if err := tx.Model(&models.VolunteerProject{}).
			Where("volunteer_id = ? AND is_active = ?", volunteerID, true).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(s.maxActiveProjects) {
			return ErrProjectCapReached
		}

		membership = models.VolunteerProject{
			VolunteerID: volunteerID,
			ProjectID:   projectID,
			JoinedAt:    s.clock(),
			IsActive:    true,
		}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}
		membership.Project = project
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// Leave removes the membership row entirely.
func (s *ProjectService) Leave(ctx context.Context, volunteerID, projectID uint) error {
	res := s.db.WithContext(ctx).
		Where("volunteer_id = ? AND project_id = ?", volunteerID, projectID).
		Delete(&models.VolunteerProject{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ProjectService) Memberships(ctx context.Context, volunteerID uint) ([]models.VolunteerProject, error) {
	var rows []models.VolunteerProject
	err := s.db.WithContext(ctx).
		Preload("Project").
		Where("volunteer_id = ? AND is_active = ?", volunteerID, true).
		Order("joined_at").
		Find(&rows).Error
	return rows, err
}

// Volunteers lists active members of a project in join order.
func (s *ProjectService) Volunteers(ctx context.Context, projectID uint) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Joins("JOIN volunteer_projects ON volunteer_projects.volunteer_id = users.id").
		Where("volunteer_projects.project_id = ? AND volunteer_projects.is_active = ?", projectID, true).
		Order("volunteer_projects.joined_at").Order("users.id").
		Find(&users).Error
	return users, err
}

// SetStatus moves a project to approved or rejected and tells its creator.
func (s *ProjectService) SetStatus(ctx context.Context, projectID uint, status string) (*models.Project, error) {
	if status != models.ProjectStatusApproved && status != models.ProjectStatusRejected {
		return nil, fmt.Errorf("%w: project status %q", ErrInvalidInput, status)
	}
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(project).Update("status", status).Error; err != nil {
		return nil, err
	}
	project.Status = status

	if err := s.notifier.ProjectStatusChanged(ctx, project); err != nil {
		s.logger.Error("project status notification failed", zap.Uint("project_id", project.ID), zap.Error(err))
	}
	return project, nil
}
