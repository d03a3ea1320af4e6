package services

import (
	"context"
	"fmt"
	"time"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const PhotoCategory = "photos"

// FileStore persists uploaded bytes and returns the path relative to the
// media root.
type FileStore interface {
	Save(ctx context.Context, category string, ownerID int64, fileID string, at time.Time, data []byte) (string, error)
	Remove(relPath string) error
}

type PhotoService struct {
	db       *gorm.DB
	logger   *zap.Logger
	notifier Notifier
	clock    Clock
	store    FileStore
}

func NewPhotoService(db *gorm.DB, logger *zap.Logger, clock Clock, store FileStore) *PhotoService {
	return &PhotoService{db: db, logger: logger, notifier: NopNotifier{}, clock: clock, store: store}
}

func (s *PhotoService) SetNotifier(n Notifier) {
	s.notifier = n
}

// CheckUpload verifies the volunteer may still send proof for the task.
func (s *PhotoService) CheckUpload(ctx context.Context, taskID, volunteerID uint) (*models.TaskAssignment, error) {
	a, err := findAssignment(s.db.WithContext(ctx), taskID, volunteerID)
	if err != nil {
		return nil, err
	}
	if a.Status != models.AssignmentPhotoPending {
		return nil, fmt.Errorf("%w: assignment is %s", ErrInvalidTransition, a.Status)
	}
	if TaskExpired(&a.Task, s.clock()) {
		return nil, ErrTaskExpired
	}
	return a, nil
}

type SubmitPhotoInput struct {
	VolunteerID uint
	TelegramID  int64
	TaskID      uint
	FileID      string
	Data        []byte
}

// Submit stores proof for a task and hands it to the organizer. When only
// the organizer notification fails the photo is kept and returned together
// with an ErrNotifyFailed error.
func (s *PhotoService) Submit(ctx context.Context, in SubmitPhotoInput) (*models.Photo, error) {
	if len(in.Data) == 0 {
		return nil, ErrEmptyPayload
	}
	a, err := s.CheckUpload(ctx, in.TaskID, in.VolunteerID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	path, err := s.store.Save(ctx, PhotoCategory, in.TelegramID, in.FileID, now, in.Data)
	if err != nil {
		return nil, fmt.Errorf("save photo: %w", err)
	}

	taskID := a.TaskID
	photo := models.Photo{
		VolunteerID: in.VolunteerID,
		ProjectID:   a.Task.ProjectID,
		TaskID:      &taskID,
		FilePath:    path,
		FileID:      in.FileID,
		Status:      models.PhotoStatusPending,
		UploadedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&photo).Error; err != nil {
		if rmErr := s.store.Remove(path); rmErr != nil {
			s.logger.Warn("failed to remove orphaned photo", zap.String("path", path), zap.Error(rmErr))
		}
		return nil, err
	}

	loaded, err := s.Get(ctx, photo.ID)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.PhotoSubmitted(ctx, loaded); err != nil {
		s.logger.Error("photo submission notification failed", zap.Uint("photo_id", photo.ID), zap.Error(err))
		return loaded, fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}
	return loaded, nil
}

func (s *PhotoService) Get(ctx context.Context, id uint) (*models.Photo, error) {
	var photo models.Photo
	err := s.db.WithContext(ctx).
		Preload("Volunteer").Preload("Project").Preload("Project.Creator").Preload("Task").
		First(&photo, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &photo, nil
}

// PendingForOrganizer pages through pending photos of the organizer's
// projects, newest upload first.
func (s *PhotoService) PendingForOrganizer(ctx context.Context, organizerID uint, page, size int) ([]models.Photo, Pagination, error) {
	scope := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Photo{}).
			Joins("JOIN projects ON projects.id = photos.project_id").
			Where("projects.creator_id = ? AND photos.status = ?", organizerID, models.PhotoStatusPending)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}
	p := newPagination(page, size, total)

	var photos []models.Photo
	err := scope().
		Preload("Volunteer").Preload("Project").Preload("Task").
		Order("photos.uploaded_at DESC").Order("photos.id DESC").
		Offset(p.Offset()).Limit(p.PageSize).
		Find(&photos).Error
	return photos, p, err
}

func (s *PhotoService) List(ctx context.Context, status string) ([]models.Photo, error) {
	q := s.db.WithContext(ctx).Preload("Volunteer").Preload("Project")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var photos []models.Photo
	err := q.Order("uploaded_at DESC").Order("id DESC").Find(&photos).Error
	return photos, err
}

// Approve marks a pending photo approved. The volunteer is told after the
// rating step, see Rate.
func (s *PhotoService) Approve(ctx context.Context, photoID uint) (*models.Photo, error) {
	return s.moderate(ctx, photoID, models.PhotoStatusApproved, EventApprove, "")
}

// Reject marks a pending photo rejected and tells the volunteer. Ratings are
// left untouched.
func (s *PhotoService) Reject(ctx context.Context, photoID uint, feedback string) (*models.Photo, error) {
	photo, err := s.moderate(ctx, photoID, models.PhotoStatusRejected, EventReject, feedback)
	if err != nil {
		return nil, err
	}
	s.notifyModerated(ctx, photo)
	return photo, nil
}

func (s *PhotoService) moderate(ctx context.Context, photoID uint, status string, ev AssignmentEvent, feedback string) (*models.Photo, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var photo models.Photo
		if err := tx.First(&photo, photoID).Error; err != nil {
			return notFound(err)
		}
		if photo.Status != models.PhotoStatusPending {
			return fmt.Errorf("%w: photo already %s", ErrConflict, photo.Status)
		}

		now := s.clock()
		if err := tx.Model(&photo).Updates(map[string]interface{}{
			"status":       status,
			"moderated_at": now,
			"feedback":     feedback,
		}).Error; err != nil {
			return err
		}

		if photo.TaskID == nil {
			return nil
		}
		var a models.TaskAssignment
		err := tx.Where("task_id = ? AND volunteer_id = ?", *photo.TaskID, photo.VolunteerID).First(&a).Error
		if err != nil {
			return notFound(err)
		}
		// A second photo for an already moderated assignment only changes the photo.
		if next, err := NextAssignmentStatus(a.Status, ev); err == nil {
			if err := tx.Model(&a).Update("status", next).Error; err != nil {
				return err
			}
		}
		return closeTaskIfDone(tx, *photo.TaskID)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, photoID)
}

// Rate applies the organizer's 1..5 grade to an approved photo, converts it
// into reputation points for the volunteer and tells the volunteer. A nil
// rating skips the grade but still sends the notice. The returned photo
// carries the points actually gained in RatingGain.
func (s *PhotoService) Rate(ctx context.Context, photoID uint, rating *int) (*models.Photo, error) {
	var gain int
	if rating != nil {
		points, err := RatingPoints(*rating)
		if err != nil {
			return nil, err
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var photo models.Photo
			if err := tx.First(&photo, photoID).Error; err != nil {
				return notFound(err)
			}
			if photo.Status != models.PhotoStatusApproved || photo.Rating != nil {
				return fmt.Errorf("%w: photo cannot be rated", ErrConflict)
			}
			if err := tx.Model(&photo).Update("rating", *rating).Error; err != nil {
				return err
			}
			if photo.TaskID != nil {
				if err := tx.Model(&models.TaskAssignment{}).
					Where("task_id = ? AND volunteer_id = ?", *photo.TaskID, photo.VolunteerID).
					Update("rating", *rating).Error; err != nil {
					return err
				}
			}
			var before models.User
			if err := tx.Select("rating").First(&before, photo.VolunteerID).Error; err != nil {
				return notFound(err)
			}
			after, err := adjustRating(tx, photo.VolunteerID, points)
			if err != nil {
				return err
			}
			gain = after - before.Rating
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	photo, err := s.Get(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if photo.Status != models.PhotoStatusApproved {
		return nil, fmt.Errorf("%w: photo is %s", ErrConflict, photo.Status)
	}
	photo.RatingGain = gain
	s.notifyModerated(ctx, photo)
	return photo, nil
}

func (s *PhotoService) notifyModerated(ctx context.Context, photo *models.Photo) {
	if err := s.notifier.PhotoModerated(ctx, photo); err != nil {
		s.logger.Error("photo moderation notification failed", zap.Uint("photo_id", photo.ID), zap.Error(err))
	}
}
