package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)

// NormalizePhone strips formatting characters and validates the result.
func NormalizePhone(raw string) (string, error) {
	phone := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if !phonePattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

type UserService struct {
	db       *gorm.DB
	logger   *zap.Logger
	notifier Notifier
	staffIDs map[int64]bool
}

func NewUserService(db *gorm.DB, logger *zap.Logger, staffTelegramIDs []int64) *UserService {
	staff := make(map[int64]bool, len(staffTelegramIDs))
	for _, id := range staffTelegramIDs {
		staff[id] = true
	}
	return &UserService{db: db, logger: logger, notifier: NopNotifier{}, staffIDs: staff}
}

func (s *UserService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *UserService) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

type RegisterInput struct {
	TelegramID       int64
	Name             string
	Phone            string
	OrganizationName string
}

// Register creates a user for a telegram identity. A pre-existing row with
// the same phone and no telegram identity is claimed instead of duplicated.
// A non-empty organization name records a pending organizer request and the
// admin is told about it.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidInput)
	}
	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.User
		if err := tx.Where("telegram_id = ?", in.TelegramID).First(&existing).Error; err == nil {
			return fmt.Errorf("%w: telegram id already registered", ErrConflict)
		}

		err := tx.Where("phone = ?", phone).First(&existing).Error
		switch {
		case err == nil && existing.TelegramID != nil:
			return fmt.Errorf("%w: phone already registered", ErrConflict)
		case err == nil:
			user = existing
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		tgID := in.TelegramID
		user.TelegramID = &tgID
		user.Name = name
		user.Phone = phone
		if s.staffIDs[tgID] {
			user.IsStaff = true
		}
		if org := strings.TrimSpace(in.OrganizationName); org != "" {
			user.OrganizationName = &org
			user.IsOrganizer = false
		}
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, err
	}

	if user.HasPendingOrganizerRequest() {
		if err := s.notifier.OrganizerRequested(ctx, &user); err != nil && !errors.Is(err, ErrNoAdmin) {
			s.logger.Error("organizer request notification failed", zap.Uint("user_id", user.ID), zap.Error(err))
		}
	}
	return &user, nil
}

// Admin returns the first staff user.
func (s *UserService) Admin(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("is_staff = ?", true).Order("id").First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *UserService) PendingOrganizers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("is_organizer = ? AND organization_name IS NOT NULL AND organization_name <> ''", false).
		Order("created_at").
		Find(&users).Error
	return users, err
}

// SetOrganizerStatus approves or rejects a pending organizer request.
// Rejection clears the organization name so the request disappears.
func (s *UserService) SetOrganizerStatus(ctx context.Context, userID uint, approve bool) (*models.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasPendingOrganizerRequest() {
		return nil, fmt.Errorf("%w: no pending organizer request", ErrConflict)
	}

	updates := map[string]interface{}{"is_organizer": true}
	if !approve {
		updates = map[string]interface{}{"is_organizer": false, "organization_name": nil}
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, err
	}
	user.IsOrganizer = approve
	if !approve {
		user.OrganizationName = nil
	}

	if err := s.notifier.OrganizerStatusChanged(ctx, user, approve); err != nil {
		s.logger.Error("organizer status notification failed", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	return user, nil
}

// AdjustRating adds delta to the user's rating atomically, keeping the
// result inside [MinRating, MaxRating] regardless of delta's magnitude.
func (s *UserService) AdjustRating(ctx context.Context, userID uint, delta int) (int, error) {
	return adjustRating(s.db.WithContext(ctx), userID, delta)
}

func adjustRating(db *gorm.DB, userID uint, delta int) (int, error) {
	// A delta beyond the rating span saturates exactly like the span itself.
	if delta > MaxRating-MinRating {
		delta = MaxRating - MinRating
	}
	if delta < MinRating-MaxRating {
		delta = MinRating - MaxRating
	}

	expr := gorm.Expr(
		"CASE WHEN rating + ? > ? THEN ? WHEN rating + ? < ? THEN ? ELSE rating + ? END",
		delta, MaxRating, MaxRating, delta, MinRating, MinRating, delta,
	)
	res := db.Model(&models.User{}).Where("id = ?", userID).Update("rating", expr)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}

	var user models.User
	if err := db.Select("rating").First(&user, userID).Error; err != nil {
		return 0, err
	}
	return user.Rating, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
