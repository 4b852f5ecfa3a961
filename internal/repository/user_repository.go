package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reward-bot/internal/model"
)

type userRow struct {
	UserID        int64  `gorm:"primaryKey;autoIncrement:false"`
	Username      string `gorm:"size:255"`
	LastSeen      time.Time
	TotalRequests int64 `gorm:"not null;default:0"`
	LastReport    datatypes.JSONMap
}

func (userRow) TableName() string { return "users" }

func (r userRow) toModel() model.User {
	user := model.User{
		ID:            r.UserID,
		Username:      r.Username,
		LastSeen:      r.LastSeen,
		TotalRequests: r.TotalRequests,
	}
	if len(r.LastReport) > 0 {
		user.LastReport = model.Report(r.LastReport)
	}
	return user
}

// GormStore is the relational Store backend (SQLite or MySQL).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// EnsureUser inserts the user unless the id already exists. An existing user
// only has a non-empty handle refreshed.
func (s *GormStore) EnsureUser(ctx context.Context, id int64, handle string, seenAt time.Time) error {
	row := userRow{
		UserID:   id,
		Username: handle,
		LastSeen: normalizeTime(seenAt),
	}
	conflict := clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}
	if handle != "" {
		conflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username"}),
		}
	}
	err := s.db.WithContext(ctx).Clauses(conflict).Create(&row).Error
	if err != nil {
		return unavailable("ensure user", err)
	}
	return nil
}

func (s *GormStore) GetLastReport(ctx context.Context, userID int64) (model.Report, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, unavailable("get last report", err)
	}
	if len(row.LastReport) == 0 {
		return nil, nil
	}
	return model.Report(row.LastReport), nil
}

func (s *GormStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&userRow{}).Order("user_id ASC").Pluck("user_id", &ids).Error; err != nil {
		return nil, unavailable("list user ids", err)
	}
	return ids, nil
}

func (s *GormStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&userRow{}).Count(&n).Error; err != nil {
		return 0, unavailable("count users", err)
	}
	return n, nil
}

func (s *GormStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("user_id ASC").Find(&rows).Error; err != nil {
		return nil, unavailable("list users", err)
	}
	users := make([]model.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return sqlDB.Close()
}
