package repository

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reward-bot/internal/model"
)

type reportRow struct {
	ID        string `gorm:"primaryKey;size:26"`
	UserID    int64  `gorm:"index;not null"`
	RollNo    string `gorm:"size:50"`
	Report    datatypes.JSONMap
	CreatedAt time.Time
}

func (reportRow) TableName() string { return "reports" }

// RecordSuccessfulFetch appends the report and bumps the user's counter in one
// transaction.
func (s *GormStore) RecordSuccessfulFetch(ctx context.Context, userID int64, queryKey string, payload model.Report, seenAt time.Time) (string, error) {
	seenAt = normalizeTime(seenAt)
	snapshot := datatypes.JSONMap(payload.Clone())
	record := reportRow{
		ID:        ulid.Make().String(),
		UserID:    userID,
		RollNo:    queryKey,
		Report:    snapshot,
		CreatedAt: seenAt,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		user := userRow{
			UserID:        userID,
			LastSeen:      seenAt,
			TotalRequests: 1,
			LastReport:    snapshot,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_seen":      gorm.Expr("CASE WHEN last_seen IS NULL OR last_seen < ? THEN ? ELSE last_seen END", seenAt, seenAt),
				"total_requests": gorm.Expr("total_requests + 1"),
				"last_report":    snapshot,
			}),
		}).Create(&user).Error
	})
	if err != nil {
		return "", unavailable("record fetch", err)
	}
	return record.ID, nil
}

var _ HistoryStore = (*GormStore)(nil)

// ListReports returns the user's report history, newest first.
func (s *GormStore) ListReports(ctx context.Context, userID int64, limit int) ([]model.ReportRecord, error) {
	var rows []reportRow
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, unavailable("list reports", err)
	}
	records := make([]model.ReportRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, model.ReportRecord{
			ID:        row.ID,
			UserID:    row.UserID,
			RollNo:    row.RollNo,
			Report:    model.Report(row.Report),
			CreatedAt: row.CreatedAt,
		})
	}
	return records, nil
}
