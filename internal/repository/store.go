package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reward-bot/internal/model"
)

// ErrStoreUnavailable wraps every backend failure.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store persists users and their report history. Implementations must make
// RecordSuccessfulFetch's counter increment atomic on the backend side.
type Store interface {
	// EnsureUser creates the user with a zero counter and no snapshot. It is
	// a no-op when the user already exists.
	EnsureUser(ctx context.Context, id int64, handle string, seenAt time.Time) error
	// RecordSuccessfulFetch appends a report record, then upserts the user's
	// snapshot, last-seen time and request counter. It returns the record id.
	RecordSuccessfulFetch(ctx context.Context, userID int64, queryKey string, payload model.Report, seenAt time.Time) (string, error)
	// GetLastReport returns the latest snapshot, or nil when there is none.
	GetLastReport(ctx context.Context, userID int64) (model.Report, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
	CountUsers(ctx context.Context) (int64, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	Close() error
}

// HistoryStore is implemented by backends that can list past report records.
type HistoryStore interface {
	Store
	// ListReports returns records newest first; limit <= 0 means all.
	ListReports(ctx context.Context, userID int64, limit int) ([]model.ReportRecord, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// normalizeTime keeps stored timestamps comparable across backends.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Second)
}
