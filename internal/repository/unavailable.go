package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reward-bot/internal/model"
)

// ErrNotConfigured is the reason reported when no storage is configured.
var ErrNotConfigured = errors.New("no storage configured")

// Unavailable is the Store used when no backend could be opened. Every call
// fails with ErrStoreUnavailable.
type Unavailable struct {
	reason error
}

func NewUnavailable(reason error) *Unavailable {
	if reason == nil {
		reason = ErrNotConfigured
	}
	return &Unavailable{reason: reason}
}

func (u *Unavailable) err() error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, u.reason)
}

func (u *Unavailable) EnsureUser(context.Context, int64, string, time.Time) error {
	return u.err()
}

func (u *Unavailable) RecordSuccessfulFetch(context.Context, int64, string, model.Report, time.Time) (string, error) {
	return "", u.err()
}

func (u *Unavailable) GetLastReport(context.Context, int64) (model.Report, error) {
	return nil, u.err()
}

func (u *Unavailable) ListUserIDs(context.Context) ([]int64, error) {
	return nil, u.err()
}

func (u *Unavailable) CountUsers(context.Context) (int64, error) {
	return 0, u.err()
}

func (u *Unavailable) ListUsers(context.Context) ([]model.User, error) {
	return nil, u.err()
}

func (u *Unavailable) Close() error { return nil }
