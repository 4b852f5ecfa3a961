package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnauthorized is returned for admin-only actions from anyone else.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmptyBroadcast is returned when there is nothing to send.
	ErrEmptyBroadcast = errors.New("empty broadcast message")
)

// AdminPolicy guards admin-only commands. A zero AdminID authorizes nobody.
type AdminPolicy struct {
	AdminID int64
}

func (p AdminPolicy) Authorize(callerID int64) error {
	if p.AdminID == 0 || callerID != p.AdminID {
		return ErrUnauthorized
	}
	return nil
}

// Recipients enumerates the users a broadcast goes to.
type Recipients interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// SendFunc delivers text to one chat.
type SendFunc func(ctx context.Context, chatID int64, text string) error

// BroadcastResult counts delivery outcomes.
type BroadcastResult struct {
	Total  int
	Sent   int
	Failed int
}

// Broadcaster fans an admin message out to every known user.
type Broadcaster struct {
	users   Recipients
	send    SendFunc
	policy  AdminPolicy
	workers int
	log     *zap.Logger
}

func NewBroadcaster(users Recipients, send SendFunc, policy AdminPolicy, workers int, log *zap.Logger) *Broadcaster {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{users: users, send: send, policy: policy, workers: workers, log: log}
}

// Broadcast authorizes callerID, then attempts one delivery per user. A
// failed delivery is counted and logged; it never stops the fan-out.
func (b *Broadcaster) Broadcast(ctx context.Context, callerID int64, text string) (BroadcastResult, error) {
	if err := b.policy.Authorize(callerID); err != nil {
		return BroadcastResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return BroadcastResult{}, ErrEmptyBroadcast
	}

	ids, err := b.users.ListUserIDs(ctx)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("list recipients: %w", err)
	}

	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(b.workers)
	for _, id := range ids {
		if ctx.Err() != nil {
			failed.Add(1)
			continue
		}
		id := id
		g.Go(func() error {
			if err := b.deliver(ctx, id, text); err != nil {
				failed.Add(1)
				b.log.Warn("broadcast delivery failed", zap.Int64("chat_id", id), zap.Error(err))
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := BroadcastResult{Total: len(ids), Sent: int(sent.Load()), Failed: int(failed.Load())}
	b.log.Info("broadcast finished", zap.Int("total", res.Total), zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res, nil
}

func (b *Broadcaster) deliver(ctx context.Context, chatID int64, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return b.send(ctx, chatID, text)
}
