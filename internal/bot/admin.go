package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"reward-bot/internal/model"
	"reward-bot/internal/repository"
	"reward-bot/internal/service"
)

const statsTimeLayout = "2006-01-02 15:04:05"

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) error {
	if err := b.policy.Authorize(msg.From.ID); err != nil {
		return b.sendText(msg.Chat.ID, textUnauthorized)
	}

	count, err := b.store.CountUsers(ctx)
	if err != nil {
		b.log.Error("count users", zap.Error(err))
		return b.sendText(msg.Chat.ID, textStorageUnavailable)
	}
	if count == 0 {
		return b.sendText(msg.Chat.ID, textNoUsers)
	}

	users, err := b.store.ListUsers(ctx)
	if err != nil {
		b.log.Error("list users", zap.Error(err))
		return b.sendText(msg.Chat.ID, textStorageUnavailable)
	}
	return b.sendChunks(msg.Chat.ID, formatStats(count, users))
}

func formatStats(count int64, users []model.User) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(textStatsHeader, count))
	for _, u := range users {
		lastSeen := "-"
		if !u.LastSeen.IsZero() {
			lastSeen = u.LastSeen.UTC().Format(statsTimeLayout)
		}
		sb.WriteString(fmt.Sprintf("%s | Last seen: %s | Requests: %d\n", escape(u.DisplayName()), lastSeen, u.TotalRequests))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) handleBroadcast(ctx context.Context, msg *tgbotapi.Message) error {
	res, err := b.broadcaster.Broadcast(ctx, msg.From.ID, msg.CommandArguments())
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return b.sendText(msg.Chat.ID, textUnauthorized)
	case errors.Is(err, service.ErrEmptyBroadcast):
		return b.sendText(msg.Chat.ID, textEmptyBroadcast)
	case errors.Is(err, repository.ErrStoreUnavailable):
		b.log.Error("broadcast recipients", zap.Error(err))
		return b.sendText(msg.Chat.ID, textStorageUnavailable)
	case err != nil:
		b.log.Error("broadcast", zap.Error(err))
		return b.sendText(msg.Chat.ID, fmt.Sprintf(textBroadcastFailed, escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf(textBroadcastDone, res.Sent, res.Total))
}

// SendDigest sends the daily user count to the administrator.
func (b *Bot) SendDigest(ctx context.Context) error {
	if b.config.AdminID == 0 {
		return nil
	}
	count, err := b.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	return b.sendText(b.config.AdminID, fmt.Sprintf(textDigest, count))
}
