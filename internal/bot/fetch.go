package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"reward-bot/internal/lookup"
	"reward-bot/internal/model"
	"reward-bot/internal/service"
)

type fetchOutcome int

const (
	outcomeRejected fetchOutcome = iota
	outcomeAborted
	outcomeSuccess
	outcomeNotFound
	outcomeTransportError
	outcomeStoreError
)

func (o fetchOutcome) String() string {
	switch o {
	case outcomeRejected:
		return "rejected"
	case outcomeAborted:
		return "aborted"
	case outcomeSuccess:
		return "success"
	case outcomeNotFound:
		return "not_found"
	case outcomeTransportError:
		return "transport_error"
	case outcomeStoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// fetchReport turns one free-text message into exactly one final message
// state: the rendered report or an error text.
func (b *Bot) fetchReport(ctx context.Context, msg *tgbotapi.Message) (fetchOutcome, error) {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	roll := strings.TrimSpace(msg.Text)
	log := b.log.With(zap.Int64("user_id", userID), zap.String("roll", roll))

	if roll == "" {
		log.Debug("fetch rejected", zap.Error(ErrEmptyInput))
		return outcomeRejected, b.sendText(chatID, textEmptyRoll)
	}

	if err := b.store.EnsureUser(ctx, userID, msg.From.UserName, b.now()); err != nil {
		log.Warn("ensure user", zap.Error(err))
	}

	placeholder, err := b.api.Send(tgbotapi.NewMessage(chatID, progressText(service.DefaultProgressFrames[0])))
	if err != nil {
		log.Error("send placeholder", zap.Error(err))
		return outcomeAborted, err
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.Debug("chat action", zap.Error(err))
	}

	progress := service.StartProgress(ctx, service.ProgressOptions{
		Frames:   service.DefaultProgressFrames,
		Interval: b.config.ProgressInterval,
		Start:    1,
		Logger:   log.Named("progress"),
	}, func(_ context.Context, frame string) error {
		_, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, placeholder.MessageID, progressText(frame)))
		return err
	})

	report, lookupErr := b.cachedLookup(ctx, roll)
	progress.Stop()

	outcome, text, markup := b.resolve(ctx, log, userID, roll, report, lookupErr)
	log.Info("fetch finished", zap.Stringer("outcome", outcome), zap.Int("progress_edits", progress.Edits()))
	return outcome, b.finish(chatID, placeholder.MessageID, text, markup)
}

func (b *Bot) cachedLookup(ctx context.Context, roll string) (model.Report, error) {
	if report, ok := b.cache.Get(roll); ok {
		return report, nil
	}
	report, err := b.lookup.Fetch(ctx, roll)
	if err != nil {
		return nil, err
	}
	b.cache.Put(roll, report)
	return report, nil
}

// resolve maps the lookup result to the final text. Persistence happens here
// and only on a successful lookup.
func (b *Bot) resolve(ctx context.Context, log *zap.Logger, userID int64, roll string, report model.Report, lookupErr error) (fetchOutcome, string, *tgbotapi.InlineKeyboardMarkup) {
	var notFound *lookup.NotFoundError
	switch {
	case errors.As(lookupErr, &notFound):
		return outcomeNotFound, "❌ " + escape(notFound.Error()), nil
	case lookupErr != nil:
		log.Warn("lookup failed", zap.Error(lookupErr))
		return outcomeTransportError, fmt.Sprintf(textLookupFailed, escape(lookupErr.Error())), nil
	}

	recordID, err := b.store.RecordSuccessfulFetch(ctx, userID, roll, report, b.now())
	if err != nil {
		log.Error("record fetch", zap.Error(err))
		return outcomeStoreError, textStoreFailed, nil
	}
	log.Debug("fetch recorded", zap.String("record_id", recordID))

	keyboard := reportKeyboard(b.config.AdminContactURL)
	return outcomeSuccess, formatReport(report), &keyboard
}

// finish performs the single terminal edit. If the placeholder can no longer
// be edited it is replaced by a fresh message.
func (b *Bot) finish(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	var edit tgbotapi.EditMessageTextConfig
	if markup != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	edit.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(edit)
	if err == nil {
		return nil
	}
	b.log.Warn("final edit failed, resending", zap.Int64("chat_id", chatID), zap.Error(err))

	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.log.Debug("delete placeholder", zap.Error(err))
	}
	if markup != nil {
		return b.sendWithReplyMarkup(chatID, text, *markup)
	}
	return b.sendText(chatID, text)
}
