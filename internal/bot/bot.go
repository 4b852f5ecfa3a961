package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"reward-bot/internal/config"
	"reward-bot/internal/model"
	"reward-bot/internal/repository"
	"reward-bot/internal/service"
)

const (
	cbCheckAnother = "check_another"

	btnCheckAnother = "Check another roll"
	btnContactAdmin = "Contact Admin"
)

const (
	textGreeting           = "👋 Hi %s! Send your roll number (e.g., 7376221CS259) to get your student report."
	textEmptyRoll          = "Please send a roll number."
	textFetching           = "⏳ Fetching your data..."
	textLookupFailed       = "❌ Error calling API: %s"
	textStoreFailed        = "⚠️ Your report was fetched but could not be saved. Please try again later."
	textStorageUnavailable = "⚠️ Storage is unavailable right now. Please try again later."
	textCheckAnother       = "📩 Send your roll number to fetch another report."
	textNoLastReport       = "❌ No previous report found. Send your roll number first."
	textUnauthorized       = "❌ You are not authorized to use this command."
	textEmptyBroadcast     = "❌ Please provide a message to broadcast."
	textBroadcastPrefix    = "📢 Broadcast:\n"
	textBroadcastDone      = "✅ Message sent to %d of %d users."
	textBroadcastFailed    = "❌ Broadcast failed: %s"
	textNoUsers            = "📊 No users yet."
	textStatsHeader        = "📊 Total unique users: %d\n\n👥 Users:\n"
	textDigest             = "📊 Daily digest: %d users."
	textUnknownCommand     = "Unknown command. Send a roll number or /start."
)

// maxMessageLen keeps chunks under Telegram's 4096 character limit.
const maxMessageLen = 4000

// ErrEmptyInput is logged when a message carries no roll number.
var ErrEmptyInput = errors.New("empty roll number")

// API is the part of the Telegram client the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Lookup fetches a report for a roll number.
type Lookup interface {
	Fetch(ctx context.Context, roll string) (model.Report, error)
}

// Bot aggregates the Telegram API with storage and lookup.
type Bot struct {
	api         API
	store       repository.Store
	lookup      Lookup
	config      *config.Config
	policy      service.AdminPolicy
	broadcaster *service.Broadcaster
	cache       *service.ReportCache
	tracker     *service.UpdateTracker
	log         *zap.Logger
	now         func() time.Time
}

// NewAPI authorizes against Telegram with a bounded HTTP client.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("bot token is not configured")
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

func New(api API, store repository.Store, lookup Lookup, cfg *config.Config, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bot{
		api:     api,
		store:   store,
		lookup:  lookup,
		config:  cfg,
		policy:  service.AdminPolicy{AdminID: cfg.AdminID},
		cache:   service.NewReportCache(cfg.CacheTTL),
		tracker: service.NewUpdateTracker(cfg.DedupTTL, cfg.DedupSize),
		log:     log,
		now:     time.Now,
	}
	b.broadcaster = service.NewBroadcaster(store, b.sendBroadcast, b.policy, cfg.BroadcastWorkers, log.Named("broadcast"))
	return b
}

// HandleUpdate routes one decoded update. Redelivered update ids are dropped.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if b.tracker.Seen(update.UpdateID) {
		b.log.Debug("duplicate update dropped", zap.Int("update_id", update.UpdateID))
		return nil
	}

	switch {
	case update.CallbackQuery != nil:
		return b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		return b.handleMessage(ctx, update.Message)
	}
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil || msg.From.IsBot || msg.Chat == nil {
		return nil
	}

	if msg.IsCommand() {
		b.log.Info("command", zap.Int64("user_id", msg.From.ID), zap.String("command", msg.Command()))
		return b.handleCommand(ctx, msg)
	}

	_, err := b.fetchReport(ctx, msg)
	return err
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "stats":
		return b.handleStats(ctx, msg)
	case "broadcast":
		return b.handleBroadcast(ctx, msg)
	case "lastreport":
		return b.handleLastReport(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, textUnknownCommand)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if err := b.store.EnsureUser(ctx, msg.From.ID, msg.From.UserName, b.now()); err != nil {
		b.log.Warn("ensure user", zap.Int64("user_id", msg.From.ID), zap.Error(err))
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf(textGreeting, escape(name)))
}

func (b *Bot) handleLastReport(ctx context.Context, msg *tgbotapi.Message) error {
	report, err := b.store.GetLastReport(ctx, msg.From.ID)
	if err != nil {
		b.log.Error("get last report", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return b.sendText(msg.Chat.ID, textStorageUnavailable)
	}
	if report == nil {
		return b.sendText(msg.Chat.ID, textNoLastReport)
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, formatReport(report), reportKeyboard(b.config.AdminContactURL))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("callback ack", zap.Error(err))
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}

	switch cb.Data {
	case cbCheckAnother:
		edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, textCheckAnother)
		if _, err := b.api.Send(edit); err != nil {
			b.log.Debug("check another edit swallowed", zap.Error(err))
		}
	}
	return nil
}

// Housekeeping prunes the lookup cache and the update tracker.
func (b *Bot) Housekeeping() {
	cached := b.cache.Prune()
	updates := b.tracker.Prune()
	b.log.Debug("housekeeping", zap.Int("cache_pruned", cached), zap.Int("updates_pruned", updates))
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendChunks(chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if err := b.sendText(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) sendBroadcast(_ context.Context, chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, textBroadcastPrefix+text))
	return err
}

func escape(s string) string {
	return html.EscapeString(s)
}
