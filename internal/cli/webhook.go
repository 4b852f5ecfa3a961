package cli

import (
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"reward-bot/internal/bot"
)

func init() {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}

	set := &cobra.Command{
		Use:   "set [url]",
		Short: "Register the webhook (defaults to WEBHOOK_URL)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runWebhookSet,
	}
	set.Flags().Bool("drop-pending", false, "Drop updates queued while no webhook was set")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook",
		Run:   runWebhookDelete,
	}
	del.Flags().Bool("drop-pending", false, "Drop queued updates")

	info := &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		Run:   runWebhookInfo,
	}

	cmd.AddCommand(set, del, info)
	RootCmd.AddCommand(cmd)
}

// setWebhook registers url with Telegram. The v5 WebhookConfig has no
// secret_token field, so the call is made with raw params.
func setWebhook(api *tgbotapi.BotAPI, url, secret string, dropPending bool) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	params.AddBool("drop_pending_updates", dropPending)
	if _, err := api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	return nil
}

func runWebhookSet(cmd *cobra.Command, args []string) {
	url := cfg.WebhookURL
	if len(args) == 1 {
		url = args[0]
	}
	if url == "" {
		exitErr("webhook set", fmt.Errorf("no url given and WEBHOOK_URL is empty"))
	}
	drop, _ := cmd.Flags().GetBool("drop-pending")

	api, err := bot.NewAPI(cfg.TelegramToken)
	if err != nil {
		exitErr("connect", err)
	}
	if err := setWebhook(api, url, cfg.WebhookSecret, drop); err != nil {
		exitErr("webhook set", err)
	}
	fmt.Printf("webhook set to %s\n", url)
}

func runWebhookDelete(cmd *cobra.Command, args []string) {
	drop, _ := cmd.Flags().GetBool("drop-pending")

	api, err := bot.NewAPI(cfg.TelegramToken)
	if err != nil {
		exitErr("connect", err)
	}
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: drop}); err != nil {
		exitErr("webhook delete", err)
	}
	fmt.Println("webhook deleted")
}

func runWebhookInfo(cmd *cobra.Command, args []string) {
	api, err := bot.NewAPI(cfg.TelegramToken)
	if err != nil {
		exitErr("connect", err)
	}
	info, err := api.GetWebhookInfo()
	if err != nil {
		exitErr("webhook info", err)
	}
	b, _ := json.MarshalIndent(info, "", "  ")
	fmt.Println(string(b))
}
