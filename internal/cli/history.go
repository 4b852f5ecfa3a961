package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"reward-bot/internal/repository"
)

type historyEntry struct {
	ID        string         `json:"id"`
	RollNo    string         `json:"roll_no"`
	CreatedAt string         `json:"created_at"`
	Report    map[string]any `json:"report"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "history <user_id>",
		Short: "Print a user's report history, newest first",
		Args:  cobra.ExactArgs(1),
		Run:   runHistory,
	}
	cmd.Flags().IntP("limit", "l", 10, "Maximum number of records (0 for all)")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitErr("parse user id", err)
	}
	limit, _ := cmd.Flags().GetInt("limit")

	store := openStoreStrict(cmd)
	defer store.Close()

	history, ok := store.(repository.HistoryStore)
	if !ok {
		exitErr("history", fmt.Errorf("backend %s keeps no history", repository.BackendFor(cfg.Storage.DSN())))
	}
	records, err := history.ListReports(cmd.Context(), userID, limit)
	if err != nil {
		exitErr("list reports", err)
	}

	out := make([]historyEntry, 0, len(records))
	for _, r := range records {
		out = append(out, historyEntry{
			ID:        r.ID,
			RollNo:    r.RollNo,
			CreatedAt: r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			Report:    r.Report,
		})
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
