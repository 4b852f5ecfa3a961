package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"reward-bot/internal/repository"
)

type statsOutput struct {
	Users    int64       `json:"users"`
	Listing  []statsUser `json:"listing,omitempty"`
	Backend  string      `json:"backend"`
	Requests int64       `json:"total_requests"`
}

type statsUser struct {
	ID            int64  `json:"id"`
	Username      string `json:"username,omitempty"`
	LastSeen      string `json:"last_seen,omitempty"`
	TotalRequests int64  `json:"total_requests"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print user statistics from the configured store",
		Run:   runStats,
	}
	cmd.Flags().Bool("list", false, "Include every user")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	list, _ := cmd.Flags().GetBool("list")

	store := openStoreStrict(cmd)
	defer store.Close()

	count, err := store.CountUsers(cmd.Context())
	if err != nil {
		exitErr("count users", err)
	}
	users, err := store.ListUsers(cmd.Context())
	if err != nil {
		exitErr("list users", err)
	}

	out := statsOutput{Users: count, Backend: repository.BackendFor(cfg.Storage.DSN())}
	for _, u := range users {
		out.Requests += u.TotalRequests
		if !list {
			continue
		}
		su := statsUser{ID: u.ID, Username: u.Username, TotalRequests: u.TotalRequests}
		if !u.LastSeen.IsZero() {
			su.LastSeen = u.LastSeen.UTC().Format("2006-01-02 15:04:05")
		}
		out.Listing = append(out.Listing, su)
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
