package main

import (
	"context"
	"fmt"
	"time"

	amoria "github.com/amoria-app/amoria-go"
	"github.com/spf13/cobra"
)

var matchesLimit int

func init() {
	rootCmd.AddCommand(matchesCmd)
	matchesCmd.Flags().IntVar(&matchesLimit, "limit", 25, "maximum matches to list")
}

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "List your matches",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		matches, err := client.Matches.List(ctx, &amoria.PaginationOptions{Limit: matchesLimit})
		if err != nil {
			return fmt.Errorf("list matches: %w", err)
		}

		if len(matches) == 0 {
			fmt.Println("No matches yet.")
			return nil
		}

		for _, m := range matches {
			status := " "
			if m.Partner.IsOnline {
				status = "●"
			}
			unread := ""
			if m.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", m.UnreadCount)
			}
			preview := ""
			if m.LastMessage != nil && m.LastMessage.Text != "" {
				preview = " - " + m.LastMessage.Text
			}
			fmt.Printf("%s %-12s %s%s%s\n", status, m.ID, m.Partner.Name, unread, preview)
		}
		return nil
	},
}
