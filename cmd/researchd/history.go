package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fundscope/researchd/client"
)

func historyCMD() *cobra.Command {
	var serverURL string
	var limit int

	var history = &cobra.Command{
		Use:   "history",
		Short: "List recent research sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL)
			sessions, err := c.History(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %s  %q\n",
					s.ID, s.Status, s.CreatedAt.Format("2006-01-02 15:04"), s.Query)
			}
			return nil
		},
	}
	history.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "research server base URL")
	history.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")

	return history
}
