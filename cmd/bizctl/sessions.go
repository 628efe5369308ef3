package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bizlens/bizlens/internal/domain"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and manage consulting sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var (
		agentID string
		cursor  string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			page, err := c.ListSessions(ctx, agentID, cursor, limit)
			if err != nil {
				return err
			}
			if len(page.Sessions) == 0 {
				fmt.Println("没有会话")
				return nil
			}

			for _, s := range page.Sessions {
				title := s.Title
				if title == "" {
					title = "(未命名)"
				}
				headerColor.Print(s.ID)
				fmt.Printf("  %s  ", s.UpdatedAt.Format("2006-01-02 15:04"))
				labelColor.Printf("[%s] ", s.AgentID)
				fmt.Println(title)
			}
			if page.NextCursor != "" {
				pendingColor.Printf("\n下一页: bizctl sessions list --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "only sessions of this agent preset")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor from a previous page")
	cmd.Flags().IntVar(&limit, "limit", 20, "sessions per page (1-100)")
	return cmd
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			switch err := c.DeleteSession(ctx, args[0]); {
			case errors.Is(err, domain.ErrNotFound):
				return fmt.Errorf("session %s not found", args[0])
			case errors.Is(err, domain.ErrForbidden):
				return fmt.Errorf("session %s belongs to a different identity", args[0])
			case err != nil:
				return err
			}
			fmt.Fprintf(os.Stdout, "已删除会话 %s\n", args[0])
			return nil
		},
	}
}
