package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/customermindiq/affchat/internal/api"
	"github.com/customermindiq/affchat/internal/domain"
)

// adminClient talks to the desk's operator endpoints. The admin token comes
// from the environment or desk.auth in config.
func adminClient() (*api.Client, error) {
	c, err := requireConfig()
	if err != nil {
		return nil, err
	}
	token := os.Getenv("AFFCHAT_DESK_ADMIN_TOKEN")
	if token == "" {
		token = c.Desk.Auth.AdminToken
	}
	if token == "" {
		token = c.Desk.Auth.Token
	}
	if token == "" {
		return nil, fmt.Errorf("no admin token: set AFFCHAT_DESK_ADMIN_TOKEN or desk.auth.adminToken")
	}
	return api.NewClient(c.API.BaseURL, token, time.Duration(c.API.TimeoutSeconds)*time.Second, log), nil
}

func newReplyCmd() *cobra.Command {
	var (
		as   string
		list string
	)

	cmd := &cobra.Command{
		Use:   "reply [session] [message...]",
		Short: "Reply to an affiliate as an operator, or list sessions",
		Example: "  affchat reply --list waiting\n" +
			"  affchat reply sess_123 We have re-sent your payout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := adminClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if cmd.Flags().Changed("list") {
				status := domain.SessionStatus(strings.TrimSpace(list))
				if status != "" && !status.Valid() {
					return fmt.Errorf("unknown status %q", list)
				}
				sessions, err := client.ListSessions(ctx, status)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tSTATUS\tAFFILIATE\tSUBJECT\tUPDATED")
				for _, s := range sessions {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						s.ID, s.Status, s.AffiliateName, s.Subject, s.UpdatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			}

			if len(args) < 2 {
				return fmt.Errorf("usage: affchat reply <session> <message>")
			}
			id, err := client.Reply(ctx, args[0], as, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "operator name shown to the affiliate (default Support)")
	cmd.Flags().StringVar(&list, "list", "", "list sessions, optionally filtered by status (waiting, active, closed)")
	cmd.Flags().Lookup("list").NoOptDefVal = " "
	return cmd
}
