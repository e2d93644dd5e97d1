package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/customermindiq/affchat/internal/config"
	"github.com/customermindiq/affchat/internal/store"
	"github.com/customermindiq/affchat/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show affchat configuration and client state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "affchat %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:    %s\n", paths.Config)
			fmt.Fprintf(out, "Data:      %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:      %s\n", paths.Logs)
			fmt.Fprintln(out)

			if cfgErr != nil {
				fmt.Fprintf(out, "Config:    error loading: %v\n", cfgErr)
				return nil
			}
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:    not found (using defaults)")
			}

			printStatus(out, cfg, lastSession(cfg))
			return nil
		},
	}
}

func printStatus(out io.Writer, cfg config.Config, last string) {
	aff := cfg.Affiliate.ID
	if aff == "" {
		aff = "(not set)"
	}
	fmt.Fprintf(out, "Affiliate: id=%s name=%s email=%s\n", aff, cfg.Affiliate.Name, cfg.Affiliate.Email)
	fmt.Fprintf(out, "API:       %s token=%s\n", cfg.API.BaseURL, redact(cfg.API.Token))

	if ws, err := cfg.RealtimeURL(); err == nil {
		attempts := "unbounded"
		if n := cfg.Realtime.Attempts(); n > 0 {
			attempts = fmt.Sprintf("%d", n)
		}
		fmt.Fprintf(out, "Realtime:  %s backoff=%s..%s attempts=%s\n",
			ws, cfg.Realtime.ReconnectInitial(), cfg.Realtime.ReconnectMax(), attempts)
	} else {
		fmt.Fprintf(out, "Realtime:  %v\n", err)
	}
	fmt.Fprintf(out, "State:     store=%s\n", cfg.State.Store)
	if last != "" {
		fmt.Fprintf(out, "Session:   %s (remembered)\n", last)
	}

	fmt.Fprintf(out, "Desk:      port=%d bind=%s tls=%v auth=%s\n",
		cfg.Desk.Port, cfg.Desk.Bind, cfg.Desk.TLS.Enabled, deskAuthMode(cfg.Desk.Auth))
	if irc := cfg.Desk.IRC; irc != nil {
		fmt.Fprintf(out, "IRC:       server=%s nick=%s channel=%s tls=%v\n",
			irc.Server, irc.Nick, irc.Channel, irc.UseTLS)
	} else {
		fmt.Fprintln(out, "IRC:       (not configured)")
	}

	issues := append(config.Validate(&cfg), config.ValidateClient(&cfg)...)
	if len(issues) > 0 {
		fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
		for _, issue := range issues {
			fmt.Fprintf(out, "  - %s\n", issue)
		}
	}
}

// lastSession reads the remembered session for the configured affiliate
// without creating the client database.
func lastSession(cfg config.Config) string {
	if cfg.Affiliate.ID == "" || cfg.State.Store != "sqlite" {
		return ""
	}
	if _, err := os.Stat(paths.ClientDB()); err != nil {
		return ""
	}
	db, err := store.Open(paths.ClientDB(), log)
	if err != nil {
		return ""
	}
	defer db.Close()
	id, ok, err := store.NewSQLiteStateStore(db).Get(store.LastSessionKey(cfg.Affiliate.ID))
	if err != nil || !ok {
		return ""
	}
	return id
}

func deskAuthMode(a config.DeskAuth) string {
	switch {
	case a.Token != "" && a.AdminToken != "":
		return "token+admin"
	case a.Token != "":
		return "token"
	case a.AdminToken != "":
		return "admin-only"
	default:
		return "open"
	}
}

func redact(s string) string {
	if s == "" {
		return "(none)"
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
