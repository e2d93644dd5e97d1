package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/customermindiq/affchat/internal/config"
	"github.com/customermindiq/affchat/internal/gateway"
	"github.com/customermindiq/affchat/internal/hooks"
	"github.com/customermindiq/affchat/internal/irc"
	"github.com/customermindiq/affchat/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
		db   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the support desk server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				c.Desk.Port = port
			}
			if bind != "" {
				c.Desk.Bind = bind
			}

			issues := config.Validate(&c)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if db == "" {
				if err := paths.EnsureDirs(); err != nil {
					return fmt.Errorf("creating data dir: %w", err)
				}
				db = paths.DeskDB()
			}
			sqlDB, err := store.Open(db, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer sqlDB.Close()
			log.Info().Str("path", db).Msg("using SQLite desk store")

			hookMgr := hooks.NewManager(log)
			srv := gateway.New(c.Desk, store.NewSessionStore(sqlDB), log, gateway.WithHooks(hookMgr))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(ctx) })

			if c.Desk.IRC != nil {
				relay := irc.New(*c.Desk.IRC, srv, log)
				srv.Observe(relay.Observe)
				g.Go(func() error {
					// the desk keeps serving if the relay drops
					if err := relay.Start(ctx); err != nil {
						log.Error().Err(err).Msg("irc relay stopped")
					}
					return nil
				})
			}

			return g.Wait()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override desk port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	cmd.Flags().StringVar(&db, "db", "", "desk database path (default ~/.affchat/data/desk.db)")
	return cmd
}
