package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/customermindiq/affchat/internal/api"
	"github.com/customermindiq/affchat/internal/chat"
	"github.com/customermindiq/affchat/internal/config"
	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/hooks"
	"github.com/customermindiq/affchat/internal/realtime"
	"github.com/customermindiq/affchat/internal/store"
)

func newChatCmd() *cobra.Command {
	var (
		subject string
		message string
		resume  string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the support team",
		Long: "Opens the support chat in the terminal. Type a line to send it, or a\n" +
			"slash command (/help lists them).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireConfig()
			if err != nil {
				return err
			}
			issues := append(config.Validate(&c), config.ValidateClient(&c)...)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			state, closeState, err := openStateStore(c)
			if err != nil {
				return err
			}
			defer closeState()

			out := cmd.OutOrStdout()
			w, err := newWidget(c, state, out)
			if err != nil {
				return err
			}
			if err := w.Mount(ctx); err != nil {
				return err
			}
			defer w.Unmount()

			r := newREPL(w, out)
			events, unsub := w.Hooks().Subscribe("terminal", 64, hooks.AllEvents...)
			defer unsub()
			go r.render(ctx, events)

			if err := w.Open(ctx); err != nil {
				return err
			}
			if resume != "" {
				r.dispatch(ctx, "/resume "+resume)
			}
			if message != "" {
				r.dispatch(ctx, "/start "+subject+" | "+message)
			}
			r.banner()
			return r.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "Support request", "subject for --message")
	cmd.Flags().StringVar(&message, "message", "", "start a new chat with this first message")
	cmd.Flags().StringVar(&resume, "resume", "", "bind to an existing session id")
	return cmd
}

// openStateStore picks where the remembered session lives.
func openStateStore(c config.Config) (store.StateStore, func() error, error) {
	if c.State.Store != "sqlite" {
		return store.NewMemoryStateStore(), func() error { return nil }, nil
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}
	db, err := store.Open(paths.ClientDB(), log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening client state: %w", err)
	}
	return store.NewSQLiteStateStore(db), db.Close, nil
}

func newWidget(c config.Config, state store.StateStore, bell io.Writer) (*chat.Widget, error) {
	wsURL, err := c.RealtimeURL()
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(c.API.TimeoutSeconds) * time.Second

	notifier := chat.Silent
	if c.Notify.BellEnabled() {
		notifier = chat.NewChime(bell, time.Duration(c.Notify.CooldownMs)*time.Millisecond)
	}

	return chat.NewWidget(chat.WidgetConfig{
		Affiliate: domain.Affiliate{ID: c.Affiliate.ID, Name: c.Affiliate.Name, Email: c.Affiliate.Email},
		API:       api.NewClient(c.API.BaseURL, c.API.Token, timeout, log),
		Dialer:    realtime.NewWSDialer(wsURL, c.API.Token, readTimeout(c), log),
		Reconnect: chat.ReconnectPolicy{
			Initial:     c.Realtime.ReconnectInitial(),
			Max:         c.Realtime.ReconnectMax(),
			Multiplier:  c.Realtime.ReconnectMultiplier,
			MaxAttempts: c.Realtime.Attempts(),
		},
		State:    state,
		Hooks:    hooks.NewManager(log),
		Notifier: notifier,
		Log:      log,
	}), nil
}

// readTimeout allows a few missed desk pings before the socket counts as dead.
func readTimeout(c config.Config) time.Duration {
	return 3 * time.Duration(c.Desk.PingIntervalSeconds) * time.Second
}

// repl is the terminal front-end for a chat widget.
type repl struct {
	w    *chat.Widget
	out  io.Writer
	quit chan struct{}

	// shown holds operator messages already printed. Only the render
	// goroutine touches it.
	shown map[string]struct{}
}

func newREPL(w *chat.Widget, out io.Writer) *repl {
	return &repl{w: w, out: out, quit: make(chan struct{}), shown: map[string]struct{}{}}
}

const replHelp = `commands:
  /start <subject> | <message>   open a new chat
  /end                           leave the current chat
  /resume <session>              bind an existing session
  /refresh                       reload the transcript
  /history                       print the transcript
  /open /close /min /restore     widget visibility
  /status                        connection, unread, session
  /quit                          exit
anything else is sent as a message`

func (r *repl) banner() {
	v := r.w.Snapshot()
	if v.SessionID == "" {
		fmt.Fprintln(r.out, "No open chat. Start one with /start <subject> | <message>. /help for commands.")
		return
	}
	fmt.Fprintf(r.out, "Chat %s (%s). /help for commands.\n", v.SessionID, v.Status)
	r.history()
}

// run reads lines until EOF, /quit, or ctx ends.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.quit:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			r.dispatch(ctx, line)
		}
	}
}

// dispatch handles one input line. Failures are printed, not returned.
func (r *repl) dispatch(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		if err := r.w.Send(ctx, line); err != nil {
			r.alert("message not sent", err)
		}
		return
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "help", "?":
		fmt.Fprintln(r.out, replHelp)
	case "start":
		subject, message, ok := strings.Cut(arg, "|")
		subject, message = strings.TrimSpace(subject), strings.TrimSpace(message)
		if !ok || subject == "" || message == "" {
			fmt.Fprintln(r.out, "usage: /start <subject> | <message>")
			return
		}
		id, err := r.w.StartChat(ctx, subject, message)
		if err != nil {
			r.alert("could not start chat", err)
			return
		}
		fmt.Fprintf(r.out, "Chat %s started. An agent will be with you shortly.\n", id)
	case "end":
		r.w.EndChat()
		fmt.Fprintln(r.out, "Chat ended.")
	case "resume":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /resume <session>")
			return
		}
		if err := r.w.Resume(ctx, arg); err != nil {
			r.alert("could not resume", err)
		}
	case "refresh":
		if err := r.w.Refresh(ctx); err != nil {
			r.alert("could not load messages", err)
			return
		}
		r.history()
	case "history":
		r.history()
	case "open":
		if err := r.w.Open(ctx); err != nil {
			r.alert("could not open", err)
		}
	case "close":
		r.w.Close()
	case "min", "minimize":
		r.w.Minimize()
	case "restore":
		r.w.Restore()
	case "status":
		r.status()
	case "quit", "exit":
		select {
		case <-r.quit:
		default:
			close(r.quit)
		}
	default:
		fmt.Fprintf(r.out, "unknown command /%s (try /help)\n", name)
	}
}

func (r *repl) alert(what string, err error) {
	reason := err.Error()
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		reason = apiErr.Message
	}
	fmt.Fprintf(r.out, "! %s: %s\n", what, reason)
}

func (r *repl) status() {
	v := r.w.Snapshot()
	visibility := "closed"
	switch {
	case v.Open && v.Minimized:
		visibility = "minimized"
	case v.Open:
		visibility = "open"
	}
	session := "(none)"
	if v.SessionID != "" {
		session = fmt.Sprintf("%s %s %q", v.SessionID, v.Status, v.Subject)
	}
	fmt.Fprintf(r.out, "widget=%s connection=%s unread=%d session=%s\n",
		visibility, v.Connection, v.Unread, session)
}

func (r *repl) history() {
	for _, m := range r.w.Snapshot().Messages {
		r.printMessage(m)
	}
}

func (r *repl) printMessage(m domain.ChatMessage) {
	who := m.SenderName
	if who == "" {
		who = string(m.SenderType)
	}
	fmt.Fprintf(r.out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), who, m.Content)
}

// render prints widget events as they happen.
func (r *repl) render(ctx context.Context, events <-chan hooks.Payload) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-events:
			if !ok {
				return
			}
			r.renderEvent(p)
		}
	}
}

// shownKey identifies a transcript entry; local messages may lack an id.
func shownKey(m domain.ChatMessage) string {
	if m.ID != "" {
		return m.ID
	}
	return m.Timestamp.String() + "\x00" + m.Content
}

// catchUp prints every operator message in the transcript not printed yet.
// Working from the snapshot rather than the event means a payload the
// subscription dropped still gets printed on the next event.
func (r *repl) catchUp() {
	for _, m := range r.w.Snapshot().Messages {
		if !m.FromAdmin() {
			continue
		}
		k := shownKey(m)
		if _, ok := r.shown[k]; ok {
			continue
		}
		r.shown[k] = struct{}{}
		r.printMessage(m)
	}
}

// markShown records the first n transcript entries as seen without
// printing them; loaded history is shown on request with /history.
func (r *repl) markShown(n int) {
	msgs := r.w.Snapshot().Messages
	for _, m := range msgs[:min(n, len(msgs))] {
		r.shown[shownKey(m)] = struct{}{}
	}
}

func (r *repl) renderEvent(p hooks.Payload) {
	switch p.Event {
	case hooks.EventMessageReceived:
		r.catchUp()
	case hooks.EventSessionEnded:
		clear(r.shown)
	case hooks.EventConnectionChanged:
		switch state, _ := p.Data["state"].(string); domain.ConnectionState(state) {
		case domain.ConnUnavailable:
			fmt.Fprintln(r.out, "* live updates unavailable; /open to retry")
		case domain.ConnDisconnected:
			fmt.Fprintln(r.out, "* reconnecting…")
		case domain.ConnConnected:
			fmt.Fprintln(r.out, "* connected")
		}
	case hooks.EventUnreadChanged:
		if n, _ := p.Data["unread"].(int); n > 0 {
			r.catchUp()
			fmt.Fprintf(r.out, "* %d unread\n", n)
		}
	case hooks.EventHistoryLoaded:
		n, _ := p.Data["messages"].(int)
		r.markShown(n)
		fmt.Fprintln(r.out, "* transcript loaded (/history to show)")
	}
}
