// Package irc relays support desk traffic to an IRC operations channel and
// lets channel operators answer affiliates with !reply.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/girc"

	"github.com/customermindiq/affchat/internal/config"
	"github.com/customermindiq/affchat/internal/domain"
	"github.com/customermindiq/affchat/internal/logging"
	"github.com/customermindiq/affchat/internal/version"
)

const maxLineLen = 400

// Desk is the part of the support desk the relay drives.
type Desk interface {
	Reply(ctx context.Context, sessionID, senderName, content string) (*domain.ChatMessage, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// Status is the relay's runtime state.
type Status struct {
	Connected bool
	Running   bool
	LastError string
}

// Relay bridges the desk and one IRC channel.
type Relay struct {
	cfg  config.IRCConfig
	desk Desk
	log  *logging.Logger

	mu        sync.RWMutex
	client    *girc.Client
	running   bool
	lastErr   string
	announced map[string]bool

	// overridable in tests
	say  func(target, text string)
	isOp func(nick, channel string) bool
}

// New creates a relay for cfg that posts replies through desk.
func New(cfg config.IRCConfig, desk Desk, log *logging.Logger) *Relay {
	r := &Relay{
		cfg:       cfg,
		desk:      desk,
		log:       log.Sub("irc"),
		announced: make(map[string]bool),
	}
	r.say = r.message
	r.isOp = r.isChannelOp
	return r
}

// Status returns the current runtime status.
func (r *Relay) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Connected: r.client != nil && r.client.IsConnected(),
		Running:   r.running,
		LastError: r.lastErr,
	}
}

// Start connects and blocks until the connection ends or ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	port := r.cfg.Port
	if port == 0 {
		port = defaultPort(r.cfg.UseTLS)
	}

	gircCfg := girc.Config{
		Server:  r.cfg.Server,
		Port:    port,
		Nick:    r.cfg.Nick,
		User:    r.cfg.Nick,
		Name:    "affchat support relay",
		SSL:     r.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if r.cfg.UseTLS {
		gircCfg.TLSConfig = &tls.Config{ServerName: r.cfg.Server}
	}
	if r.cfg.SASL && r.cfg.Password != "" {
		gircCfg.SASL = &girc.SASLPlain{User: r.cfg.Nick, Pass: r.cfg.Password}
	} else if r.cfg.Password != "" {
		gircCfg.ServerPass = r.cfg.Password
	}

	client := girc.New(gircCfg)
	client.Handlers.Add(girc.CONNECTED, r.onConnected)
	client.Handlers.Add(girc.PRIVMSG, func(_ *girc.Client, e girc.Event) { r.onPrivmsg(ctx, e) })
	client.Handlers.Add(girc.DISCONNECTED, r.onDisconnected)

	r.mu.Lock()
	r.client = client
	r.running = true
	r.lastErr = ""
	r.mu.Unlock()

	r.log.Info().
		Str("server", r.cfg.Server).
		Int("port", port).
		Str("nick", r.cfg.Nick).
		Str("channel", r.cfg.Channel).
		Bool("tls", r.cfg.UseTLS).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		r.mu.Lock()
		r.running = false
		if err != nil {
			r.lastErr = err.Error()
		}
		r.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		if client.IsConnected() {
			client.Quit("desk shutting down")
		}
		client.Close()
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return nil
	}
}

func defaultPort(useTLS bool) int {
	if useTLS {
		return 6697
	}
	return 6667
}

// Observe announces affiliate traffic in the ops channel. It has the shape
// of a desk message observer.
func (r *Relay) Observe(sess domain.ChatSession, msg domain.ChatMessage) {
	if msg.FromAdmin() {
		return
	}

	r.mu.Lock()
	first := !r.announced[sess.ID]
	r.announced[sess.ID] = true
	r.mu.Unlock()

	if first {
		r.say(r.cfg.Channel, formatNewSession(sess))
	}
	r.say(r.cfg.Channel, formatMessage(sess, msg))
}

// Forget drops the announcement record for a session.
func (r *Relay) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.announced, sessionID)
}

func formatNewSession(sess domain.ChatSession) string {
	who := sess.AffiliateName
	if who == "" {
		who = sess.AffiliateID
	}
	if sess.AffiliateEmail != "" {
		who += " <" + sess.AffiliateEmail + ">"
	}
	return fmt.Sprintf("new session %s from %s: %s", sess.ID, who, sess.Subject)
}

func formatMessage(sess domain.ChatSession, msg domain.ChatMessage) string {
	name := msg.SenderName
	if name == "" {
		name = sess.AffiliateID
	}
	return fmt.Sprintf("[%s] %s: %s", sess.ID, name, msg.Content)
}

func (r *Relay) onConnected(c *girc.Client, _ girc.Event) {
	r.log.Info().Str("nick", c.GetNick()).Str("channel", r.cfg.Channel).Msg("connected to IRC")
	c.Cmd.Join(r.cfg.Channel)
}

func (r *Relay) onDisconnected(_ *girc.Client, _ girc.Event) {
	r.log.Warn().Msg("disconnected from IRC")
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *Relay) onPrivmsg(ctx context.Context, e girc.Event) {
	if e.Source == nil || !e.IsFromChannel() || len(e.Params) == 0 {
		return
	}
	r.mu.RLock()
	self := r.client != nil && e.Source.Name == r.client.GetNick()
	r.mu.RUnlock()
	if self {
		return
	}
	r.handle(ctx, e.Source.Name, e.Params[0], e.Last())
}

// command is a parsed operator instruction.
type command struct {
	name      string
	sessionID string
	text      string
}

// parseCommand recognises "!reply <session> <text>", "!close <session>" and
// "!help". Anything else is chatter.
func parseCommand(body string) (command, bool) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "!") {
		return command{}, false
	}
	name, rest, _ := strings.Cut(body[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "reply":
		id, text, _ := strings.Cut(rest, " ")
		return command{name: "reply", sessionID: id, text: strings.TrimSpace(text)}, true
	case "close":
		id, _, _ := strings.Cut(rest, " ")
		return command{name: "close", sessionID: id}, true
	case "help":
		return command{name: "help"}, true
	}
	return command{}, false
}

const usage = "commands: !reply <session> <text> | !close <session> | !help"

func (r *Relay) handle(ctx context.Context, nick, channel, body string) {
	if !strings.EqualFold(channel, r.cfg.Channel) {
		return
	}
	cmd, ok := parseCommand(body)
	if !ok {
		return
	}
	if cmd.name == "help" {
		r.say(channel, usage)
		return
	}
	if r.opOnly() && !r.isOp(nick, channel) {
		r.log.Debug().Str("nick", nick).Str("channel", channel).Msg("ignoring command from non-operator")
		r.say(channel, nick+": only channel operators can do that")
		return
	}
	if cmd.sessionID == "" {
		r.say(channel, nick+": "+usage)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cmd.name {
	case "reply":
		if cmd.text == "" {
			r.say(channel, nick+": "+usage)
			return
		}
		if _, err := r.desk.Reply(ctx, cmd.sessionID, r.operatorName(nick), cmd.text); err != nil {
			r.log.Warn().Err(err).Str("session", cmd.sessionID).Str("nick", nick).Msg("relayed reply failed")
			r.say(channel, fmt.Sprintf("%s: reply to %s failed: %v", nick, cmd.sessionID, err))
			return
		}
		r.say(channel, fmt.Sprintf("%s: sent to %s", nick, cmd.sessionID))
	case "close":
		if err := r.desk.CloseSession(ctx, cmd.sessionID); err != nil {
			r.say(channel, fmt.Sprintf("%s: close %s failed: %v", nick, cmd.sessionID, err))
			return
		}
		r.Forget(cmd.sessionID)
		r.say(channel, fmt.Sprintf("%s: closed %s", nick, cmd.sessionID))
	}
}

// opOnly defaults to true when not configured.
func (r *Relay) opOnly() bool {
	if r.cfg.OpOnly == nil {
		return true
	}
	return *r.cfg.OpOnly
}

// operatorName is how relayed replies are signed.
func (r *Relay) operatorName(nick string) string {
	if r.cfg.Operator != nil && *r.cfg.Operator != "" {
		return *r.cfg.Operator
	}
	return nick
}

func (r *Relay) isChannelOp(nick, channel string) bool {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil {
		return false
	}
	user := client.LookupUser(nick)
	if user == nil {
		return false
	}
	perms, ok := user.Perms.Lookup(channel)
	if !ok {
		return false
	}
	return perms.IsAdmin()
}

func (r *Relay) message(target, text string) {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		r.log.Debug().Str("to", target).Msg("not connected, dropping relay line")
		return
	}
	for _, line := range splitMessage(text, maxLineLen) {
		client.Cmd.Message(target, line)
	}
}

// splitMessage breaks text into IRC-sized lines. PRIVMSG cannot carry
// newlines, so each input line becomes at least one chunk; blank lines are
// dropped.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r", ""), "\n") {
		for len(line) > maxLen {
			chunks = append(chunks, line[:maxLen])
			line = line[maxLen:]
		}
		if strings.TrimSpace(line) != "" {
			chunks = append(chunks, line)
		}
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}
