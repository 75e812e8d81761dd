// Package command turns chat messages and button presses into session
// operations.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Maiori44/tmatebot/display"
	"github.com/Maiori44/tmatebot/logger"
	"github.com/Maiori44/tmatebot/manager"
	"github.com/Maiori44/tmatebot/output"
)

// ErrUnknown is returned for a command or interaction nobody registered.
var ErrUnknown = errors.New("unknown command")

// Interaction ids.
const (
	LoginID = "login"
	CloseID = "Close"
)

// Message is a chat message addressed to the bot.
type Message struct {
	User     string    `json:"user"`
	Author   string    `json:"author"`
	Content  string    `json:"content"`
	Received time.Time `json:"-"`
}

// Interaction is a press on a button or a menu selection.
type Interaction struct {
	User   string `json:"user"`
	Author string `json:"author"`
	// ID names the control that was used.
	ID string `json:"id"`
	// Surface is the surface the control belongs to.
	Surface string `json:"surface,omitempty"`
	// Values are the selected menu options.
	Values []string `json:"values,omitempty"`

	// Password and Timeout are the login form fields.
	Password string `json:"password,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// Button is a control offered with a reply.
type Button struct {
	ID    string        `json:"id"`
	Label string        `json:"label"`
	Style display.Style `json:"style"`
}

// Response is the bot's reply.
type Response struct {
	Content string        `json:"content"`
	Surface string        `json:"surface,omitempty"`
	Buttons []Button      `json:"buttons,omitempty"`
	Menu    *manager.Menu `json:"menu,omitempty"`
}

// DefaultTimeout is used when a login names no timeout.
const DefaultTimeout = 30 * time.Minute

// Options configures a Bot.
type Options struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// Bot dispatches messages and interactions.
type Bot struct {
	manager      *manager.Manager
	hub          *display.Hub
	auth         *Authorizer
	opts         Options
	commands     *Registry[Message]
	interactions *Registry[Interaction]
	log          *slog.Logger
	now          func() time.Time
}

// NewBot wires the commands and interactions.
func NewBot(m *manager.Manager, hub *display.Hub, auth *Authorizer, opts Options) *Bot {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	b := &Bot{
		manager:      m,
		hub:          hub,
		auth:         auth,
		opts:         opts,
		commands:     NewRegistry[Message](),
		interactions: NewRegistry[Interaction](),
		log:          logger.WithComponent("bot"),
		now:          time.Now,
	}

	b.commands.Register("help", b.help)
	b.commands.Register("ping", b.ping)
	b.commands.Register("connect", b.connect)
	b.commands.Register("list", b.list)
	b.commands.Register("close", b.closeCommand)
	b.commands.Register("closeall", b.closeAll)

	b.interactions.Register(LoginID, b.login)
	b.interactions.Register(CloseID, b.closeButton)
	b.interactions.Register(manager.CloseMenuID, b.closeMenu)
	return b
}

// Commands returns the command names in help order.
func (b *Bot) Commands() []string {
	return b.commands.Keys()
}

// HandleMessage runs the command named by the first word of msg.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) (Response, error) {
	if !b.auth.Allowed(msg.User) {
		b.log.Warn("refused request by unauthorized user", "user", msg.User)
		return Response{Content: "You are not authorized."}, ErrUnauthorized
	}
	if msg.Received.IsZero() {
		msg.Received = b.now()
	}

	name, _, _ := strings.Cut(strings.TrimSpace(msg.Content), " ")
	h, ok := b.commands.Lookup(name)
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}

	resp, err := h(ctx, msg)
	if err != nil {
		b.log.Error("command failed", "command", msg.Content, "user", msg.User, "error", err)
		return resp, err
	}
	b.log.Info("command ran", "command", msg.Content, "user", msg.User)
	return resp, nil
}

// HandleInteraction runs the interaction registered under in.ID.
func (b *Bot) HandleInteraction(ctx context.Context, in Interaction) (Response, error) {
	if !b.auth.Allowed(in.User) {
		b.log.Warn("refused interaction by unauthorized user", "user", in.User, "interaction", in.ID)
		return Response{Content: "You are not authorized."}, ErrUnauthorized
	}
	h, ok := b.interactions.Lookup(in.ID)
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknown, in.ID)
	}

	resp, err := h(ctx, in)
	if err != nil {
		b.log.Error("interaction failed", "interaction", in.ID, "user", in.User, "error", err)
		return resp, err
	}
	b.log.Info("interaction ran", "interaction", in.ID, "user", in.User)
	return resp, nil
}

func (b *Bot) help(_ context.Context, _ Message) (Response, error) {
	var sb strings.Builder
	sb.WriteString("List of available commands:```diff\n")
	for _, key := range b.commands.Keys() {
		fmt.Fprintf(&sb, "+ %s\n", key)
	}
	sb.WriteString("```")
	return Response{Content: sb.String()}, nil
}

func (b *Bot) ping(_ context.Context, msg Message) (Response, error) {
	return Response{Content: fmt.Sprintf("Bot latency: %s", b.now().Sub(msg.Received))}, nil
}

func (b *Bot) connect(_ context.Context, _ Message) (Response, error) {
	return Response{
		Content: "A password is required.",
		Buttons: []Button{{ID: LoginID, Label: "Login", Style: display.StylePrimary}},
	}, nil
}

func (b *Bot) list(_ context.Context, _ Message) (Response, error) {
	infos := b.manager.Registry().Snapshot()
	if len(infos) == 0 {
		return Response{Content: "There are no open connections."}, nil
	}
	var sb strings.Builder
	sb.WriteString("Open connections:\n")
	for _, info := range infos {
		fmt.Fprintf(&sb, "**`%s`** created by %s, expires at %s.\n",
			info.ID, info.Creator, info.Deadline.Format(output.TimeLayout))
	}
	return Response{Content: sb.String()}, nil
}

// closeCommand closes the ids given as arguments, or offers the close menu
// when there are none.
func (b *Bot) closeCommand(ctx context.Context, msg Message) (Response, error) {
	ids := strings.Fields(msg.Content)[1:]
	if len(ids) == 0 {
		menu := b.manager.Menu()
		return Response{Content: "Select the connections to close.", Menu: &menu}, nil
	}
	return Response{Content: b.manager.Gatekeep(ctx, ids).String()}, nil
}

func (b *Bot) closeAll(ctx context.Context, _ Message) (Response, error) {
	report := b.manager.CloseAll(ctx)
	if len(report) == 0 {
		return Response{Content: "There are no open connections."}, nil
	}
	return Response{Content: report.String()}, nil
}

func (b *Bot) login(ctx context.Context, in Interaction) (Response, error) {
	if err := b.auth.CheckPassword(in.Password); err != nil {
		if errors.Is(err, ErrWrongPassword) {
			b.log.Warn("wrong login password", "user", in.User)
			return Response{Content: "Wrong password."}, err
		}
		return Response{Content: "Login is not available."}, err
	}

	ttl := b.opts.DefaultTimeout
	if in.Timeout != "" {
		var err error
		if ttl, err = ParseTimeout(in.Timeout); err != nil {
			return Response{Content: fmt.Sprintf("Invalid timeout: %v.", err)}, err
		}
	}
	if b.opts.MaxTimeout > 0 && ttl > b.opts.MaxTimeout {
		err := fmt.Errorf("%w: %s exceeds the maximum of %s", ErrInvalidTimeout, ttl, b.opts.MaxTimeout)
		return Response{Content: fmt.Sprintf("Invalid timeout: %v.", err)}, err
	}

	creator := in.Author
	if creator == "" {
		creator = "???"
	}
	action := display.CloseAction(false)
	id := b.hub.Open("Starting session...", &action)

	if _, err := b.manager.Start(ctx, id, creator, b.now().Add(ttl)); err != nil {
		b.showStartFailure(ctx, id, err)
		return Response{Content: "The session could not be started.", Surface: id}, err
	}
	return Response{Content: "Session started.", Surface: id}, nil
}

// showStartFailure leaves the error on the surface a failed login opened.
func (b *Bot) showStartFailure(ctx context.Context, id string, startErr error) {
	if err := b.hub.Render(ctx, id, fmt.Sprintf("Failed to start session: %v.", startErr)); err != nil {
		b.log.Warn("failed to render start failure", "surface", id, "error", err)
	}
	if err := b.hub.SetAction(ctx, id, display.CloseAction(true)); err != nil {
		b.log.Warn("failed to disable close action", "surface", id, "error", err)
	}
}

func (b *Bot) closeButton(ctx context.Context, in Interaction) (Response, error) {
	if in.Surface == "" {
		return Response{}, fmt.Errorf("%w: close without a surface", ErrUnknown)
	}
	return Response{Content: b.manager.Gatekeep(ctx, []string{in.Surface}).String()}, nil
}

func (b *Bot) closeMenu(ctx context.Context, in Interaction) (Response, error) {
	return Response{Content: b.manager.Gatekeep(ctx, in.Values).String()}, nil
}
