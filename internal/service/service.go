package service

import (
	"context"
	"html"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cliffng14/accountably/internal/generator"
	"github.com/cliffng14/accountably/internal/logger"
	"github.com/cliffng14/accountably/internal/models"
	"github.com/cliffng14/accountably/internal/repository"
	"github.com/cliffng14/accountably/internal/telemetry"
)

// Button is an inline button; Data comes from the callback package.
type Button struct {
	Label string
	Data  string
}

// Message is an outbound chat message. Text is HTML.
type Message struct {
	ChatID     int64
	Text       string
	Buttons    [][]Button
	ReplyTo    int
	ForceReply bool
}

// Notifier delivers messages to the chat platform.
type Notifier interface {
	Send(ctx context.Context, msg Message) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, buttons [][]Button) error
	ClearButtons(ctx context.Context, chatID int64, messageID int) error
}

// Actor is the platform user behind an interaction.
type Actor struct {
	ID        int64
	Handle    string
	FirstName string
}

func (a Actor) user() models.User {
	u := models.User{ID: a.ID, DisplayName: a.FirstName}
	if a.Handle != "" {
		h := a.Handle
		u.Handle = &h
	}
	return u
}

// Name is the actor's display name: @handle if set, else the first name.
func (a Actor) Name() string {
	return a.user().Name()
}

type Options struct {
	AdminID          int64
	ChallengeTTL     time.Duration
	PromptTTL        time.Duration
	GenerateTimeout  time.Duration
	IssueConcurrency int
	IssueAt          string // shown in the introduction
	ValidateAt       string
	Timezone         string
	Rand             *rand.Rand
	Now              func() time.Time
}

type Engine struct {
	repo    *repository.Repository
	notify  Notifier
	gen     generator.Generator
	log     *logger.Logger
	metrics *telemetry.Metrics
	opts    Options

	rngMu sync.Mutex
	rng   *rand.Rand
	clock func() time.Time
}

func NewEngine(repo *repository.Repository, notify Notifier, gen generator.Generator, opts Options, log *logger.Logger, metrics *telemetry.Metrics) *Engine {
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 24 * time.Hour
	}
	if opts.PromptTTL <= 0 {
		opts.PromptTTL = 24 * time.Hour
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 30 * time.Second
	}
	if opts.IssueConcurrency < 1 {
		opts.IssueConcurrency = 1
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Engine{
		repo:    repo,
		notify:  notify,
		gen:     gen,
		log:     log.With("component", "Engine"),
		metrics: metrics,
		opts:    opts,
		rng:     rng,
		clock:   clock,
	}
}

// now is stored in UTC so string-compared timestamps in SQLite stay ordered.
func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

func (e *Engine) intn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

// Observe records the user and, for group chats, the group and membership.
func (e *Engine) Observe(ctx context.Context, actor Actor, groupID int64, groupName string) error {
	u := actor.user()
	var g *models.Group
	if groupID != 0 {
		g = &models.Group{ID: groupID}
		if groupName != "" {
			g.Name = &groupName
		}
	}
	return e.repo.ObserveInteraction(ctx, &u, g)
}

func (e *Engine) send(ctx context.Context, chatID int64, text string, buttons ...[]Button) (int, error) {
	id, err := e.notify.Send(ctx, Message{ChatID: chatID, Text: text, Buttons: buttons})
	if err != nil {
		e.log.Error("send failed", "chat_id", chatID, "error", err)
	}
	return id, err
}

// alertAdmin sends an operational message to the configured admin, if any.
func (e *Engine) alertAdmin(ctx context.Context, text string) {
	if e.opts.AdminID == 0 {
		e.log.Warn("admin alert dropped, no admin configured", "text", text)
		return
	}
	_, _ = e.send(ctx, e.opts.AdminID, text)
}

func esc(s string) string { return html.EscapeString(s) }

// formatNames renders "A", "A and B" or "A, B, and C".
func formatNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}

func memberNames(members []models.Member) []string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, esc(m.Name))
	}
	return names
}

// buttonLabel shortens text to fit a button.
func buttonLabel(s string) string {
	const max = 60
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
