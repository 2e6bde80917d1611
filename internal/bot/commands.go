package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/woozymasta/pingwatch/internal/logger"
	"github.com/woozymasta/pingwatch/internal/models"
	"github.com/woozymasta/pingwatch/internal/scanner"
	"golang.org/x/time/rate"
)

const (
	colorInfo = 0x00ff00
	colorHelp = 0x5865f2

	// idle per-user limiters are dropped after this long
	limiterIdleTTL = 10 * time.Minute
)

// ScanRunner triggers a scan cycle.
type ScanRunner interface {
	Run(ctx context.Context) models.ScanResult
}

// StateStore exposes the scanner counters.
type StateStore interface {
	Stats() scanner.Stats
	Reset() scanner.Stats
}

// History reads the detection journal. It is optional.
type History interface {
	RecentDetections(ctx context.Context, limit int) ([]models.Detection, error)
	CountDetections(ctx context.Context) (int64, error)
}

// Request is one chat message addressed to the bot.
type Request struct {
	UserID  string
	Content string

	// Privileged reports whether the author may run admin commands.
	// It is evaluated lazily, only for commands that need it.
	Privileged func() (bool, error)
}

// Responder sends a reply to the channel the request came from.
type Responder func(msg *discordgo.MessageSend) error

// DispatcherOptions configures command parsing, throttling and help text.
type DispatcherOptions struct {
	Prefix       string
	CommandRate  time.Duration
	CommandBurst int
	RecentLimit  int
	Interval     time.Duration
	MaxPing      int
}

// Dispatcher routes prefixed chat commands to the scanner.
type Dispatcher struct {
	runner  ScanRunner
	state   StateStore
	history History
	opts    DispatcherOptions
	log     zerolog.Logger

	mu        sync.Mutex
	limiters  map[string]*userLimiter
	lastSweep time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewDispatcher creates a Dispatcher. history may be nil.
func NewDispatcher(runner ScanRunner, state StateStore, history History, opts DispatcherOptions) *Dispatcher {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	if opts.CommandBurst <= 0 {
		opts.CommandBurst = 1
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 5
	}

	return &Dispatcher{
		runner:    runner,
		state:     state,
		history:   history,
		opts:      opts,
		log:       logger.Component("commands"),
		limiters:  make(map[string]*userLimiter),
		lastSweep: time.Now(),
	}
}

// Handle parses and executes a command. It returns false when the message is not a known command.
func (d *Dispatcher) Handle(ctx context.Context, req Request, respond Responder) bool {
	name, ok := d.parse(req.Content)
	if !ok {
		return false
	}

	var handler func(ctx context.Context, req Request, respond Responder) error
	switch name {
	case "scan":
		handler = d.scan
	case "stats":
		handler = d.stats
	case "clear":
		handler = d.clear
	case "recent":
		handler = d.recent
	case "help":
		handler = d.help
	default:
		return false
	}

	log := d.log.With().Str("command", name).Str("user_id", req.UserID).Logger()

	if !d.allow(req.UserID) {
		log.Debug().Msg("Command throttled")
		d.send(log, respond, &discordgo.MessageSend{Content: "⏳ Slow down, try again in a few seconds."})
		return true
	}

	log.Debug().Msg("Command received")
	if err := handler(ctx, req, respond); err != nil {
		log.Error().Err(err).Msg("Command failed")
	}

	return true
}

// parse extracts the lowercase command name following the prefix.
func (d *Dispatcher) parse(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, d.opts.Prefix) {
		return "", false
	}

	fields := strings.Fields(strings.TrimPrefix(content, d.opts.Prefix))
	if len(fields) == 0 {
		return "", false
	}

	return strings.ToLower(fields[0]), true
}

// allow applies the per-user token bucket.
func (d *Dispatcher) allow(userID string) bool {
	if d.opts.CommandRate <= 0 {
		return true
	}

	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if now.Sub(d.lastSweep) > limiterIdleTTL/2 {
		for id, u := range d.limiters {
			if now.Sub(u.lastSeen) > limiterIdleTTL {
				delete(d.limiters, id)
			}
		}
		d.lastSweep = now
	}

	u, found := d.limiters[userID]
	if !found {
		u = &userLimiter{limiter: rate.NewLimiter(rate.Every(d.opts.CommandRate), d.opts.CommandBurst)}
		d.limiters[userID] = u
	}
	u.lastSeen = now

	return u.limiter.AllowN(now, 1)
}

func (d *Dispatcher) scan(ctx context.Context, _ Request, respond Responder) error {
	if err := respond(&discordgo.MessageSend{Content: "🔍 Scanning..."}); err != nil {
		return err
	}

	result := d.runner.Run(ctx)

	var content string
	switch {
	case result.Busy:
		content = "⏳ A scan is already in progress."
	case result.Failed:
		content = "❌ Scan aborted, the server list could not be fetched."
	default:
		content = fmt.Sprintf("✅ New: %d | ❌ Filtered: %d | ♻️ Duplicates: %d | 📋 Fetched: %d",
			result.Accepted, result.Filtered, result.Duplicates, result.Fetched)
	}

	return respond(&discordgo.MessageSend{Content: content})
}

func (d *Dispatcher) stats(ctx context.Context, _ Request, respond Responder) error {
	stats := d.state.Stats()

	embed := &discordgo.MessageEmbed{
		Title: "📊 Statistics",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Detected", Value: fmt.Sprintf("%d", stats.Notified), Inline: true},
			{Name: "Cache", Value: fmt.Sprintf("%d", stats.Cached), Inline: true},
		},
	}

	if d.history != nil {
		total, err := d.history.CountDetections(ctx)
		if err != nil {
			d.log.Warn().Err(err).Msg("Failed to count detections")
		} else {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name: "History", Value: fmt.Sprintf("%d", total), Inline: true,
			})
		}
	}

	return respond(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

func (d *Dispatcher) clear(_ context.Context, req Request, respond Responder) error {
	privileged := false
	if req.Privileged != nil {
		var err error
		privileged, err = req.Privileged()
		if err != nil {
			d.log.Warn().Err(err).Str("user_id", req.UserID).Msg("Failed to resolve permissions")
		}
	}

	if !privileged {
		return respond(&discordgo.MessageSend{Content: "⛔ You need the Manage Server permission to clear the cache."})
	}

	before := d.state.Reset()
	d.log.Info().
		Str("user_id", req.UserID).
		Int("cached", before.Cached).
		Int64("notified", before.Notified).
		Msg("Cache cleared")

	return respond(&discordgo.MessageSend{
		Content: fmt.Sprintf("🧹 Cache cleared: %d servers forgotten, counter reset from %d.", before.Cached, before.Notified),
	})
}

func (d *Dispatcher) recent(ctx context.Context, _ Request, respond Responder) error {
	if d.history == nil {
		return respond(&discordgo.MessageSend{Content: "History is disabled."})
	}

	detections, err := d.history.RecentDetections(ctx, d.opts.RecentLimit)
	if err != nil {
		_ = respond(&discordgo.MessageSend{Content: "❌ Could not read history."})
		return err
	}
	if len(detections) == 0 {
		return respond(&discordgo.MessageSend{Content: "No servers detected yet."})
	}

	var b strings.Builder
	for _, det := range detections {
		fmt.Fprintf(&b, "`#%d` `%s` **%dms** %d/%d <t:%d:R>\n",
			det.Number, scanner.ShortID(det.JobID), det.Ping, det.Playing, det.MaxPlayers, det.DetectedAt.Unix())
	}

	embed := &discordgo.MessageEmbed{
		Title:       "🕑 Recent detections",
		Color:       colorInfo,
		Description: b.String(),
	}

	return respond(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

func (d *Dispatcher) help(_ context.Context, _ Request, respond Responder) error {
	p := d.opts.Prefix

	embed := &discordgo.MessageEmbed{
		Title: "🤖 Commands",
		Color: colorHelp,
		Fields: []*discordgo.MessageEmbedField{
			{Name: p + "scan", Value: "Scan the server list now"},
			{Name: p + "stats", Value: "Show detection counter and cache size"},
			{Name: p + "recent", Value: "Show the latest detections"},
			{Name: p + "clear", Value: "Forget seen servers and reset the counter (Manage Server)"},
			{Name: p + "help", Value: "Show this message"},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Scanning every %s for servers with ping ≤ %dms", d.opts.Interval, d.opts.MaxPing),
		},
	}

	return respond(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

func (d *Dispatcher) send(log zerolog.Logger, respond Responder, msg *discordgo.MessageSend) {
	if err := respond(msg); err != nil {
		log.Warn().Err(err).Msg("Failed to send reply")
	}
}
