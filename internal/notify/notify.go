// Package notify renders accepted servers as Discord embeds and posts them to the notification channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/woozymasta/pingwatch/internal/models"
)

// Embed colors by ping quality.
const (
	ColorFast    = 0x00ff00
	ColorDefault = 0x5865f2
)

// ErrChannelUnavailable is returned when the notification channel cannot be resolved.
var ErrChannelUnavailable = errors.New("notification channel unavailable")

// Sender is the subset of *discordgo.Session used to deliver notifications.
type Sender interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Options configures embed content and destination.
type Options struct {
	ChannelID string
	PlaceID   string
	Title     string
	Region    string
	FastPing  int
}

// Notifier posts one embed per accepted server.
type Notifier struct {
	sender Sender
	opts   Options
	now    func() time.Time

	mu       sync.Mutex
	resolved bool
}

// New creates a Notifier sending through sender.
func New(sender Sender, opts Options) *Notifier {
	return &Notifier{
		sender: sender,
		opts:   opts,
		now:    time.Now,
	}
}

// Notify sends the embed for entry. number is the running notification counter.
func (n *Notifier) Notify(ctx context.Context, entry models.Entry, number int64) error {
	if err := n.resolve(ctx); err != nil {
		return err
	}

	embed := BuildEmbed(entry, number, n.opts, n.now())
	if _, err := n.sender.ChannelMessageSendEmbed(n.opts.ChannelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send embed: %w", err)
	}

	return nil
}

// resolve looks the channel up once; failed lookups are retried on the next notification.
func (n *Notifier) resolve(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.resolved {
		return nil
	}

	channel, err := n.sender.Channel(n.opts.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrChannelUnavailable, n.opts.ChannelID, err)
	}
	if channel == nil {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, n.opts.ChannelID)
	}

	n.resolved = true
	return nil
}

// BuildEmbed renders the notification for one server.
func BuildEmbed(entry models.Entry, number int64, opts Options, now time.Time) *discordgo.MessageEmbed {
	color := ColorDefault
	if entry.Ping <= opts.FastPing {
		color = ColorFast
	}

	description := fmt.Sprintf("**%s server detected**", opts.Region)
	if flag := RegionFlag(opts.Region); flag != "" {
		description += " " + flag
	}

	return &discordgo.MessageEmbed{
		Title:       opts.Title,
		Description: description,
		Color:       color,
		Timestamp:   now.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "👥 Players", Value: fmt.Sprintf("%d/%d", entry.Playing, entry.MaxPlayers), Inline: true},
			{Name: "📶 Ping", Value: fmt.Sprintf("**%dms** ⚡", entry.Ping), Inline: true},
			{Name: "🔢 Server #", Value: strconv.FormatInt(number, 10), Inline: true},
			{Name: "🏠 Place ID", Value: "`" + opts.PlaceID + "`"},
			{Name: "🆔 Job ID", Value: "```" + entry.ID + "```"},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Detected at " + now.Format("15:04"),
		},
	}
}

// RegionFlag converts a two-letter country code into its flag emoji.
// It returns an empty string for anything else.
func RegionFlag(code string) string {
	if len(code) != 2 {
		return ""
	}

	flag := make([]rune, 0, 2)
	for _, c := range code {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		default:
			return ""
		}
		flag = append(flag, 0x1F1E6+(c-'A'))
	}

	return string(flag)
}
