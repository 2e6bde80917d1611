// Package bot connects to the Discord gateway and routes chat commands to the scanner.
package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/woozymasta/pingwatch/internal/logger"
)

// privilegedPermissions allow the clear command.
const privilegedPermissions = discordgo.PermissionAdministrator | discordgo.PermissionManageServer

// NewSession creates a gateway session with the intents needed to read prefixed commands.
// The session is not connected until [Bot.Open].
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return session, nil
}

// Options configures the [Bot].
type Options struct {
	// Status is shown as the bot's "watching" activity.
	Status string

	// OnReady runs once, after the first gateway Ready event.
	OnReady func()
}

// Bot wires gateway events to the command dispatcher.
type Bot struct {
	session    *discordgo.Session
	dispatcher *Dispatcher
	opts       Options
	log        zerolog.Logger

	ctx       context.Context
	readyOnce sync.Once
}

// New registers gateway handlers on session.
func New(session *discordgo.Session, dispatcher *Dispatcher, opts Options) *Bot {
	b := &Bot{
		session:    session,
		dispatcher: dispatcher,
		opts:       opts,
		log:        logger.Component("bot"),
		ctx:        context.Background(),
	}

	session.AddHandler(b.handleReady)
	session.AddHandler(b.handleMessage)

	return b
}

// Open connects to the gateway. ctx bounds commands started from chat.
func (b *Bot) Open(ctx context.Context) error {
	b.ctx = ctx
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	username := ""
	if r.User != nil {
		username = r.User.Username
	}
	b.log.Info().Str("user", username).Int("guilds", len(r.Guilds)).Msg("Bot connected")

	if b.opts.Status != "" {
		if err := s.UpdateWatchStatus(0, b.opts.Status); err != nil {
			b.log.Warn().Err(err).Msg("Failed to update presence")
		}
	}

	b.readyOnce.Do(func() {
		if b.opts.OnReady != nil {
			b.opts.OnReady()
		}
	})
}

func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	req := Request{
		UserID:  m.Author.ID,
		Content: m.Content,
		Privileged: func() (bool, error) {
			perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
			if err != nil {
				return false, err
			}
			return perms&privilegedPermissions != 0, nil
		},
	}

	respond := func(msg *discordgo.MessageSend) error {
		msg.Reference = m.Reference()
		_, err := s.ChannelMessageSendComplex(m.ChannelID, msg, discordgo.WithContext(b.ctx))
		return err
	}

	b.dispatcher.Handle(b.ctx, req, respond)
}
