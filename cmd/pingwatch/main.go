// main is the entry point of the PingWatch bot.
// It initializes the configuration, logger, history database, listing client and Discord session,
// then scans the server listing until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/pingwatch/internal/bot"
	"github.com/woozymasta/pingwatch/internal/config"
	"github.com/woozymasta/pingwatch/internal/listing"
	"github.com/woozymasta/pingwatch/internal/logger"
	"github.com/woozymasta/pingwatch/internal/maintenance"
	"github.com/woozymasta/pingwatch/internal/notify"
	"github.com/woozymasta/pingwatch/internal/scanner"
	"github.com/woozymasta/pingwatch/internal/server"
	"github.com/woozymasta/pingwatch/internal/storage"
	"github.com/woozymasta/pingwatch/internal/vars"
)

func main() {
	cfg := config.Parse()

	logCloser := logger.Setup(cfg.Logger)
	defer func() { _ = logCloser.Close() }()

	log.Info().Str("version", vars.Version).Str("commit", vars.CommitShort()).Msg("Starting pingwatch service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Detection history
	var (
		store    *storage.Repository
		recorder scanner.Recorder
		history  bot.History
	)
	if cfg.Storage.Enabled() {
		var err error
		store, err = storage.New(ctx, cfg.Storage.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing database")
			}
		}()

		recorder = store
		history = store
		log.Info().Str("path", cfg.Storage.Path).Msg("Detection history enabled")
	}

	// data generation or database maintenance
	if store != nil && maintenance.Run(ctx, cfg, store) {
		return
	}

	// Listing
	fetcher, err := listing.New(listing.Options{
		BaseURL:   cfg.Scan.BaseURL,
		PlaceID:   cfg.Scan.PlaceID,
		SortOrder: cfg.Scan.SortOrder,
		Limit:     cfg.Scan.Limit,
		Timeout:   cfg.Scan.RequestTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize listing client")
	}
	defer fetcher.Close()
	log.Info().Str("url", fetcher.URL()).Msg("Listing endpoint configured")

	// Discord
	session, err := bot.NewSession(cfg.Discord.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Discord session")
	}

	notifier := notify.New(session, notify.Options{
		ChannelID: cfg.Discord.ChannelID,
		PlaceID:   cfg.Scan.PlaceID,
		Title:     cfg.Notify.Title,
		Region:    cfg.Notify.Region,
		FastPing:  cfg.Notify.FastPing,
	})

	scn := scanner.New(fetcher, notifier, recorder, scanner.Options{
		PlaceID:     cfg.Scan.PlaceID,
		MaxPing:     cfg.Scan.MaxPing,
		Dedup:       !cfg.Scan.NoDedup,
		CacheLimit:  cfg.Scan.CacheLimit,
		CacheKeep:   cfg.Scan.CacheKeep,
		NotifyDelay: cfg.Scan.NotifyDelay,
		Cooldown:    cfg.Scan.Cooldown,
		Interval:    cfg.Scan.Interval,
	})

	dispatcher := bot.NewDispatcher(scn, scn.State(), history, bot.DispatcherOptions{
		Prefix:       cfg.Discord.Prefix,
		CommandRate:  cfg.Discord.CommandRate,
		CommandBurst: cfg.Discord.CommandBurst,
		RecentLimit:  cfg.Discord.RecentLimit,
		Interval:     cfg.Scan.Interval,
		MaxPing:      cfg.Scan.MaxPing,
	})

	discord := bot.New(session, dispatcher, bot.Options{
		Status:  fmt.Sprintf("servers ≤ %dms", cfg.Scan.MaxPing),
		OnReady: func() { scn.Start(ctx) },
	})

	// Liveness
	liveness := make(chan struct{})
	go func() {
		defer close(liveness)
		if err := server.Listen(ctx, cfg.Server.Address(), server.New(scn.State()).Router()); err != nil {
			log.Error().Err(err).Msg("Liveness server failed")
		}
	}()

	if err := discord.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Discord")
	}

	// Graceful Shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	// No new commands after this point
	if err := discord.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Discord session")
	}

	// Stop scanning (wait periodic and command-triggered cycles)
	scn.Stop()

	<-liveness

	log.Info().Int64("notified", scn.State().Notified()).Msg("Service exited")
}
