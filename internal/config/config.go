// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/pingwatch/internal/logger"
	"github.com/woozymasta/pingwatch/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Discord Discord       `group:"Discord Options" namespace:"discord" env-namespace:"DISCORD"`
	Scan    Scan          `group:"Scan Options" namespace:"scan" env-namespace:"PINGWATCH_SCAN"`
	Notify  Notify        `group:"Notify Options" namespace:"notify" env-namespace:"PINGWATCH_NOTIFY"`
	Server  Server        `group:"Server Options"`
	Storage Storage       `group:"Storage Options" namespace:"db" env-namespace:"PINGWATCH_DB"`
	Logger  logger.Config `group:"Logger Options" namespace:"log" env-namespace:"PINGWATCH_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Discord holds chat gateway and command configuration.
type Discord struct {
	// betteralign:ignore

	Token        string        `short:"t" long:"token" env:"TOKEN" description:"Bot authentication token"`
	ChannelID    string        `short:"c" long:"channel-id" env:"CHANNEL_ID" description:"Channel ID receiving server notifications"`
	Prefix       string        `long:"prefix" env:"PREFIX" description:"Command prefix" default:"!"`
	CommandRate  time.Duration `long:"command-rate" env:"COMMAND_RATE" description:"Per-user command refill interval" default:"5s"`
	CommandBurst int           `long:"command-burst" env:"COMMAND_BURST" description:"Per-user command burst size" default:"2"`
	RecentLimit  int           `long:"recent-limit" env:"RECENT_LIMIT" description:"Detections shown by the recent command" default:"5"`
}

// Scan holds listing fetch and scan cycle configuration.
type Scan struct {
	// betteralign:ignore

	PlaceID        string        `short:"p" long:"place-id" env:"PLACE_ID" description:"Target place ID whose public servers are scanned" default:"109983668079237"`
	BaseURL        string        `long:"base-url" env:"BASE_URL" description:"Games API base URL" default:"https://games.roblox.com"`
	SortOrder      string        `long:"sort-order" env:"SORT_ORDER" description:"Listing sort order" default:"Desc" choice:"Asc" choice:"Desc"`
	Limit          int           `long:"limit" env:"LIMIT" description:"Servers requested per fetch (10, 25, 50 or 100)" default:"100"`
	Interval       time.Duration `short:"i" long:"interval" env:"INTERVAL" description:"Interval between scans" default:"30s"`
	MaxPing        int           `short:"m" long:"max-ping" env:"MAX_PING" description:"Ping ceiling in milliseconds" default:"50"`
	NoDedup        bool          `long:"no-dedup" env:"NO_DEDUP" description:"Notify every qualifying server on each scan, even if already seen"`
	CacheLimit     int           `long:"cache-limit" env:"CACHE_LIMIT" description:"Seen server cache size that triggers pruning" default:"300"`
	CacheKeep      int           `long:"cache-keep" env:"CACHE_KEEP" description:"Newest entries kept on prune, 0 clears the cache" default:"0"`
	NotifyDelay    time.Duration `long:"notify-delay" env:"NOTIFY_DELAY" description:"Pause between consecutive notifications" default:"1.5s"`
	Cooldown       time.Duration `long:"cooldown" env:"COOLDOWN" description:"Wait after a rate-limited or empty fetch" default:"60s"`
	RequestTimeout time.Duration `long:"request-timeout" env:"REQUEST_TIMEOUT" description:"Listing request timeout" default:"15s"`
}

// Notify holds notification embed configuration.
type Notify struct {
	// betteralign:ignore

	Title    string `long:"title" env:"TITLE" description:"Notification title" default:"Server Notify | PingWatch"`
	Region   string `long:"region" env:"REGION" description:"Region label shown in the notification" default:"US"`
	FastPing int    `long:"fast-ping" env:"FAST_PING" description:"Ping at or below which the notification is highlighted" default:"30"`
}

// Server holds liveness endpoint configuration.
type Server struct {
	Port int `long:"port" env:"PORT" description:"Liveness HTTP listen port" default:"8080"`
}

// Address returns the listen address for the liveness server.
func (s Server) Address() string {
	return ":" + strconv.Itoa(s.Port)
}

// Storage holds detection history configuration.
type Storage struct {
	// betteralign:ignore

	Path          string        `short:"d" long:"path" env:"PATH" description:"Path to SQLite detection history, empty disables history"`
	PruneBefore   time.Duration `long:"prune-before" description:"Delete detections older than the given age and exit"`
	GenerateCount int           `long:"gen-fake-data" hidden:"true"`
}

// Enabled reports whether detection history is configured.
func (s Storage) Enabled() bool {
	return s.Path != ""
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	cfg, err := parse(os.Args[1:], flags.Default)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return cfg
}

func parse(args []string, options flags.Options) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, options)
	parser.NamespaceDelimiter = "-"

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required values and value ranges.
// Maintenance runs only touch the history database, so they skip the Discord requirements.
func (c *Config) Validate() error {
	if c.Storage.PruneBefore > 0 || c.Storage.GenerateCount > 0 {
		if !c.Storage.Enabled() {
			return errors.New("history maintenance requires `--db-path' or `PINGWATCH_DB_PATH`")
		}
		return nil
	}

	if c.Discord.Token == "" {
		return errors.New("required flag `-t, --discord-token' or environment variable `DISCORD_TOKEN` was not specified")
	}
	if c.Discord.ChannelID == "" {
		return errors.New("required flag `-c, --discord-channel-id' or environment variable `DISCORD_CHANNEL_ID` was not specified")
	}
	if _, err := strconv.ParseUint(c.Discord.ChannelID, 10, 64); err != nil {
		return fmt.Errorf("invalid channel id %q: must be a numeric snowflake", c.Discord.ChannelID)
	}

	switch c.Scan.Limit {
	case 10, 25, 50, 100:
	default:
		return fmt.Errorf("invalid scan limit %d: must be one of 10, 25, 50, 100", c.Scan.Limit)
	}

	if c.Scan.Interval <= 0 {
		return fmt.Errorf("invalid scan interval %s: must be positive", c.Scan.Interval)
	}
	if c.Scan.MaxPing < 0 {
		return fmt.Errorf("invalid max ping %d: must not be negative", c.Scan.MaxPing)
	}
	if c.Scan.CacheLimit <= 0 {
		return fmt.Errorf("invalid cache limit %d: must be positive", c.Scan.CacheLimit)
	}
	if c.Scan.CacheKeep < 0 || c.Scan.CacheKeep >= c.Scan.CacheLimit {
		return fmt.Errorf("invalid cache keep %d: must be in [0, %d)", c.Scan.CacheKeep, c.Scan.CacheLimit)
	}
	if c.Scan.NotifyDelay < 0 || c.Scan.Cooldown < 0 {
		return errors.New("notify delay and cooldown must not be negative")
	}
	if c.Discord.CommandBurst <= 0 {
		return fmt.Errorf("invalid command burst %d: must be positive", c.Discord.CommandBurst)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}

	return nil
}
