// Package config layers flags, STORYCARDS_* environment variables, an
// optional .env file and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/DoyleJ11/storycards/internal/identity"
	"github.com/DoyleJ11/storycards/internal/socketio"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix        = "STORYCARDS"
	DefaultServerURL = "https://dev.writecraft.io"
)

var ErrInvalid = errors.New("invalid configuration")

// Client configures the storycards CLI.
type Client struct {
	ServerURL    string
	Transports   []string
	StaleAfter   time.Duration
	CheckEvery   time.Duration
	IdentityFile string
	IdentityDSN  string
	Profile      string
	LogFile      string
	LogLevel     string
	Debug        bool
	StrictGating bool
}

// Server configures the development game server.
type Server struct {
	Addr        string
	PulseEvery  time.Duration
	HandSize    int
	IdleTimeout time.Duration
	LogLevel    string
	Debug       bool
}

// LoadDotEnv reads path (".env" when empty) into the process environment
// without overriding variables that are already set. A missing file is fine.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func defaultIdentityFile() string {
	p, err := identity.DefaultPath()
	if err != nil {
		return filepath.Join(".", "storycards-storage.json")
	}
	return p
}

// RegisterClientFlags declares the client flags on fs and points them at c.
func RegisterClientFlags(fs *pflag.FlagSet, c *Client) {
	fs.StringVar(&c.ServerURL, "server-url", DefaultServerURL, "game server base URL (env: STORYCARDS_SERVER_URL)")
	fs.StringSliceVar(&c.Transports, "transports", []string{socketio.TransportPolling, socketio.TransportWebSocket}, "transports to try, in order (env: STORYCARDS_TRANSPORTS)")
	fs.DurationVar(&c.StaleAfter, "stale-after", 5*time.Second, "silence before the connection is replaced (env: STORYCARDS_STALE_AFTER)")
	fs.DurationVar(&c.CheckEvery, "check-every", time.Second, "liveness check period (env: STORYCARDS_CHECK_EVERY)")
	fs.StringVar(&c.IdentityFile, "identity-file", defaultIdentityFile(), "where the player id is kept (env: STORYCARDS_IDENTITY_FILE)")
	fs.StringVar(&c.IdentityDSN, "identity-dsn", "", "postgres DSN; keeps the player id in a database instead of a file (env: STORYCARDS_IDENTITY_DSN)")
	fs.StringVar(&c.Profile, "profile", "default", "profile name for the database identity store (env: STORYCARDS_PROFILE)")
	fs.StringVar(&c.LogFile, "log-file", "", "write logs here instead of discarding them (env: STORYCARDS_LOG_FILE)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug, info, warn or error (env: STORYCARDS_LOG_LEVEL)")
	fs.BoolVar(&c.Debug, "debug", false, "development logging (env: STORYCARDS_DEBUG)")
	fs.BoolVar(&c.StrictGating, "strict-gating", false, "refuse picks and votes that do not fit the stage (env: STORYCARDS_STRICT_GATING)")
}

// RegisterServerFlags declares the dev server flags on fs and points them at s.
func RegisterServerFlags(fs *pflag.FlagSet, s *Server) {
	fs.StringVar(&s.Addr, "addr", ":8080", "listen address (env: STORYCARDS_ADDR)")
	fs.DurationVar(&s.PulseEvery, "pulse-every", 2*time.Second, "liveness pulse period (env: STORYCARDS_PULSE_EVERY)")
	fs.IntVar(&s.HandSize, "hand-size", 6, "cards per hand (env: STORYCARDS_HAND_SIZE)")
	fs.DurationVar(&s.IdleTimeout, "idle-timeout", 30*time.Minute, "close rooms nobody is connected to (env: STORYCARDS_IDLE_TIMEOUT)")
	fs.StringVar(&s.LogLevel, "log-level", "info", "debug, info, warn or error (env: STORYCARDS_LOG_LEVEL)")
	fs.BoolVar(&s.Debug, "debug", false, "development logging (env: STORYCARDS_DEBUG)")
}

// ApplyEnv fills every flag the user did not set from its environment
// variable, e.g. --stale-after from STORYCARDS_STALE_AFTER.
func ApplyEnv(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, envValue(v, f)); err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
			}
		}
	})
	return errors.Join(errs...)
}

// envValue renders the viper value so that fs.Set parses it back; slices
// come out of the environment as one comma separated string.
func envValue(v *viper.Viper, f *pflag.Flag) string {
	if f.Value.Type() == "stringSlice" {
		if s, ok := v.Get(f.Name).(string); ok {
			return s
		}
		return strings.Join(v.GetStringSlice(f.Name), ",")
	}
	return fmt.Sprintf("%v", v.Get(f.Name))
}

func (c *Client) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("%w: server url is empty", ErrInvalid)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: server url %q", ErrInvalid, c.ServerURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%w: server url scheme %q", ErrInvalid, u.Scheme)
	}
	if len(c.Transports) == 0 {
		return fmt.Errorf("%w: no transports", ErrInvalid)
	}
	for _, t := range c.Transports {
		if !socketio.ValidTransport(t) {
			return fmt.Errorf("%w: unknown transport %q", ErrInvalid, t)
		}
	}
	if c.StaleAfter <= 0 || c.CheckEvery <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalid)
	}
	if c.CheckEvery >= c.StaleAfter {
		return fmt.Errorf("%w: check-every (%s) must be shorter than stale-after (%s)", ErrInvalid, c.CheckEvery, c.StaleAfter)
	}
	if err := validLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (s *Server) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("%w: empty listen address", ErrInvalid)
	}
	if s.PulseEvery < 0 || s.IdleTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}
	if s.HandSize < 1 {
		return fmt.Errorf("%w: hand size %d", ErrInvalid, s.HandSize)
	}
	return validLevel(s.LogLevel)
}
