// Package config loads the TOML configuration shared by the device daemon
// and the host tool. Environment variables override the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"

	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/logging"
	"github.com/tez-capital/tezbake/signer"
)

const (
	EnvConfig    = "TEZBAKE_CONFIG"
	EnvStateFile = "TEZBAKE_STATE_FILE"
	EnvSeedFile  = "TEZBAKE_SEED_FILE"
	EnvLinkIn    = "TEZBAKE_LINK_IN"
	EnvLinkOut   = "TEZBAKE_LINK_OUT"
	EnvListen    = "TEZBAKE_LISTEN"
	EnvPrompt    = "TEZBAKE_PROMPT"
)

// Prompt modes for the device. There is no auto-accept mode: reset, setup,
// authorize and deauthorize always need an operator at the terminal.
const (
	PromptTerminal = "terminal"
	PromptReject   = "reject"
)

var ErrInvalid = errors.New("invalid configuration")

type Link struct {
	In  string `toml:"in"`
	Out string `toml:"out"`
}

type Device struct {
	StateFile      string        `toml:"state_file"`
	SeedFile       string        `toml:"seed_file"`
	Salt           string        `toml:"salt"`
	Prompt         string        `toml:"prompt"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	Link           Link          `toml:"link"`
}

type Host struct {
	Listen         string        `toml:"listen"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	// PromptTimeout bounds commands the operator confirms on the device.
	PromptTimeout time.Duration `toml:"prompt_timeout"`
	// AllowedKeys restricts the HTTP API to these tz addresses. Empty allows
	// the authorized key only.
	AllowedKeys []string `toml:"allowed_keys"`
	ChainID     string   `toml:"chain_id"`
	Link        Link     `toml:"link"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type Config struct {
	Device Device `toml:"device"`
	Host   Host   `toml:"host"`
	Log    Log    `toml:"log"`
}

func Default() Config {
	return Config{
		Device: Device{
			StateFile:      "/var/lib/tezbake/hwm.bin",
			SeedFile:       "/var/lib/tezbake/seed",
			Salt:           "tezbake",
			Prompt:         PromptTerminal,
			RequestTimeout: 30 * time.Second,
			Link:           Link{In: "/dev/ttyGS0", Out: "/dev/ttyGS0"},
		},
		Host: Host{
			Listen:         "127.0.0.1:20090",
			RequestTimeout: 10 * time.Second,
			PromptTimeout:  45 * time.Second,
			ChainID:        signer.EncodeChainID(uint32(baking.MainnetChainID)),
			Link:           Link{In: "/dev/ttyACM0", Out: "/dev/ttyACM0"},
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path falls back to
// TEZBAKE_CONFIG; no file at all is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
		}
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := lo.Map(undecoded, func(k toml.Key, _ int) string { return k.String() })
				return cfg, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	set := func(dst *string, env string) {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Device.StateFile, EnvStateFile)
	set(&c.Device.SeedFile, EnvSeedFile)
	set(&c.Device.Prompt, EnvPrompt)
	set(&c.Device.Link.In, EnvLinkIn)
	set(&c.Device.Link.Out, EnvLinkOut)
	set(&c.Host.Link.In, EnvLinkIn)
	set(&c.Host.Link.Out, EnvLinkOut)
	set(&c.Host.Listen, EnvListen)
	set(&c.Log.Level, logging.EnvLevel)
	set(&c.Log.Format, logging.EnvFormat)
	set(&c.Log.File, logging.EnvFile)
}

func (c Config) Validate() error {
	var errs []error
	if !lo.Contains([]string{PromptTerminal, PromptReject}, c.Device.Prompt) {
		errs = append(errs, fmt.Errorf("device.prompt %q, want %q or %q", c.Device.Prompt, PromptTerminal, PromptReject))
	}
	if c.Device.RequestTimeout <= 0 || c.Host.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	// the host must outwait the operator, or it reports a failure for a
	// change the device applied
	if c.Host.PromptTimeout <= c.Device.RequestTimeout {
		errs = append(errs, fmt.Errorf("host.prompt_timeout %v must exceed device.request_timeout %v",
			c.Host.PromptTimeout, c.Device.RequestTimeout))
	}
	if _, err := c.Host.MainChainID(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Logging(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalid}, errs...)...)
	}
	return nil
}

func (h Host) MainChainID() (baking.ChainID, error) {
	id, err := signer.DecodeChainID(h.ChainID)
	if err != nil {
		return 0, fmt.Errorf("host.chain_id %q: %w", h.ChainID, err)
	}
	return baking.ChainID(id), nil
}

// Logging converts the [log] section for the logging package.
func (c Config) Logging() (logging.Config, error) {
	lc := logging.DefaultConfig()
	var err error
	if lc.Level, err = logging.ParseLevel(c.Log.Level); err != nil {
		return lc, err
	}
	if lc.Format, err = logging.ParseFormat(c.Log.Format); err != nil {
		return lc, err
	}
	lc.File = c.Log.File
	return lc, nil
}

// LogValue keeps the config readable in structured logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("state_file", c.Device.StateFile),
		slog.String("prompt", c.Device.Prompt),
		slog.String("link_in", c.Device.Link.In),
		slog.String("link_out", c.Device.Link.Out),
		slog.String("listen", c.Host.Listen),
		slog.String("chain_id", c.Host.ChainID),
	)
}
