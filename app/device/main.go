// Command tezbake-device is the signing daemon. It answers APDU commands
// arriving over the gadget link and guards every baking signature with the
// persisted high-water mark.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tez-capital/tezbake/authz"
	"github.com/tez-capital/tezbake/broker"
	"github.com/tez-capital/tezbake/config"
	"github.com/tez-capital/tezbake/device"
	"github.com/tez-capital/tezbake/health"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/logging"
	"github.com/tez-capital/tezbake/nvram"
	"github.com/tez-capital/tezbake/transport"
	"github.com/tez-capital/tezbake/ui"
	"github.com/tez-capital/tezbake/watchdog"
	"github.com/tez-capital/tezbake/watermark"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "0.1.0"
	commit  = "unknown"
)

const (
	linkWaitTimeout  = 2 * time.Minute
	statusInterval   = 10 * time.Second
	goroutineCeiling = 256
)

func main() {
	cmd := &cli.Command{
		Name:    "tezbake-device",
		Usage:   "Tezos baking signer with high-water-mark protection",
		Version: version + " (" + commit + ")",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the TOML configuration",
				Sources: cli.EnvVars(config.EnvConfig),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "answer commands on the gadget link",
				Action: serve,
			},
			{
				Name:   "init-seed",
				Usage:  "create a fresh seed file",
				Action: initSeed,
			},
			{
				Name:   "state",
				Usage:  "print the persisted watermark state",
				Action: showState,
			},
		},
		Action: serve,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, nil, nil, err
	}
	lc, err := cfg.Logging()
	if err != nil {
		return cfg, nil, nil, err
	}
	if lc.File != "" {
		if err := logging.EnsureDir(lc.File); err != nil {
			return cfg, nil, nil, err
		}
	}
	l, closer, err := logging.New(lc)
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, l, func() { _ = closer.Close() }, nil
}

// prompterFor never returns an auto-approving prompter; unknown modes fall
// back to the terminal, which rejects without a TTY.
func prompterFor(mode string) ui.Prompter {
	if mode == config.PromptReject {
		return ui.NewStatic(ui.Reject)
	}
	return ui.NewTerminal()
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, l, closeLog, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closeLog()
	l.Info("starting", slog.String("version", version), slog.String("commit", commit), slog.Any("config", cfg))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	release, err := device.ParseVersion(version)
	if err != nil {
		return err
	}

	seed, err := keychain.LoadSeedFile(cfg.Device.SeedFile)
	if err != nil {
		return fmt.Errorf("seed %s: %w", cfg.Device.SeedFile, err)
	}
	keys, err := keychain.NewKeyring(seed, []byte(cfg.Device.Salt))
	if err != nil {
		return err
	}
	clear(seed)

	file, err := nvram.Open(cfg.Device.StateFile)
	if err != nil {
		return err
	}
	defer file.Close()
	store, err := watermark.Open(file)
	if err != nil {
		return err
	}

	prompter := prompterFor(cfg.Device.Prompt)
	engine := authz.New(store, prompter,
		authz.WithLogger(l.With(slog.String("component", "authz"))),
		authz.WithFingerprint(keys.PublicKeyHash),
	)
	monitor := health.NewMonitor(goroutineCeiling)
	dev := device.New(engine, keys, prompter,
		device.WithLogger(l.With(slog.String("component", "device"))),
		device.WithMonitor(monitor),
		device.WithBuildInfo(release, commit),
	)
	l.Info("watermarks loaded", slog.String("status", dev.Status()))

	if err := waitForLink(ctx, cfg.Device.Link.In, cfg.Device.Link.Out, linkWaitTimeout); err != nil {
		return err
	}
	link, err := transport.Open(cfg.Device.Link.In, cfg.Device.Link.Out)
	if err != nil {
		return err
	}
	defer link.Close()

	b := broker.New(link, link,
		broker.WithLogger(l.With(slog.String("component", "broker"))),
		broker.WithHandler(withTimeout(dev.Handle, cfg.Device.RequestTimeout)),
	)
	defer b.Stop()

	wd := watchdog.New()
	defer wd.Close()
	wd.SetHealthCheck(monitor.IsHealthy)
	if err := wd.Ready(); err != nil {
		l.Warn("sd_notify ready", slog.Any("err", err))
	}
	stopPinger := wd.StartPinger(ctx)
	defer stopPinger()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = wd.Stopping()
			l.Info("shutting down", slog.String("status", dev.Status()))
			return nil
		case <-b.Done():
			readers, writers := transport.LeakStats()
			l.Error("link lost",
				slog.Int64("leaked_readers", readers),
				slog.Int64("leaked_writers", writers))
			return errors.New("broker stopped")
		case <-ticker.C:
			_ = wd.Status(dev.Status())
			if !monitor.IsHealthy() {
				l.Warn("unhealthy",
					slog.Int("goroutines", monitor.GoroutineCount()),
					slog.Int64("idle_seconds", monitor.SecondsSinceActivity()))
			}
		}
	}
}

func initSeed(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if err := logging.EnsureDir(cfg.Device.SeedFile); err != nil {
		return err
	}
	if err := keychain.CreateSeedFile(cfg.Device.SeedFile); err != nil {
		return err
	}
	fmt.Println("seed written to", cfg.Device.SeedFile)
	return nil
}

func showState(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	file, err := nvram.Open(cfg.Device.StateFile)
	if err != nil {
		return err
	}
	defer file.Close()
	store, err := watermark.Open(file)
	if err != nil {
		return err
	}
	st := store.State()
	fmt.Printf("key:      %s\nchain id: 0x%08x\nmain:     %s\ntest:     %s\n", st.Key, uint32(st.MainChainID), st.Main, st.Test)
	return nil
}
