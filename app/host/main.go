// Command tezbake-host talks to a tezbake device over its serial link. It
// serves the Octez remote signer API and provisions the device.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/broker"
	"github.com/tez-capital/tezbake/common"
	"github.com/tez-capital/tezbake/config"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/logging"
	"github.com/tez-capital/tezbake/signer"
	"github.com/tez-capital/tezbake/transport"
)

var (
	version = "0.1.0"
	commit  = "unknown"
)

// session is an open link to the device.
type session struct {
	cfg    config.Config
	log    *slog.Logger
	client *common.Client

	close func()
}

func open(cmd *cli.Command) (*session, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	lc, err := cfg.Logging()
	if err != nil {
		return nil, err
	}
	if lc.File == "" && cmd.Name == "serve" {
		lc.File = logging.DefaultFileInExecDir(logFileName)
	}
	if lc.File != "" {
		if err := logging.EnsureDir(lc.File); err != nil {
			return nil, err
		}
	}
	l, logCloser, err := logging.New(lc)
	if err != nil {
		return nil, err
	}

	link, err := transport.Open(cfg.Host.Link.In, cfg.Host.Link.Out)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("open device link: %w", err)
	}
	b := broker.New(link, link, broker.WithLogger(l.With(slog.String("component", "broker"))))

	return &session{
		cfg:    cfg,
		log:    l,
		client: common.NewClient(b, cfg.Host.RequestTimeout, common.WithPromptTimeout(cfg.Host.PromptTimeout)),
		close: func() {
			b.Stop()
			_ = link.Close()
			_ = logCloser.Close()
		},
	}, nil
}

func withSession(fn func(ctx context.Context, cmd *cli.Command, s *session) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := open(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(ctx, cmd, s)
	}
}

var keyFlags = []cli.Flag{
	&cli.StringFlag{Name: flagCurve, Value: "ed25519", Usage: "ed25519, bip32-ed25519, secp256k1, secp256r1 or bls12-381"},
	&cli.StringFlag{Name: flagPath, Value: "m/44'/1729'/0'/0'", Usage: "BIP32 derivation path"},
}

func keyFromFlags(cmd *cli.Command) (keychain.Key, error) {
	typ, err := keychain.ParseDerivationType(cmd.String(flagCurve))
	if err != nil {
		return keychain.Key{}, err
	}
	p, err := keychain.ParsePath(cmd.String(flagPath))
	if err != nil {
		return keychain.Key{}, err
	}
	return keychain.Key{Type: typ, Path: p}, nil
}

func printPublicKey(key keychain.Key, pub []byte) error {
	scheme, err := key.Type.Scheme()
	if err != nil {
		return err
	}
	pk, err := signer.EncodePublicKey(scheme, pub)
	if err != nil {
		return err
	}
	pkh, err := signer.PublicKeyHash(scheme, pub)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s\n", pkh, pk)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "tezbake-host",
		Usage:   "Octez remote signer backed by a tezbake device",
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
				Usage:  "serve the Octez remote signer API",
				Action: withSession(serve),
			},
			{
				Name:  "status",
				Usage: "show the authorized key and watermarks",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagJSON, Usage: "print JSON"},
				},
				Action: withSession(status),
			},
			{
				Name:   "public-key",
				Usage:  "print the address and public key for a path",
				Flags:  append([]cli.Flag{&cli.BoolFlag{Name: "prompt", Usage: "confirm on the device"}}, keyFlags...),
				Action: withSession(publicKey),
			},
			{
				Name:   "authorize",
				Usage:  "authorize a key for baking (confirm on the device)",
				Flags:  keyFlags,
				Action: withSession(authorize),
			},
			{
				Name:  "setup",
				Usage: "authorize a key and set chain id and watermarks (confirm on the device)",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "chain-id", Usage: "main chain id (Net...), defaults to host.chain_id"},
					&cli.UintFlag{Name: "main-level", Usage: "main chain watermark level"},
					&cli.UintFlag{Name: "test-level", Usage: "test chain watermark level"},
				}, keyFlags...),
				Action: withSession(setup),
			},
			{
				Name:  "reset",
				Usage: "reset both watermarks to a level (confirm on the device)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "level", Required: true},
					&cli.BoolFlag{Name: flagYes, Usage: "skip the local confirmation"},
				},
				Action: withSession(reset),
			},
			{
				Name:   "deauthorize",
				Usage:  "forget the authorized key, watermarks stay",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: flagYes, Usage: "skip the local confirmation"}},
				Action: withSession(deauthorize),
			},
			{
				Name:   "version",
				Usage:  "print the device firmware version",
				Action: withSession(deviceVersion),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, _ *cli.Command, s *session) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := s.client.Version(ctx)
	if err != nil {
		return fmt.Errorf("device handshake: %w", err)
	}
	s.log.Info("device connected", slog.String("version", v.String()))

	app := buildFiberApp(s.client, s.log.With(slog.String("component", "http")), s.cfg.Host.AllowedKeys)
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", slog.String("addr", s.cfg.Host.Listen))
		errCh <- app.Listen(s.cfg.Host.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(sctx)
	}
}

func collectStatus(ctx context.Context, c *common.Client) (deviceStatus, error) {
	var st deviceStatus
	v, err := c.Version(ctx)
	if err != nil {
		return st, err
	}
	st.Version = v.String()
	if st.Commit, err = c.GitCommit(ctx); err != nil {
		return st, err
	}
	if st.Watermarks, err = c.AllWatermarks(ctx); err != nil {
		return st, err
	}

	bk, err := resolveBakingKey(ctx, c)
	switch {
	case errors.Is(err, common.ErrNoAuthorizedKey):
		return st, nil
	case err != nil:
		return st, err
	}
	st.Key = bk.key.String()
	st.PKH = bk.pkh
	st.PublicKey, err = signer.EncodePublicKey(bk.scheme, bk.pub)
	return st, err
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		return w
	}
	return 80
}

func status(ctx context.Context, cmd *cli.Command, s *session) error {
	st, err := collectStatus(ctx, s.client)
	if err != nil {
		return err
	}
	if cmd.Bool(flagJSON) || !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st.JSON())
	}
	fmt.Println(renderStatus(st, terminalWidth()))
	return nil
}

func publicKey(ctx context.Context, cmd *cli.Command, s *session) error {
	key, err := keyFromFlags(cmd)
	if err != nil {
		return err
	}
	get := s.client.PublicKey
	if cmd.Bool("prompt") {
		get = s.client.PromptPublicKey
	}
	pub, err := get(ctx, key)
	if err != nil {
		return err
	}
	return printPublicKey(key, pub)
}

func authorize(ctx context.Context, cmd *cli.Command, s *session) error {
	key, err := keyFromFlags(cmd)
	if err != nil {
		return err
	}
	fmt.Println("confirm on the device...")
	pub, err := s.client.Authorize(ctx, key)
	if err != nil {
		return err
	}
	return printPublicKey(key, pub)
}

func setup(ctx context.Context, cmd *cli.Command, s *session) error {
	key, err := keyFromFlags(cmd)
	if err != nil {
		return err
	}
	host := s.cfg.Host
	if v := cmd.String("chain-id"); v != "" {
		host.ChainID = v
	}
	chainID, err := host.MainChainID()
	if err != nil {
		return err
	}
	mainLevel, err := levelFlag(cmd, "main-level")
	if err != nil {
		return err
	}
	testLevel, err := levelFlag(cmd, "test-level")
	if err != nil {
		return err
	}

	fmt.Println("confirm on the device...")
	pub, err := s.client.Setup(ctx, key, chainID, mainLevel, testLevel)
	if err != nil {
		return err
	}
	return printPublicKey(key, pub)
}

func levelFlag(cmd *cli.Command, name string) (baking.Level, error) {
	v := cmd.Uint(name)
	if v >= uint(baking.MaxLevel) {
		return 0, fmt.Errorf("--%s must be below %d", name, baking.MaxLevel)
	}
	return baking.Level(v), nil
}

func confirmLocally(cmd *cli.Command, prompt, want string) error {
	if cmd.Bool(flagYes) {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("not a terminal, pass --yes")
	}
	ok, err := confirmTyped(prompt, want)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("aborted")
	}
	return nil
}

func reset(ctx context.Context, cmd *cli.Command, s *session) error {
	level, err := levelFlag(cmd, "level")
	if err != nil {
		return err
	}
	want := strconv.FormatUint(uint64(level), 10)
	if err := confirmLocally(cmd, "type the level to reset both watermarks to "+want, want); err != nil {
		return err
	}
	fmt.Println("confirm on the device...")
	if err := s.client.Reset(ctx, level); err != nil {
		return err
	}
	s.log.Info("watermarks reset", slog.Uint64("level", uint64(level)))
	return nil
}

func deauthorize(ctx context.Context, cmd *cli.Command, s *session) error {
	if err := confirmLocally(cmd, "type deauthorize to drop the baking key", "deauthorize"); err != nil {
		return err
	}
	return s.client.Deauthorize(ctx)
}

func deviceVersion(ctx context.Context, _ *cli.Command, s *session) error {
	v, err := s.client.Version(ctx)
	if err != nil {
		return err
	}
	c, err := s.client.GitCommit(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("device %s (%s)\nhost   %s (%s)\n", v, c, version, commit)
	return nil
}
