// Package device turns APDU commands into engine and keyring calls.
//
// Handle is the broker handler of the device daemon. It answers every
// command with exactly one response, and a baking signature only leaves
// Handle after the watermark it advanced has been committed.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tez-capital/tezbake/apdu"
	"github.com/tez-capital/tezbake/authz"
	"github.com/tez-capital/tezbake/health"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/ui"
	"github.com/tez-capital/tezbake/watermark"
)

// Version is reported by InsVersion as {class, major, minor, patch}.
type Version struct {
	Major, Minor, Patch uint8
}

// appClassBaking tells the host this firmware only signs baking operations.
const appClassBaking uint8 = 1

// ParseVersion reads "1.2.3" with an optional leading v. Missing parts are 0.
func ParseVersion(s string) (Version, error) {
	var parts [3]uint8
	fields := strings.SplitN(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".", 3)
	for i, f := range fields {
		if i == 2 {
			f, _, _ = strings.Cut(f, "-")
		}
		n, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: %w", s, err)
		}
		parts[i] = uint8(n)
	}
	return Version{parts[0], parts[1], parts[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Keys is what the dispatcher needs from a keyring.
type Keys interface {
	PublicKey(keychain.Key) ([]byte, error)
	Sign(keychain.Key, []byte) ([]byte, error)
}

type Device struct {
	engine   *authz.Engine
	keys     Keys
	prompter ui.Prompter
	monitor  *health.Monitor
	log      *slog.Logger

	release Version
	commit  string

	mu      sync.Mutex
	session signSession

	// snapshot is the state after the last command, readable while a
	// command holds mu waiting on the operator.
	snapshot atomic.Pointer[watermark.State]
}

type Option func(*Device)

func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

func WithMonitor(m *health.Monitor) Option {
	return func(d *Device) {
		if m != nil {
			d.monitor = m
		}
	}
}

func WithBuildInfo(v Version, commit string) Option {
	return func(d *Device) {
		d.release = v
		d.commit = commit
	}
}

func New(engine *authz.Engine, keys Keys, prompter ui.Prompter, opts ...Option) *Device {
	d := &Device{
		engine:   engine,
		keys:     keys,
		prompter: prompter,
		monitor:  health.NewMonitor(0),
		log:      slog.Default(),
		commit:   "unknown",
	}
	for _, o := range opts {
		o(d)
	}
	d.refreshSnapshot()
	return d
}

func (d *Device) refreshSnapshot() {
	st := d.engine.State()
	d.snapshot.Store(&st)
}

func (d *Device) Monitor() *health.Monitor { return d.monitor }

// Status is a one-line summary for service managers. It never waits for a
// command in flight.
func (d *Device) Status() string {
	st := d.snapshot.Load()
	return fmt.Sprintf("key %s, main %s, test %s, signed %d, denied %d",
		st.Key, st.Main, st.Test, d.monitor.SignatureCount(), d.monitor.DenialCount())
}

type handlerFunc func(d *Device, ctx context.Context, cmd apdu.Command) ([]byte, error)

var handlers = map[uint8]handlerFunc{
	apdu.InsVersion:               (*Device).version,
	apdu.InsGitCommit:             (*Device).gitCommit,
	apdu.InsGetPublicKey:          (*Device).getPublicKey,
	apdu.InsPromptPublicKey:       (*Device).promptPublicKey,
	apdu.InsAuthorizeBaking:       (*Device).authorize,
	apdu.InsSign:                  (*Device).sign,
	apdu.InsSignWithHash:          (*Device).sign,
	apdu.InsReset:                 (*Device).reset,
	apdu.InsSetup:                 (*Device).setup,
	apdu.InsDeauthorize:           (*Device).deauthorize,
	apdu.InsQueryAllHWM:           (*Device).queryAllHWM,
	apdu.InsQueryMainHWM:          (*Device).queryMainHWM,
	apdu.InsQueryAuthKey:          (*Device).queryAuthKey,
	apdu.InsQueryAuthKeyWithCurve: (*Device).queryAuthKeyWithCurve,
}

// Handle executes one raw APDU and returns the raw response. The error is
// always nil: failures travel back to the host as status words.
func (d *Device) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.refreshSnapshot()
	defer d.monitor.RecordActivity()

	cmd, err := apdu.ParseCommand(payload)
	if err != nil {
		d.log.Warn("malformed command", slog.Any("err", err))
		if errors.Is(err, apdu.ErrBadClass) {
			return apdu.Respond(nil, apdu.StatusClass), nil
		}
		return apdu.Respond(nil, apdu.StatusWrongLength), nil
	}

	h, ok := handlers[cmd.INS]
	if !ok {
		d.log.Warn("unknown instruction", slog.String("ins", fmt.Sprintf("0x%02x", cmd.INS)))
		d.session.clear()
		return apdu.Respond(nil, apdu.StatusInvalidIns), nil
	}
	if cmd.INS != apdu.InsSign && cmd.INS != apdu.InsSignWithHash {
		d.session.clear()
	}

	data, err := h(d, ctx, cmd)
	if err != nil {
		sw := apdu.StatusFromError(err)
		d.log.Debug("command failed",
			slog.String("ins", fmt.Sprintf("0x%02x", cmd.INS)),
			slog.String("sw", sw.String()),
			slog.Any("err", err))
		return apdu.Respond(nil, sw), nil
	}
	return apdu.Respond(data, apdu.StatusOk), nil
}
