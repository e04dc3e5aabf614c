// Package authz decides whether a baking signature may be released and keeps
// the watermark record moving forward.
//
// An Engine is driven from a single goroutine. Every mutation is committed to
// non-volatile storage before the call returns success, so a caller that only
// releases a signature after a nil error never signs past an unrecorded mark.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/signer"
	"github.com/tez-capital/tezbake/ui"
	"github.com/tez-capital/tezbake/watermark"
)

// Fingerprint renders a key for the operator, usually its tz address.
type Fingerprint func(keychain.Key) (string, error)

type Engine struct {
	store       *watermark.Store
	prompter    ui.Prompter
	fingerprint Fingerprint
	log         *slog.Logger
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithFingerprint(f Fingerprint) Option {
	return func(e *Engine) { e.fingerprint = f }
}

func New(store *watermark.Store, prompter ui.Prompter, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		prompter: prompter,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func IsValidLevel(l baking.Level) bool { return baking.IsValidLevel(l) }

// State returns the committed state.
func (e *Engine) State() watermark.State { return e.store.State() }

func (e *Engine) commit(next watermark.State) error {
	if err := e.store.Commit(next); err != nil {
		e.log.Error("watermark commit failed", slog.Any("err", err))
		return errors.Join(ErrStorage, err)
	}
	return nil
}

func (e *Engine) confirm(ctx context.Context, p ui.Prompt) error {
	outcome, err := e.prompter.Prompt(ctx, p)
	if err != nil {
		e.log.Warn("prompt failed", slog.String("prompt", p.Title), slog.Any("err", err))
		return errors.Join(ErrUserRejected, err)
	}
	if outcome != ui.Accept {
		e.log.Info("rejected by user", slog.String("prompt", p.Title))
		return ErrUserRejected
	}
	return nil
}

func (e *Engine) keyFields(key keychain.Key) []ui.Field {
	fields := make([]ui.Field, 0, 3)
	if e.fingerprint != nil {
		if pkh, err := e.fingerprint(key); err == nil {
			fields = append(fields, ui.Field{Label: "Address", Value: pkh})
		} else {
			e.log.Warn("cannot fingerprint key", slog.String("key", key.String()), slog.Any("err", err))
		}
	}
	return append(fields,
		ui.Field{Label: "Curve", Value: key.Type.String()},
		ui.Field{Label: "Path", Value: key.Path.String()},
	)
}

// AuthorizeBaking binds key as the baking key after operator approval when no
// key is bound yet. Asking again for the bound key succeeds without a
// prompt; asking for any other key fails with ErrKeyMismatch.
func (e *Engine) AuthorizeBaking(ctx context.Context, key keychain.Key) error {
	if !key.IsSet() || key.Path.Len() == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}

	st := e.store.State()
	if st.Key.IsSet() {
		if st.Key.Equal(key) {
			return nil
		}
		e.log.Warn("authorize refused: another key is bound",
			slog.String("bound", st.Key.String()), slog.String("requested", key.String()))
		return ErrKeyMismatch
	}

	if err := e.confirm(ctx, ui.Prompt{Title: "Authorize baking", Fields: e.keyFields(key)}); err != nil {
		return err
	}

	st.Key = key
	if err := e.commit(st); err != nil {
		return err
	}
	e.log.Info("baking key authorized", slog.String("key", key.String()))
	return nil
}

// GuardBakingAuthorized admits a parsed baking operation signed by key. On
// success the advanced watermark is already durable. Any error leaves the
// state untouched and the caller must not sign.
func (e *Engine) GuardBakingAuthorized(data baking.ParsedBakingData, key keychain.Key) error {
	attrs := []any{
		slog.String("kind", data.Kind.String()),
		slog.String("chain", data.Chain.String()),
		slog.Uint64("level", uint64(data.Level)),
		slog.Uint64("round", uint64(data.Round)),
	}

	st := e.store.State()
	if !key.IsSet() || key.Path.Len() == 0 || !key.Equal(st.Key) {
		e.log.Warn("denied: key mismatch", append(attrs, slog.String("key", key.String()))...)
		return ErrKeyMismatch
	}
	if !IsValidLevel(data.Level) {
		e.log.Warn("denied: invalid level", attrs...)
		return ErrInvalidLevel
	}

	cur := st.Watermark(data.Chain)
	next, err := cur.Advance(data.Kind, data.Level, data.Round)
	if err != nil {
		e.log.Warn("denied", append(attrs, slog.String("hwm", cur.String()), slog.Any("err", err))...)
		return err
	}

	if next != cur {
		if err := e.commit(st.WithWatermark(data.Chain, next)); err != nil {
			return err
		}
	}
	e.log.Info("authorized", append(attrs, slog.String("hwm", next.String()))...)
	return nil
}

// Reset moves both watermarks to {level, 0, false} after operator approval.
// It is the only way a watermark can move backwards.
func (e *Engine) Reset(ctx context.Context, level baking.Level) error {
	if !IsValidLevel(level) {
		return ErrInvalidLevel
	}

	p := ui.Prompt{
		Title:  "Reset high water mark",
		Fields: []ui.Field{{Label: "Level", Value: strconv.FormatUint(uint64(level), 10)}},
	}
	if err := e.confirm(ctx, p); err != nil {
		return err
	}

	st := e.store.State()
	st.Main = watermark.Baseline(level)
	st.Test = watermark.Baseline(level)
	if err := e.commit(st); err != nil {
		return err
	}
	e.log.Info("watermarks reset", slog.Uint64("level", uint64(level)))
	return nil
}

type SetupParams struct {
	Key         keychain.Key
	MainChainID baking.ChainID
	MainLevel   baking.Level
	TestLevel   baking.Level
}

// Setup provisions the device in one approval: baking key, main chain id and
// both watermark baselines.
func (e *Engine) Setup(ctx context.Context, p SetupParams) error {
	if !p.Key.IsSet() || p.Key.Path.Len() == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidKey, p.Key)
	}
	if !IsValidLevel(p.MainLevel) || !IsValidLevel(p.TestLevel) {
		return ErrInvalidLevel
	}

	fields := append(e.keyFields(p.Key),
		ui.Field{Label: "Chain", Value: signer.EncodeChainID(uint32(p.MainChainID))},
		ui.Field{Label: "Main level", Value: strconv.FormatUint(uint64(p.MainLevel), 10)},
		ui.Field{Label: "Test level", Value: strconv.FormatUint(uint64(p.TestLevel), 10)},
	)
	if err := e.confirm(ctx, ui.Prompt{Title: "Setup baking", Fields: fields}); err != nil {
		return err
	}

	next := watermark.State{
		MainChainID: p.MainChainID,
		Main:        watermark.Baseline(p.MainLevel),
		Test:        watermark.Baseline(p.TestLevel),
		Key:         p.Key,
	}
	if err := e.commit(next); err != nil {
		return err
	}
	e.log.Info("baking setup",
		slog.String("key", p.Key.String()),
		slog.String("chain", signer.EncodeChainID(uint32(p.MainChainID))),
		slog.Uint64("main_level", uint64(p.MainLevel)),
		slog.Uint64("test_level", uint64(p.TestLevel)))
	return nil
}

// Deauthorize unbinds the baking key after operator approval. Watermarks
// are kept.
func (e *Engine) Deauthorize(ctx context.Context) error {
	st := e.store.State()
	if !st.Key.IsSet() {
		return nil
	}
	if err := e.confirm(ctx, ui.Prompt{Title: "Deauthorize baking", Fields: e.keyFields(st.Key)}); err != nil {
		return err
	}

	st.Key = keychain.Key{}
	if err := e.commit(st); err != nil {
		return err
	}
	e.log.Info("baking key deauthorized")
	return nil
}
