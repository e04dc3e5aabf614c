package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/nvram"
	"github.com/tez-capital/tezbake/ui"
	"github.com/tez-capital/tezbake/watermark"
)

type harness struct {
	engine   *Engine
	mem      *nvram.Memory
	prompter *ui.Static
	key      keychain.Key
}

func testKey(t *testing.T, path string) keychain.Key {
	t.Helper()
	p, err := keychain.ParsePath(path)
	if err != nil {
		t.Fatal(err)
	}
	return keychain.Key{Type: keychain.Ed25519, Path: p}
}

// newHarness starts from a device bound to key with main watermark {level, 0}.
func newHarness(t *testing.T, level baking.Level) *harness {
	t.Helper()
	key := testKey(t, "m/44'/1729'/0'/0'")
	initial := watermark.State{
		MainChainID: baking.MainnetChainID,
		Main:        watermark.Baseline(level),
		Test:        watermark.Baseline(level),
		Key:         key,
	}
	mem := nvram.NewMemory(watermark.Encode(initial))
	store, err := watermark.Open(mem)
	if err != nil {
		t.Fatal(err)
	}
	prompter := ui.NewStatic(ui.Accept)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &harness{
		engine:   New(store, prompter, WithLogger(logger)),
		mem:      mem,
		prompter: prompter,
		key:      key,
	}
}

func op(kind baking.OperationKind, level baking.Level, round baking.Round) baking.ParsedBakingData {
	return baking.ParsedBakingData{ChainID: baking.MainnetChainID, Chain: baking.Main, Kind: kind, Level: level, Round: round}
}

// persisted decodes what actually reached storage.
func (h *harness) persisted(t *testing.T) watermark.State {
	t.Helper()
	raw, _ := h.mem.Load()
	st, err := watermark.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestWalkthrough(t *testing.T) {
	h := newHarness(t, 100)
	steps := []struct {
		name    string
		data    baking.ParsedBakingData
		wantErr error
		want    watermark.HighWaterMark
	}{
		{"A preattestation", op(baking.Preattestation, 100, 0), nil, watermark.HighWaterMark{Level: 100}},
		{"B attestation", op(baking.Attestation, 100, 0), nil, watermark.HighWaterMark{Level: 100, HadAttestation: true}},
		{"C attestation again", op(baking.Attestation, 100, 0), ErrAlreadyAttested, watermark.HighWaterMark{Level: 100, HadAttestation: true}},
		{"D block at next level", op(baking.Block, 101, 0), nil, watermark.HighWaterMark{Level: 101}},
		{"E stale attestation", op(baking.Attestation, 100, 3), ErrExpiredLevel, watermark.HighWaterMark{Level: 101}},
	}

	for _, s := range steps {
		err := h.engine.GuardBakingAuthorized(s.data, h.key)
		if !errors.Is(err, s.wantErr) {
			t.Fatalf("%s: err = %v, want %v", s.name, err, s.wantErr)
		}
		if got := h.persisted(t).Main; got != s.want {
			t.Fatalf("%s: persisted %v, want %v", s.name, got, s.want)
		}
		if got := h.engine.MainWatermark(); got != s.want {
			t.Fatalf("%s: in memory %v, want %v", s.name, got, s.want)
		}
	}
	// A and C/E did not write
	if w := h.mem.Writes(); w != 2 {
		t.Fatalf("writes = %d, want 2", w)
	}
}

func TestGuardDeniesStaleRequests(t *testing.T) {
	h := newHarness(t, 50)
	if err := h.engine.GuardBakingAuthorized(op(baking.Block, 50, 4), h.key); err != nil {
		t.Fatal(err)
	}

	if err := h.engine.GuardBakingAuthorized(op(baking.Block, 49, 9), h.key); !errors.Is(err, ErrExpiredLevel) {
		t.Fatalf("lower level: %v", err)
	}
	if err := h.engine.GuardBakingAuthorized(op(baking.Preattestation, 50, 3), h.key); !errors.Is(err, ErrExpiredRound) {
		t.Fatalf("lower round: %v", err)
	}
}

func TestBlocksAndPreattestationsAreIdempotent(t *testing.T) {
	h := newHarness(t, 10)
	if err := h.engine.GuardBakingAuthorized(op(baking.Attestation, 10, 1), h.key); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		for _, kind := range []baking.OperationKind{baking.Block, baking.Preattestation} {
			if err := h.engine.GuardBakingAuthorized(op(kind, 10, 1), h.key); err != nil {
				t.Fatalf("%s re-sign: %v", kind, err)
			}
		}
	}
	if err := h.engine.GuardBakingAuthorized(op(baking.Attestation, 10, 1), h.key); !errors.Is(err, ErrAlreadyAttested) {
		t.Fatalf("second attestation: %v", err)
	}
}

func TestGuardChainsAreIndependent(t *testing.T) {
	h := newHarness(t, 10)
	test := baking.ParsedBakingData{ChainID: 0x01020304, Chain: baking.Test, Kind: baking.Block, Level: 500}
	if err := h.engine.GuardBakingAuthorized(test, h.key); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.GuardBakingAuthorized(op(baking.Block, 11, 0), h.key); err != nil {
		t.Fatalf("main chain blocked by test chain mark: %v", err)
	}
	main, tst, id := h.engine.AllWatermarks()
	if main.Level != 11 || tst.Level != 500 || id != baking.MainnetChainID {
		t.Fatalf("main %v test %v id %#x", main, tst, id)
	}
}

func TestGuardKeyMismatch(t *testing.T) {
	h := newHarness(t, 10)
	for _, k := range []keychain.Key{
		testKey(t, "m/44'/1729'/1'/0'"),
		{Type: keychain.Secp256k1, Path: h.key.Path},
		{},
	} {
		if err := h.engine.GuardBakingAuthorized(op(baking.Block, 11, 0), k); !errors.Is(err, ErrKeyMismatch) {
			t.Fatalf("%s: %v", k, err)
		}
	}
	if h.mem.Writes() != 0 {
		t.Fatal("denied request wrote to storage")
	}
}

func TestGuardInvalidLevel(t *testing.T) {
	h := newHarness(t, 10)
	if err := h.engine.GuardBakingAuthorized(op(baking.Block, baking.MaxLevel, 0), h.key); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("got %v", err)
	}
	if !IsValidLevel(baking.MaxLevel-1) || IsValidLevel(baking.MaxLevel) {
		t.Fatal("IsValidLevel boundary")
	}
}

func TestGuardStorageFailure(t *testing.T) {
	h := newHarness(t, 10)
	h.mem.FailNext(errors.New("flash write failed"))

	err := h.engine.GuardBakingAuthorized(op(baking.Attestation, 11, 0), h.key)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if got := h.engine.MainWatermark(); got != watermark.Baseline(10) {
		t.Fatalf("state advanced without commit: %v", got)
	}

	// the same request goes through once storage recovers
	if err := h.engine.GuardBakingAuthorized(op(baking.Attestation, 11, 0), h.key); err != nil {
		t.Fatal(err)
	}
}

func TestWatermarkNeverRegresses(t *testing.T) {
	h := newHarness(t, 1000)
	rng := rand.New(rand.NewPCG(7, 11))
	kinds := []baking.OperationKind{baking.Block, baking.Preattestation, baking.Attestation}

	type pair struct {
		level baking.Level
		round baking.Round
	}
	attested := map[pair]int{}
	prev := h.engine.MainWatermark()

	for range 2000 {
		d := op(kinds[rng.IntN(3)], baking.Level(995+rng.IntN(20)), baking.Round(rng.IntN(4)))
		err := h.engine.GuardBakingAuthorized(d, h.key)
		cur := h.engine.MainWatermark()

		if cur.Level < prev.Level || (cur.Level == prev.Level && cur.Round < prev.Round) {
			t.Fatalf("regressed from %v to %v", prev, cur)
		}
		if err == nil && d.Kind == baking.Attestation {
			attested[pair{d.Level, d.Round}]++
		}
		if err != nil && cur != prev {
			t.Fatalf("denied request changed state: %v", err)
		}
		prev = cur
	}
	for p, n := range attested {
		if n > 1 {
			t.Fatalf("%v attested %d times", p, n)
		}
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t, 10)
	if err := h.engine.GuardBakingAuthorized(op(baking.Attestation, 900, 3), h.key); err != nil {
		t.Fatal(err)
	}

	if err := h.engine.Reset(context.Background(), 200); err != nil {
		t.Fatal(err)
	}
	main, test, _ := h.engine.AllWatermarks()
	if main != watermark.Baseline(200) || test != watermark.Baseline(200) {
		t.Fatalf("main %v test %v", main, test)
	}
	if h.persisted(t).Main != watermark.Baseline(200) {
		t.Fatal("reset not persisted")
	}
	if err := h.engine.GuardBakingAuthorized(op(baking.Block, 199, 0), h.key); !errors.Is(err, ErrExpiredLevel) {
		t.Fatalf("L-1 after reset: %v", err)
	}

	asked := h.prompter.Asked()
	if len(asked) != 1 || asked[0].Fields[0].Value != "200" {
		t.Fatalf("prompts %+v", asked)
	}
}

func TestResetRejectedAndInvalid(t *testing.T) {
	h := newHarness(t, 10)
	h.prompter.Set(ui.Reject)
	if err := h.engine.Reset(context.Background(), 5); !errors.Is(err, ErrUserRejected) {
		t.Fatalf("got %v", err)
	}
	if h.engine.MainWatermark() != watermark.Baseline(10) || h.mem.Writes() != 0 {
		t.Fatal("rejected reset changed state")
	}

	h.prompter.Set(ui.Accept)
	if err := h.engine.Reset(context.Background(), baking.MaxLevel); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("got %v", err)
	}
	if len(h.prompter.Asked()) != 1 {
		t.Fatal("invalid level reached the prompt")
	}

	h.mem.FailNext(errors.New("boom"))
	if err := h.engine.Reset(context.Background(), 5); !errors.Is(err, ErrStorage) {
		t.Fatalf("got %v", err)
	}
	if h.engine.MainWatermark() != watermark.Baseline(10) {
		t.Fatal("failed reset changed state")
	}
}

func freshEngine(t *testing.T, outcome ui.Outcome) (*Engine, *ui.Static) {
	t.Helper()
	store, err := watermark.Open(nvram.NewMemory(nil))
	if err != nil {
		t.Fatal(err)
	}
	p := ui.NewStatic(outcome)
	e := New(store, p,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithFingerprint(func(keychain.Key) (string, error) { return "tz1fingerprint", nil }))
	return e, p
}

func TestAuthorizeBaking(t *testing.T) {
	e, p := freshEngine(t, ui.Accept)
	key := testKey(t, "m/44'/1729'/0'/0'")

	if err := e.AuthorizeBaking(context.Background(), keychain.Key{}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("unset key: %v", err)
	}
	if _, err := e.AuthorizedKeyWithCurve(); !errors.Is(err, ErrNoCurve) {
		t.Fatalf("no key bound: %v", err)
	}

	if err := e.AuthorizeBaking(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	asked := p.Asked()
	if len(asked) != 1 || asked[0].Fields[0].Value != "tz1fingerprint" {
		t.Fatalf("prompt %+v", asked)
	}

	// same key again: no prompt
	if err := e.AuthorizeBaking(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if len(p.Asked()) != 1 {
		t.Fatal("re-authorizing the bound key prompted")
	}

	other := testKey(t, "m/44'/1729'/5'/0'")
	if err := e.AuthorizeBaking(context.Background(), other); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("other key: %v", err)
	}

	got, err := e.AuthorizedKeyWithCurve()
	if err != nil || !got.Equal(key) {
		t.Fatalf("bound key %s, %v", got, err)
	}
	path, err := e.AuthorizedKey()
	if err != nil || !path.Equal(key.Path) {
		t.Fatalf("bound path %s, %v", path, err)
	}
}

func TestAuthorizeBakingRejected(t *testing.T) {
	e, _ := freshEngine(t, ui.Reject)
	if err := e.AuthorizeBaking(context.Background(), testKey(t, "m/44'/1729'/0'/0'")); !errors.Is(err, ErrUserRejected) {
		t.Fatalf("got %v", err)
	}
	if e.State().Key.IsSet() {
		t.Fatal("rejected authorization bound the key")
	}
}

func TestSetupAndDeauthorize(t *testing.T) {
	e, p := freshEngine(t, ui.Accept)
	key := testKey(t, "m/44'/1729'/0'/0'")

	err := e.Setup(context.Background(), SetupParams{Key: key, MainChainID: baking.MainnetChainID, MainLevel: 7000, TestLevel: 3})
	if err != nil {
		t.Fatal(err)
	}
	main, test, id := e.AllWatermarks()
	if main != watermark.Baseline(7000) || test != watermark.Baseline(3) || id != baking.MainnetChainID {
		t.Fatalf("main %v test %v id %#x", main, test, id)
	}
	if !e.State().Key.Equal(key) {
		t.Fatal("setup did not bind the key")
	}

	if err := e.Setup(context.Background(), SetupParams{Key: key, MainLevel: baking.MaxLevel}); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("invalid level: %v", err)
	}

	p.Set(ui.Reject)
	if err := e.Deauthorize(context.Background()); !errors.Is(err, ErrUserRejected) {
		t.Fatalf("rejected deauthorize: %v", err)
	}
	p.Set(ui.Accept)
	if err := e.Deauthorize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.State().Key.IsSet() {
		t.Fatal("key still bound")
	}
	if e.MainWatermark() != watermark.Baseline(7000) {
		t.Fatal("deauthorize touched the watermark")
	}
}
