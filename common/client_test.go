package common

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tez-capital/tezbake/apdu"
	"github.com/tez-capital/tezbake/authz"
	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/broker"
	"github.com/tez-capital/tezbake/device"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/nvram"
	"github.com/tez-capital/tezbake/signer"
	"github.com/tez-capital/tezbake/transport"
	"github.com/tez-capital/tezbake/ui"
	"github.com/tez-capital/tezbake/watermark"
)

// newLink runs a fresh device behind a broker pair over an os.Pipe link.
func newLink(t *testing.T) (*Client, *ui.Static) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := watermark.Open(nvram.NewMemory(nil))
	if err != nil {
		t.Fatal(err)
	}
	keys, err := keychain.NewKeyring(bytes.Repeat([]byte{1}, 32), nil)
	if err != nil {
		t.Fatal(err)
	}
	prompter := ui.NewStatic(ui.Accept)
	dev := device.New(authz.New(store, prompter, authz.WithLogger(logger)), keys, prompter,
		device.WithLogger(logger), device.WithBuildInfo(device.Version{Major: 0, Minor: 3, Patch: 1}, "deadbeef"))

	hostEnd, devEnd, err := transport.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	devBroker := broker.New(devEnd, devEnd, broker.WithHandler(dev.Handle), broker.WithLogger(logger))
	hostBroker := broker.New(hostEnd, hostEnd, broker.WithLogger(logger))
	t.Cleanup(func() {
		hostBroker.Stop()
		devBroker.Stop()
		_ = hostEnd.Close()
		_ = devEnd.Close()
	})
	return NewClient(hostBroker, 2*time.Second), prompter
}

func attestation(chain baking.ChainID, level baking.Level, round baking.Round) []byte {
	b := []byte{baking.MagicAttestation}
	b = binary.BigEndian.AppendUint32(b, uint32(chain))
	b = append(b, make([]byte, 32)...)
	b = append(b, 21, 0, 0)
	b = binary.BigEndian.AppendUint32(b, uint32(level))
	b = binary.BigEndian.AppendUint32(b, uint32(round))
	return append(b, make([]byte, 32)...)
}

func TestClientEndToEnd(t *testing.T) {
	c, _ := newLink(t)
	ctx := context.Background()

	v, err := c.Version(ctx)
	if err != nil || v.String() != "0.3.1" {
		t.Fatalf("version %v, %v", v, err)
	}
	if commit, err := c.GitCommit(ctx); err != nil || commit != "deadbeef" {
		t.Fatalf("commit %q, %v", commit, err)
	}

	if _, err := c.AuthorizedKey(ctx); !errors.Is(err, ErrNoAuthorizedKey) {
		t.Fatalf("expected ErrNoAuthorizedKey, got %v", err)
	}

	path, _ := keychain.ParsePath("m/44'/1729'/0'/0'")
	key := keychain.Key{Type: keychain.BLS12381, Path: path}
	pub, err := c.Setup(ctx, key, baking.MainnetChainID, 1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pub) != 48 {
		t.Fatalf("bls public key is %d bytes", len(pub))
	}

	got, err := c.AuthorizedKey(ctx)
	if err != nil || !got.Equal(key) {
		t.Fatalf("authorized key %s, %v", got, err)
	}
	gotPath, err := c.AuthorizedPath(ctx)
	if err != nil || !gotPath.Equal(path) {
		t.Fatalf("authorized path %s, %v", gotPath, err)
	}

	payload := attestation(baking.MainnetChainID, 1001, 0)
	hash, sig, err := c.SignWithHash(ctx, key, payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(hash, signer.Digest(payload)) {
		t.Fatal("hash mismatch")
	}
	if !signer.Verify(signer.BLS12381, pub, sig, payload) {
		t.Fatal("signature does not verify")
	}

	// replaying the attestation is refused with a status word
	_, err = c.Sign(ctx, key, payload)
	if code, ok := StatusOf(err); !ok || code != apdu.StatusWrongValues {
		t.Fatalf("replay: %v", err)
	}

	hwm, err := c.AllWatermarks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if hwm.Main != (Watermark{1001, 0}) || hwm.Test != (Watermark{0, 0}) || hwm.ChainID != baking.MainnetChainID {
		t.Fatalf("watermarks %+v", hwm)
	}

	if err := c.Reset(ctx, 5); err != nil {
		t.Fatal(err)
	}
	main, err := c.MainWatermark(ctx)
	if err != nil || main != (Watermark{5, 0}) {
		t.Fatalf("main %+v, %v", main, err)
	}

	if err := c.Deauthorize(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Sign(ctx, key, attestation(baking.MainnetChainID, 6, 0)); !errors.Is(err, &RemoteError{Code: apdu.StatusSecurity}) {
		t.Fatalf("sign after deauthorize: %v", err)
	}
}

func TestClientRejectedPrompt(t *testing.T) {
	c, prompter := newLink(t)
	prompter.Set(ui.Reject)

	path, _ := keychain.ParsePath("m/44'/1729'/0'/0'")
	_, err := c.Authorize(context.Background(), keychain.Key{Type: keychain.Ed25519, Path: path})
	if code, ok := StatusOf(err); !ok || code != apdu.StatusReject {
		t.Fatalf("expected reject, got %v", err)
	}
}

type stubRequester struct {
	resp []byte
	err  error
}

func (s stubRequester) Request(ctx context.Context, payload []byte) ([]byte, [16]byte, error) {
	return s.resp, [16]byte{}, s.err
}

func TestClientBadResponses(t *testing.T) {
	ctx := context.Background()

	c := NewClient(stubRequester{resp: []byte{0x90}}, 0)
	if _, err := c.Version(ctx); !errors.Is(err, ErrBadResponse) {
		t.Fatalf("short response: %v", err)
	}

	c = NewClient(stubRequester{resp: apdu.Respond([]byte{7, 1, 0, 0}, apdu.StatusOk)}, 0)
	if _, err := c.Version(ctx); !errors.Is(err, ErrNotBaking) {
		t.Fatalf("wrong class: %v", err)
	}

	c = NewClient(stubRequester{resp: apdu.Respond([]byte{1, 2, 3}, apdu.StatusOk)}, 0)
	if _, err := c.AllWatermarks(ctx); !errors.Is(err, ErrBadResponse) {
		t.Fatalf("short watermarks: %v", err)
	}

	c = NewClient(stubRequester{err: io.EOF}, 0)
	if _, err := c.MainWatermark(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("link error: %v", err)
	}
}

// slowRequester answers ok after delay, like a device waiting on its operator.
type slowRequester struct {
	delay time.Duration
}

func (s slowRequester) Request(ctx context.Context, payload []byte) ([]byte, [16]byte, error) {
	select {
	case <-time.After(s.delay):
		return apdu.Respond(nil, apdu.StatusOk), [16]byte{}, nil
	case <-ctx.Done():
		return nil, [16]byte{}, ctx.Err()
	}
}

func TestClientOutwaitsOperator(t *testing.T) {
	ctx := context.Background()
	c := NewClient(slowRequester{delay: 100 * time.Millisecond}, 20*time.Millisecond, WithPromptTimeout(2*time.Second))

	if err := c.Reset(ctx, 10); err != nil {
		t.Fatalf("reset confirmed after the plain timeout reported as failed: %v", err)
	}
	if err := c.Deauthorize(ctx); err != nil {
		t.Fatalf("deauthorize: %v", err)
	}
	if _, err := c.MainWatermark(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("query kept the prompt budget: %v", err)
	}
}

func TestClientPromptTimeoutNeverShorter(t *testing.T) {
	c := NewClient(slowRequester{}, time.Minute, WithPromptTimeout(time.Second))
	if got := c.deadline(apdu.InsReset); got != time.Minute {
		t.Fatalf("reset deadline %v", got)
	}
	if got := NewClient(slowRequester{}, 0).deadline(apdu.InsSetup); got != DefaultPromptTimeout {
		t.Fatalf("setup deadline %v", got)
	}
}
