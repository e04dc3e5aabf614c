// Package common holds the host side of the device protocol.
package common

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tez-capital/tezbake/apdu"
	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/wire"
)

// Requester sends one raw request and waits for its response. *broker.Broker
// implements it.
type Requester interface {
	Request(ctx context.Context, payload []byte) ([]byte, [16]byte, error)
}

type Client struct {
	r             Requester
	timeout       time.Duration
	promptTimeout time.Duration
}

type ClientOption func(*Client)

// WithPromptTimeout bounds the instructions the operator confirms on the
// device. It must outlast the device's own request timeout, otherwise a late
// approval is applied on the device and reported as a failure here.
func WithPromptTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.promptTimeout = d
		}
	}
}

func NewClient(r Requester, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Client{r: r, timeout: timeout, promptTimeout: DefaultPromptTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// interactive instructions wait for the operator on the device.
var interactive = map[uint8]bool{
	apdu.InsAuthorizeBaking: true,
	apdu.InsPromptPublicKey: true,
	apdu.InsSetup:           true,
	apdu.InsReset:           true,
	apdu.InsDeauthorize:     true,
}

func (c *Client) deadline(ins uint8) time.Duration {
	if interactive[ins] {
		return max(c.timeout, c.promptTimeout)
	}
	return c.timeout
}

// Exchange sends cmd and returns the response data. A non-ok status word is
// returned as *RemoteError.
func (c *Client) Exchange(ctx context.Context, cmd apdu.Command) ([]byte, error) {
	raw, err := cmd.MarshalBinary()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.deadline(cmd.INS))
	defer cancel()

	resp, _, err := c.r.Request(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("ins 0x%02x: %w", cmd.INS, err)
	}
	data, sw, err := apdu.ParseResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if sw != apdu.StatusOk {
		return nil, &RemoteError{Code: sw, Msg: fmt.Sprintf("ins 0x%02x", cmd.INS)}
	}
	return data, nil
}

func keyCommand(ins uint8, key keychain.Key, prefix []byte) (apdu.Command, error) {
	code, err := key.Type.CurveCode()
	if err != nil {
		return apdu.Command{}, err
	}
	return apdu.Command{INS: ins, P2: code, Data: key.Path.AppendBinary(prefix)}, nil
}

type DeviceVersion struct {
	Class               uint8
	Major, Minor, Patch uint8
}

func (v DeviceVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (c *Client) Version(ctx context.Context) (DeviceVersion, error) {
	data, err := c.Exchange(ctx, apdu.Command{INS: apdu.InsVersion})
	if err != nil {
		return DeviceVersion{}, err
	}
	if len(data) != 4 {
		return DeviceVersion{}, fmt.Errorf("%w: version is %d bytes", ErrBadResponse, len(data))
	}
	v := DeviceVersion{data[0], data[1], data[2], data[3]}
	if v.Class != appClassBaking {
		return v, ErrNotBaking
	}
	return v, nil
}

func (c *Client) GitCommit(ctx context.Context) (string, error) {
	data, err := c.Exchange(ctx, apdu.Command{INS: apdu.InsGitCommit})
	if err != nil {
		return "", err
	}
	if n := len(data); n > 0 && data[n-1] == 0 {
		data = data[:n-1]
	}
	return string(data), nil
}

func readPublicKey(data []byte) ([]byte, error) {
	r := wire.NewReader(data)
	n, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	pub, err := r.Bytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return pub, nil
}

func (c *Client) keyExchange(ctx context.Context, ins uint8, key keychain.Key, prefix []byte) ([]byte, error) {
	cmd, err := keyCommand(ins, key, prefix)
	if err != nil {
		return nil, err
	}
	data, err := c.Exchange(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return readPublicKey(data)
}

func (c *Client) PublicKey(ctx context.Context, key keychain.Key) ([]byte, error) {
	return c.keyExchange(ctx, apdu.InsGetPublicKey, key, nil)
}

// PromptPublicKey asks the operator to confirm before the key is returned.
func (c *Client) PromptPublicKey(ctx context.Context, key keychain.Key) ([]byte, error) {
	return c.keyExchange(ctx, apdu.InsPromptPublicKey, key, nil)
}

// Authorize binds key for baking and returns its public key.
func (c *Client) Authorize(ctx context.Context, key keychain.Key) ([]byte, error) {
	return c.keyExchange(ctx, apdu.InsAuthorizeBaking, key, nil)
}

// Setup provisions key, chain and both watermarks in one approval.
func (c *Client) Setup(ctx context.Context, key keychain.Key, chainID baking.ChainID, mainLevel, testLevel baking.Level) ([]byte, error) {
	prefix := binary.BigEndian.AppendUint32(nil, uint32(chainID))
	prefix = binary.BigEndian.AppendUint32(prefix, uint32(mainLevel))
	prefix = binary.BigEndian.AppendUint32(prefix, uint32(testLevel))
	return c.keyExchange(ctx, apdu.InsSetup, key, prefix)
}

func (c *Client) Reset(ctx context.Context, level baking.Level) error {
	_, err := c.Exchange(ctx, apdu.Command{INS: apdu.InsReset, Data: binary.BigEndian.AppendUint32(nil, uint32(level))})
	return err
}

func (c *Client) Deauthorize(ctx context.Context) error {
	_, err := c.Exchange(ctx, apdu.Command{INS: apdu.InsDeauthorize})
	return err
}

func (c *Client) sign(ctx context.Context, ins uint8, key keychain.Key, payload []byte) ([]byte, error) {
	if len(payload) > apdu.MaxData {
		return nil, apdu.ErrDataTooLong
	}
	cmd, err := keyCommand(ins, key, nil)
	if err != nil {
		return nil, err
	}
	cmd.P1 = apdu.P1First
	if _, err := c.Exchange(ctx, cmd); err != nil {
		return nil, err
	}
	return c.Exchange(ctx, apdu.Command{INS: ins, P1: apdu.P1Next | apdu.P1Last, Data: payload})
}

// Sign returns the signature over a watermarked baking payload.
func (c *Client) Sign(ctx context.Context, key keychain.Key, payload []byte) ([]byte, error) {
	return c.sign(ctx, apdu.InsSign, key, payload)
}

// SignWithHash also returns the blake2b hash the device computed.
func (c *Client) SignWithHash(ctx context.Context, key keychain.Key, payload []byte) (hash, sig []byte, err error) {
	data, err := c.sign(ctx, apdu.InsSignWithHash, key, payload)
	if err != nil {
		return nil, nil, err
	}
	if len(data) <= 32 {
		return nil, nil, fmt.Errorf("%w: sign with hash is %d bytes", ErrBadResponse, len(data))
	}
	return data[:32], data[32:], nil
}

type Watermark struct {
	Level baking.Level
	Round baking.Round
}

type Watermarks struct {
	Main, Test Watermark
	ChainID    baking.ChainID
}

func (c *Client) AllWatermarks(ctx context.Context) (Watermarks, error) {
	data, err := c.Exchange(ctx, apdu.Command{INS: apdu.InsQueryAllHWM})
	if err != nil {
		return Watermarks{}, err
	}
	r := wire.NewReader(data)
	var v [5]uint32
	for i := range v {
		if v[i], err = r.U32(); err != nil {
			return Watermarks{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
		}
	}
	if err := r.Finish(); err != nil {
		return Watermarks{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return Watermarks{
		Main:    Watermark{baking.Level(v[0]), baking.Round(v[1])},
		Test:    Watermark{baking.Level(v[2]), baking.Round(v[3])},
		ChainID: baking.ChainID(v[4]),
	}, nil
}

func (c *Client) MainWatermark(ctx context.Context) (Watermark, error) {
	data, err := c.Exchange(ctx, apdu.Command{INS: apdu.InsQueryMainHWM})
	if err != nil {
		return Watermark{}, err
	}
	if len(data) != 8 {
		return Watermark{}, fmt.Errorf("%w: main watermark is %d bytes", ErrBadResponse, len(data))
	}
	return Watermark{
		Level: baking.Level(binary.BigEndian.Uint32(data)),
		Round: baking.Round(binary.BigEndian.Uint32(data[4:])),
	}, nil
}

// AuthorizedPath returns the bound key's path. It is empty when no key is
// bound.
func (c *Client) AuthorizedPath(ctx context.Context) (keychain.Path, error) {
	data, err := c.Exchange(ctx, apdu.Command{INS: apdu.InsQueryAuthKey})
	if err != nil {
		return keychain.Path{}, err
	}
	r := wire.NewReader(data)
	p, err := keychain.ReadPath(r)
	if err == nil {
		err = r.Finish()
	}
	if err != nil {
		return keychain.Path{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return p, nil
}

// AuthorizedKey returns the bound key, or ErrNoAuthorizedKey.
func (c *Client) AuthorizedKey(ctx context.Context) (keychain.Key, error) {
	data, err := c.Exchange(ctx, apdu.Command{INS: apdu.InsQueryAuthKeyWithCurve})
	if code, ok := StatusOf(err); ok && code == apdu.StatusRefDataNotFound {
		return keychain.Key{}, ErrNoAuthorizedKey
	}
	if err != nil {
		return keychain.Key{}, err
	}

	r := wire.NewReader(data)
	code, err := r.U8()
	if err != nil {
		return keychain.Key{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	typ, err := keychain.ParseCurveCode(code)
	if err != nil {
		return keychain.Key{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	p, err := keychain.ReadPath(r)
	if err == nil {
		err = r.Finish()
	}
	if err != nil {
		return keychain.Key{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return keychain.Key{Type: typ, Path: p}, nil
}
