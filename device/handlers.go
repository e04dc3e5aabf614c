package device

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/tez-capital/tezbake/apdu"
	"github.com/tez-capital/tezbake/authz"
	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/signer"
	"github.com/tez-capital/tezbake/ui"
	"github.com/tez-capital/tezbake/wire"
)

// readKey reads a BIP32 path for the curve in p2 and requires it to fill the
// rest of the command.
func readKey(r *wire.Reader, p2 uint8) (keychain.Key, error) {
	typ, err := keychain.ParseCurveCode(p2)
	if err != nil {
		return keychain.Key{}, err
	}
	path, err := keychain.ReadPath(r)
	if err != nil {
		return keychain.Key{}, &apdu.StatusError{Status: apdu.StatusWrongValues, Err: err}
	}
	if err := r.Finish(); err != nil {
		return keychain.Key{}, &apdu.StatusError{Status: apdu.StatusWrongLength, Err: err}
	}
	return keychain.Key{Type: typ, Path: path}, nil
}

func requireEmpty(cmd apdu.Command) error {
	if len(cmd.Data) != 0 {
		return apdu.Errorf(apdu.StatusWrongLength, "unexpected %d data bytes", len(cmd.Data))
	}
	return nil
}

func (d *Device) version(_ context.Context, cmd apdu.Command) ([]byte, error) {
	if err := requireEmpty(cmd); err != nil {
		return nil, err
	}
	return []byte{appClassBaking, d.release.Major, d.release.Minor, d.release.Patch}, nil
}

func (d *Device) gitCommit(_ context.Context, cmd apdu.Command) ([]byte, error) {
	if err := requireEmpty(cmd); err != nil {
		return nil, err
	}
	return append([]byte(d.commit), 0), nil
}

// publicKeyResponse is len u8 || raw public key.
func (d *Device) publicKeyResponse(key keychain.Key) ([]byte, error) {
	pub, err := d.keys.PublicKey(key)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(len(pub))}, pub...), nil
}

func (d *Device) getPublicKey(_ context.Context, cmd apdu.Command) ([]byte, error) {
	key, err := readKey(wire.NewReader(cmd.Data), cmd.P2)
	if err != nil {
		return nil, err
	}
	return d.publicKeyResponse(key)
}

func (d *Device) promptPublicKey(ctx context.Context, cmd apdu.Command) ([]byte, error) {
	key, err := readKey(wire.NewReader(cmd.Data), cmd.P2)
	if err != nil {
		return nil, err
	}
	resp, err := d.publicKeyResponse(key)
	if err != nil {
		return nil, err
	}

	outcome, err := d.prompter.Prompt(ctx, ui.Prompt{
		Title: "Provide public key",
		Fields: []ui.Field{
			{Label: "Curve", Value: key.Type.String()},
			{Label: "Path", Value: key.Path.String()},
		},
	})
	if err != nil || outcome != ui.Accept {
		return nil, apdu.Errorf(apdu.StatusReject, "public key not confirmed: %v", err)
	}
	return resp, nil
}

func (d *Device) authorize(ctx context.Context, cmd apdu.Command) ([]byte, error) {
	key, err := readKey(wire.NewReader(cmd.Data), cmd.P2)
	if err != nil {
		return nil, err
	}
	// derive first so an unusable key is never bound
	resp, err := d.publicKeyResponse(key)
	if err != nil {
		return nil, err
	}
	if err := d.engine.AuthorizeBaking(ctx, key); err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Device) reset(ctx context.Context, cmd apdu.Command) ([]byte, error) {
	r := wire.NewReader(cmd.Data)
	level, err := r.U32()
	if err != nil {
		return nil, &apdu.StatusError{Status: apdu.StatusWrongValues, Err: err}
	}
	if err := r.Finish(); err != nil {
		return nil, &apdu.StatusError{Status: apdu.StatusWrongLength, Err: err}
	}
	return nil, d.engine.Reset(ctx, baking.Level(level))
}

// setup data: chain id u32 | main level u32 | test level u32 | path.
func (d *Device) setup(ctx context.Context, cmd apdu.Command) ([]byte, error) {
	r := wire.NewReader(cmd.Data)
	var fields [3]uint32
	for i := range fields {
		v, err := r.U32()
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	key, err := readKey(r, cmd.P2)
	if err != nil {
		return nil, err
	}
	resp, err := d.publicKeyResponse(key)
	if err != nil {
		return nil, err
	}

	err = d.engine.Setup(ctx, authz.SetupParams{
		Key:         key,
		MainChainID: baking.ChainID(fields[0]),
		MainLevel:   baking.Level(fields[1]),
		TestLevel:   baking.Level(fields[2]),
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Device) deauthorize(ctx context.Context, cmd apdu.Command) ([]byte, error) {
	if err := requireEmpty(cmd); err != nil {
		return nil, err
	}
	return nil, d.engine.Deauthorize(ctx)
}

func (d *Device) queryAllHWM(_ context.Context, cmd apdu.Command) ([]byte, error) {
	if err := requireEmpty(cmd); err != nil {
		return nil, err
	}
	main, test, chainID := d.engine.AllWatermarks()
	out := make([]byte, 0, 20)
	out = binary.BigEndian.AppendUint32(out, uint32(main.Level))
	out = binary.BigEndian.AppendUint32(out, uint32(main.Round))
	out = binary.BigEndian.AppendUint32(out, uint32(test.Level))
	out = binary.BigEndian.AppendUint32(out, uint32(test.Round))
	return binary.BigEndian.AppendUint32(out, uint32(chainID)), nil
}

func (d *Device) queryMainHWM(_ context.Context, cmd apdu.Command) ([]byte, error) {
	if err := requireEmpty(cmd); err != nil {
		return nil, err
	}
	main := d.engine.MainWatermark()
	out := binary.BigEndian.AppendUint32(make([]byte, 0, 8), uint32(main.Level))
	return binary.BigEndian.AppendUint32(out, uint32(main.Round)), nil
}

func (d *Device) queryAuthKey(_ context.Context, cmd apdu.Command) ([]byte, error) {
	if err := requireEmpty(cmd); err != nil {
		return nil, err
	}
	path, err := d.engine.AuthorizedKey()
	if err != nil {
		return nil, err
	}
	return path.AppendBinary(nil), nil
}

func (d *Device) queryAuthKeyWithCurve(_ context.Context, cmd apdu.Command) ([]byte, error) {
	if err := requireEmpty(cmd); err != nil {
		return nil, err
	}
	key, err := d.engine.AuthorizedKeyWithCurve()
	if err != nil {
		return nil, err
	}
	code, err := key.Type.CurveCode()
	if err != nil {
		return nil, err
	}
	return key.Path.AppendBinary([]byte{code}), nil
}

// sign runs the two-packet sign exchange: P1First selects the key, then a
// single P1Next|P1Last packet carries the payload.
func (d *Device) sign(_ context.Context, cmd apdu.Command) ([]byte, error) {
	switch cmd.P1 {
	case apdu.P1First:
		d.session.clear()
		key, err := readKey(wire.NewReader(cmd.Data), cmd.P2)
		if err != nil {
			return nil, err
		}
		d.session.key = key
		return nil, nil

	case apdu.P1Next | apdu.P1Last:
		key := d.session.key
		d.session.clear()
		if !key.IsSet() {
			return nil, apdu.Errorf(apdu.StatusWrongLengthForIns, "no key selected")
		}
		return d.signPayload(key, cmd.Data, cmd.INS == apdu.InsSignWithHash)

	default:
		d.session.clear()
		return nil, apdu.Errorf(apdu.StatusParseError, "unsupported packet sequence p1=0x%02x", cmd.P1)
	}
}

func (d *Device) signPayload(key keychain.Key, payload []byte, withHash bool) ([]byte, error) {
	data, err := baking.ParseSignPayload(payload, d.engine.State().MainChainID)
	if err != nil {
		d.monitor.RecordDenial()
		d.log.Warn("sign refused: unparseable payload", slog.Any("err", err))
		return nil, err
	}
	if err := d.engine.GuardBakingAuthorized(data, key); err != nil {
		d.monitor.RecordDenial()
		return nil, err
	}

	sig, err := d.keys.Sign(key, payload)
	if err != nil {
		d.log.Error("signing failed after watermark commit", slog.String("key", key.String()), slog.Any("err", err))
		return nil, &apdu.StatusError{Status: apdu.StatusUnknown, Err: err}
	}
	d.monitor.RecordSignature()

	if !withHash {
		return sig, nil
	}
	out := make([]byte, 0, 32+len(sig))
	out = append(out, signer.Digest(payload)...)
	return append(out, sig...), nil
}

// signSession holds the key selected by the first sign packet.
type signSession struct {
	key keychain.Key
}

func (s *signSession) clear() { *s = signSession{} }
