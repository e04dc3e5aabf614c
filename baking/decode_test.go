package baking

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"
)

// Captured from a mainnet baker.
const (
	mainnetBlockHex          = "117a06a77000a06dd417fc89ce97287862c59ff018f096be938c81454efc8bead42633ffff40429a17460000000068ea92180466ae1df25437b553f9d772aade2115aedbcd8720ce06a0975e13bc4ac1f008320000002100000001020000000400a06dd40000000000000004ffffffff00000004000000009a033180f02da06bd0a583fbfde72695562efefba5a9801a1ce2583496a04fb749f0d48f769c5a3453f9d14b5a61b8a9964709ce1c168ddbe61fc10c2bb3c136000000009aadd15cdae80000000a"
	mainnetPreattestationHex = "127a06a77040130177ce031f1a1c769c5437509bdc3bd5dd56e7ec5cf90e2a1c24eebcd02414011200a067be0000000001af791d701cd5526bad82ccb7f540c0591b64ebb48b4bf9e73d50585caf99c6"
	mainnetAttestationHex    = "137a06a77007507e2c5d933e80b0e40637244461d0b383e6689a8cebc7b4b11eaed736b7bb1502a200a063ec00000000aa1524d58f2e298833cec19aaea276ebe43b4fe12a71a256bf663113c34f4509"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	return b
}

func u32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

type blockSpec struct {
	chain       ChainID
	level       Level
	round       Round
	lockedRound bool
	seedNonce   bool
}

func buildBlock(s blockSpec) []byte {
	var b bytes.Buffer
	b.WriteByte(MagicBlock)
	b.Write(u32(uint32(s.chain)))
	b.Write(u32(uint32(s.level)))
	b.WriteByte(1)                 // proto
	b.Write(make([]byte, hashLen)) // predecessor
	b.Write(make([]byte, 8))       // timestamp
	b.WriteByte(4)                 // validation passes
	b.Write(make([]byte, hashLen)) // operations hash

	size := uint32(fitnessSizeNoLockedRound)
	if s.lockedRound {
		size = fitnessSizeLockedRound
	}
	b.Write(u32(size))
	b.Write(u32(1))
	b.WriteByte(tenderbakeFitnessVersion)
	b.Write(u32(4))
	b.Write(u32(uint32(s.level)))
	if s.lockedRound {
		b.Write(u32(4))
		b.Write(u32(0))
	} else {
		b.Write(u32(0))
	}
	b.Write(u32(4))
	b.Write(u32(0xffffffff))
	b.Write(u32(4))
	b.Write(u32(uint32(s.round)))

	b.Write(make([]byte, hashLen)) // context
	b.Write(make([]byte, hashLen)) // payload hash
	b.Write(u32(0))                // payload round
	b.Write(make([]byte, 8))       // pow nonce
	if s.seedNonce {
		b.WriteByte(0xff)
		b.Write(make([]byte, hashLen))
	} else {
		b.WriteByte(0x00)
	}
	b.WriteByte(0x0a) // per block votes
	return b.Bytes()
}

func buildConsensus(magic, tag byte, chain ChainID, level Level, round Round) []byte {
	var b bytes.Buffer
	b.WriteByte(magic)
	b.Write(u32(uint32(chain)))
	b.Write(make([]byte, hashLen)) // branch
	b.WriteByte(tag)
	b.Write([]byte{0x00, 0x07}) // slot
	b.Write(u32(uint32(level)))
	b.Write(u32(uint32(round)))
	b.Write(make([]byte, hashLen))
	return b.Bytes()
}

func TestParseMainnetPayloads(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want ParsedBakingData
	}{
		{"block", mainnetBlockHex, ParsedBakingData{MainnetChainID, Main, Block, 10513876, 0}},
		{"preattestation", mainnetPreattestationHex, ParsedBakingData{MainnetChainID, Main, Preattestation, 0x00a067be, 0}},
		{"attestation", mainnetAttestationHex, ParsedBakingData{MainnetChainID, Main, Attestation, 0x00a063ec, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSignPayload(mustHex(t, tt.hex), MainnetChainID)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseBlockFitnessVariants(t *testing.T) {
	for _, s := range []blockSpec{
		{chain: MainnetChainID, level: 42, round: 3},
		{chain: MainnetChainID, level: 42, round: 7, lockedRound: true},
		{chain: MainnetChainID, level: 42, round: 1, seedNonce: true},
	} {
		raw := buildBlock(s)
		got, err := ParseSignPayload(raw, MainnetChainID)
		if err != nil {
			t.Fatalf("%+v: %v", s, err)
		}
		if got.Level != s.level || got.Round != s.round || got.Kind != Block {
			t.Fatalf("%+v: got %+v", s, got)
		}
	}
}

func TestParseRejectsTrailingBytes(t *testing.T) {
	for name, raw := range map[string][]byte{
		"block":          buildBlock(blockSpec{chain: 1, level: 5}),
		"preattestation": buildConsensus(MagicPreattestation, tagPreattestation, 1, 5, 0),
		"attestation":    buildConsensus(MagicAttestation, tagAttestation, 1, 5, 0),
	} {
		raw = append(raw, 0x00)
		if _, err := ParseSignPayload(raw, 1); !errors.Is(err, ErrParse) {
			t.Errorf("%s: expected ErrParse for trailing byte, got %v", name, err)
		}
	}
}

func TestParseRejectsTruncation(t *testing.T) {
	raw := buildBlock(blockSpec{chain: 1, level: 5})
	for n := 1; n < len(raw); n++ {
		if _, err := ParseSignPayload(raw[:n], 1); !errors.Is(err, ErrParse) {
			t.Fatalf("block truncated at %d: expected ErrParse, got %v", n, err)
		}
	}

	op := buildConsensus(MagicAttestation, tagAttestation, 1, 5, 0)
	for n := 1; n < len(op); n++ {
		if _, err := ParseSignPayload(op[:n], 1); !errors.Is(err, ErrParse) {
			t.Fatalf("attestation truncated at %d: expected ErrParse, got %v", n, err)
		}
	}
}

func TestParseConsensusTagMismatch(t *testing.T) {
	tests := []struct {
		name  string
		magic byte
		tag   byte
	}{
		{"attestation tag under preattestation magic", MagicPreattestation, tagAttestation},
		{"preattestation tag under attestation magic", MagicAttestation, tagPreattestation},
		{"dal tag under preattestation magic", MagicPreattestation, tagAttestationWithDAL},
		{"unknown tag", MagicAttestation, 0x6b},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := buildConsensus(tt.magic, tt.tag, 1, 5, 0)
			_, err := ParseSignPayload(raw, 1)
			if !errors.Is(err, ErrParse) || !errors.Is(err, ErrUnexpectedTag) {
				t.Fatalf("expected ErrUnexpectedTag, got %v", err)
			}
		})
	}
}

func TestParseAttestationWithDAL(t *testing.T) {
	raw := buildConsensus(MagicAttestation, tagAttestationWithDAL, 1, 9, 2)
	raw = append(raw, 0x83, 0x01)

	got, err := ParseSignPayload(raw, 1)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Kind != Attestation || got.Level != 9 || got.Round != 2 {
		t.Fatalf("got %+v", got)
	}

	// an unterminated Z is a truncation
	bad := append(buildConsensus(MagicAttestation, tagAttestationWithDAL, 1, 9, 2), 0x83)
	if _, err := ParseSignPayload(bad, 1); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestParseInvalidLevel(t *testing.T) {
	for _, raw := range [][]byte{
		buildBlock(blockSpec{chain: 1, level: MaxLevel}),
		buildConsensus(MagicPreattestation, tagPreattestation, 1, MaxLevel, 0),
		buildConsensus(MagicAttestation, tagAttestation, 1, 0xffffffff, 0),
	} {
		_, err := ParseSignPayload(raw, 1)
		if !errors.Is(err, ErrParse) || !errors.Is(err, ErrInvalidLevel) {
			t.Fatalf("expected ErrInvalidLevel, got %v", err)
		}
	}

	got, err := ParseSignPayload(buildConsensus(MagicAttestation, tagAttestation, 1, MaxLevel-1, 0), 1)
	if err != nil || got.Level != MaxLevel-1 {
		t.Fatalf("level below sentinel: %+v, %v", got, err)
	}
}

func TestParseBadFitness(t *testing.T) {
	raw := buildBlock(blockSpec{chain: 1, level: 5})
	// fitness size sits right after the fixed header
	off := 1 + 4 + 4 + 1 + hashLen + 8 + 1 + hashLen

	badSize := bytes.Clone(raw)
	binary.BigEndian.PutUint32(badSize[off:], 34)
	if _, err := ParseSignPayload(badSize, 1); !errors.Is(err, ErrBadFitness) {
		t.Fatalf("size 34: expected ErrBadFitness, got %v", err)
	}

	badVersion := bytes.Clone(raw)
	badVersion[off+4+4] = 1
	if _, err := ParseSignPayload(badVersion, 1); !errors.Is(err, ErrBadFitness) {
		t.Fatalf("version 1: expected ErrBadFitness, got %v", err)
	}

	// declares 37 bytes but carries the 33 byte shape
	mismatch := bytes.Clone(raw)
	binary.BigEndian.PutUint32(mismatch[off:], fitnessSizeLockedRound)
	if _, err := ParseSignPayload(mismatch, 1); !errors.Is(err, ErrBadFitness) {
		t.Fatalf("size mismatch: expected ErrBadFitness, got %v", err)
	}
}

func TestParseSeedNonceOptionTag(t *testing.T) {
	raw := buildBlock(blockSpec{chain: 1, level: 5})
	raw[len(raw)-2] = 0x01
	if _, err := ParseSignPayload(raw, 1); !errors.Is(err, ErrBadOptionTag) {
		t.Fatalf("expected ErrBadOptionTag, got %v", err)
	}
}

func TestParseUnsupportedMagic(t *testing.T) {
	for _, raw := range [][]byte{
		nil,
		{MagicManagerOperation, 0x00},
		{0x05, 0x01},
	} {
		if _, err := ParseSignPayload(raw, 1); !errors.Is(err, ErrParse) {
			t.Fatalf("%x: expected ErrParse, got %v", raw, err)
		}
	}
	if _, err := ParseSignPayload([]byte{MagicManagerOperation}, 1); !errors.Is(err, ErrUnsupportedMagic) {
		t.Fatalf("expected ErrUnsupportedMagic, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		id, main ChainID
		want     Chain
	}{
		{MainnetChainID, MainnetChainID, Main},
		{0x11223344, MainnetChainID, Test},
		{0x11223344, 0, Main},
	}
	for _, tt := range tests {
		if got := Classify(tt.id, tt.main); got != tt.want {
			t.Errorf("Classify(%#x, %#x) = %v, want %v", tt.id, tt.main, got, tt.want)
		}
	}

	raw := buildConsensus(MagicPreattestation, tagPreattestation, 0x11223344, 5, 0)
	got, err := ParseSignPayload(raw, MainnetChainID)
	if err != nil || got.Chain != Test || got.ChainID != 0x11223344 {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestIsValidLevel(t *testing.T) {
	if IsValidLevel(MaxLevel) || IsValidLevel(MaxLevel+1) {
		t.Fatal("sentinel and above must be invalid")
	}
	if !IsValidLevel(MaxLevel-1) || !IsValidLevel(0) {
		t.Fatal("levels below sentinel must be valid")
	}
}
