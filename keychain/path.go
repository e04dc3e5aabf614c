package keychain

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/tez-capital/tezbake/wire"
)

// MaxPathLength bounds the number of BIP32 components a path may carry.
const MaxPathLength = 10

// Hardened marks a hardened BIP32 index.
const Hardened uint32 = 1 << 31

// Path is a BIP32 derivation path with a fixed capacity. It is a comparable
// value: two paths are equal iff they have the same components.
type Path struct {
	n    uint8
	comp [MaxPathLength]uint32
}

func NewPath(components ...uint32) (Path, error) {
	if len(components) > MaxPathLength {
		return Path{}, fmt.Errorf("%w: %d components", ErrPathTooLong, len(components))
	}
	var p Path
	p.n = uint8(copy(p.comp[:], components))
	return p, nil
}

// ReadPath decodes the wire form: a length byte followed by big-endian u32
// components.
func ReadPath(r *wire.Reader) (Path, error) {
	n, err := r.U8()
	if err != nil {
		return Path{}, err
	}
	if n > MaxPathLength {
		return Path{}, fmt.Errorf("%w: %d components", ErrPathTooLong, n)
	}
	var p Path
	for i := range int(n) {
		if p.comp[i], err = r.U32(); err != nil {
			return Path{}, err
		}
	}
	p.n = n
	return p, nil
}

// ParsePath reads the textual form "m/44'/1729'/0'/0'". Both ' and h mark a
// hardened index; the leading "m" is optional.
func ParsePath(s string) (Path, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "m")
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return Path{}, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) > MaxPathLength {
		return Path{}, fmt.Errorf("%w: %d components", ErrPathTooLong, len(parts))
	}
	comps := make([]uint32, 0, len(parts))
	for _, part := range parts {
		var hardened uint32
		if trimmed, ok := strings.CutSuffix(part, "'"); ok {
			part, hardened = trimmed, Hardened
		} else if trimmed, ok := strings.CutSuffix(part, "h"); ok {
			part, hardened = trimmed, Hardened
		}
		v, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return Path{}, fmt.Errorf("%w: %q", ErrBadPath, part)
		}
		comps = append(comps, uint32(v)|hardened)
	}
	return NewPath(comps...)
}

func (p Path) Len() int { return int(p.n) }

// Components returns a copy of the path components.
func (p Path) Components() []uint32 {
	return append([]uint32(nil), p.comp[:p.n]...)
}

func (p Path) Equal(o Path) bool { return p == o }

// AppendBinary appends the wire form read by ReadPath.
func (p Path) AppendBinary(b []byte) []byte {
	b = append(b, p.n)
	for _, c := range p.comp[:p.n] {
		b = binary.BigEndian.AppendUint32(b, c)
	}
	return b
}

func (p Path) String() string {
	parts := lo.Map(p.Components(), func(c uint32, _ int) string {
		if c&Hardened != 0 {
			return strconv.FormatUint(uint64(c&^Hardened), 10) + "'"
		}
		return strconv.FormatUint(uint64(c), 10)
	})
	return strings.Join(append([]string{"m"}, parts...), "/")
}
