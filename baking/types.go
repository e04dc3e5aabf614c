package baking

import "fmt"

type (
	Level   uint32
	Round   uint32
	ChainID uint32
)

// MaxLevel is the first level the device refuses to handle. Levels are
// int32 on the protocol side and the top two bits are kept clear.
const MaxLevel Level = 1 << 30

// MainnetChainID is NetXdQprcVkpaWU.
const MainnetChainID ChainID = 0x7A06A770

func IsValidLevel(l Level) bool {
	return l < MaxLevel
}

// Chain selects which watermark an operation is checked against.
type Chain uint8

const (
	Main Chain = iota
	Test
)

func (c Chain) String() string {
	switch c {
	case Main:
		return "main"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("chain(%d)", uint8(c))
	}
}

// Classify returns Main when id is the configured main chain, or when no main
// chain has been configured yet.
func Classify(id, main ChainID) Chain {
	if main == 0 || id == main {
		return Main
	}
	return Test
}

type OperationKind uint8

const (
	Block OperationKind = iota
	Preattestation
	Attestation
)

func (k OperationKind) String() string {
	switch k {
	case Block:
		return "block"
	case Preattestation:
		return "preattestation"
	case Attestation:
		return "attestation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParsedBakingData is the minimal view of a block or consensus operation the
// authorization engine needs. It is never persisted.
type ParsedBakingData struct {
	ChainID ChainID
	Chain   Chain
	Kind    OperationKind
	Level   Level
	Round   Round
}
