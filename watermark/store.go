package watermark

import (
	"errors"
	"fmt"

	"github.com/tez-capital/tezbake/baking"
)

var ErrPersist = errors.New("persisting watermark record failed")

// Persister writes the record to non-volatile storage. Persist must be
// atomic: after a failed call the previously persisted record is still the
// one Load returns. Load returns nil, nil when nothing was ever persisted.
type Persister interface {
	Load() ([]byte, error)
	Persist(record []byte) error
}

// Store is the in-memory mirror of the persisted record. It does not check
// monotonicity; callers compute the next state and the store only makes it
// durable.
type Store struct {
	p     Persister
	state State
}

// Open loads the persisted state, or starts from the zero state on a fresh
// device.
func Open(p Persister) (*Store, error) {
	raw, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load watermark record: %w", err)
	}
	s := &Store{p: p}
	if raw == nil {
		return s, nil
	}
	if s.state, err = Decode(raw); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) State() State { return s.state }

func (s *Store) Read(c baking.Chain) HighWaterMark {
	return s.state.Watermark(c)
}

// Commit persists next and, once the persister confirmed, makes it the
// current state. On error the current state is left untouched.
func (s *Store) Commit(next State) error {
	if err := s.p.Persist(Encode(next)); err != nil {
		return errors.Join(ErrPersist, err)
	}
	s.state = next
	return nil
}
