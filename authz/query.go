package authz

import (
	"github.com/tez-capital/tezbake/baking"
	"github.com/tez-capital/tezbake/keychain"
	"github.com/tez-capital/tezbake/watermark"
)

// Read-only views of the committed state.

func (e *Engine) AllWatermarks() (main, test watermark.HighWaterMark, chainID baking.ChainID) {
	st := e.store.State()
	return st.Main, st.Test, st.MainChainID
}

func (e *Engine) MainWatermark() watermark.HighWaterMark {
	return e.store.State().Main
}

// AuthorizedKey returns the bound key's path; it is empty when no key is bound.
func (e *Engine) AuthorizedKey() (keychain.Path, error) {
	p := e.store.State().Key.Path
	if p.Len() > keychain.MaxPathLength {
		return keychain.Path{}, ErrWrongLength
	}
	return p, nil
}

// AuthorizedKeyWithCurve fails with ErrNoCurve when no key is bound.
func (e *Engine) AuthorizedKeyWithCurve() (keychain.Key, error) {
	k := e.store.State().Key
	if !k.IsSet() {
		return keychain.Key{}, ErrNoCurve
	}
	if k.Path.Len() > keychain.MaxPathLength {
		return keychain.Key{}, ErrWrongLength
	}
	return k, nil
}
