package keychain

import "fmt"

// Key identifies a key by derivation type and path. The zero Key is unset.
type Key struct {
	Type DerivationType
	Path Path
}

func (k Key) IsSet() bool { return k.Type != Unset }

func (k Key) Equal(o Key) bool {
	return k.Type == o.Type && k.Path.Equal(o.Path)
}

func (k Key) String() string {
	if !k.IsSet() {
		return "<unset>"
	}
	return fmt.Sprintf("%s:%s", k.Type, k.Path)
}
