package kvengine

import (
	"fmt"

	"github.com/camforge/rowkv/pkg/rowconfig"
)

// ctors mirrors pkg/sorted's package-level constructor map, keyed by the
// same "type" string jsonconfig-style backend configuration blocks use.
var ctors = make(map[string]func(rowconfig.Obj) (Backend, error))

// Register adds a named Backend constructor. Concrete backend packages
// (memkv, leveldbkv, sqlkv, kvfilekv, mongokv) call this from an init
// func, so importing a backend package for its side effect is what makes
// its "type" string available to Open.
func Register(typ string, fn func(rowconfig.Obj) (Backend, error)) {
	if typ == "" || fn == nil {
		panic("kvengine: zero type or nil constructor")
	}
	if _, dup := ctors[typ]; dup {
		panic("kvengine: duplicate registration of type " + typ)
	}
	ctors[typ] = fn
}

// Open builds the Backend named by cfg's "type" field.
func Open(cfg rowconfig.Obj) (Backend, error) {
	typ := cfg.RequiredString("type")
	ctor, ok := ctors[typ]
	if !ok {
		return nil, fmt.Errorf("kvengine: unknown backend type %q", typ)
	}
	b, err := ctor(cfg)
	if err != nil {
		return nil, err
	}
	return b, cfg.Validate()
}
