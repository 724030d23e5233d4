// Package rowconfig provides a typed accessor over a JSON configuration
// object, the same validate-as-you-read idiom as the teacher's jsonconfig
// package: each Required/Optional accessor records which keys a caller
// examined, so Validate can flag both missing keys and ones nobody asked
// about (a typo in a backend config block surfaces immediately instead of
// silently doing nothing).
package rowconfig

import (
	"fmt"
	"strings"
)

// Obj is a JSON configuration object, typically one kvengine backend's
// configuration block.
type Obj map[string]interface{}

func (o Obj) RequiredObject(key string) Obj { return o.obj(key, false) }
func (o Obj) OptionalObject(key string) Obj { return o.obj(key, true) }

func (o Obj) obj(key string, optional bool) Obj {
	o.noteKnownKey(key)
	ei, ok := o[key]
	if !ok {
		if optional {
			return make(Obj)
		}
		o.appendError(fmt.Errorf("missing required config key %q (object)", key))
		return make(Obj)
	}
	m, ok := ei.(map[string]interface{})
	if !ok {
		o.appendError(fmt.Errorf("expected config key %q to be an object, not %T", key, ei))
		return make(Obj)
	}
	return Obj(m)
}

func (o Obj) RequiredString(key string) string       { return o.string(key, nil) }
func (o Obj) OptionalString(key, def string) string { return o.string(key, &def) }

func (o Obj) string(key string, def *string) string {
	o.noteKnownKey(key)
	ei, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("missing required config key %q (string)", key))
		return ""
	}
	s, ok := ei.(string)
	if !ok {
		o.appendError(fmt.Errorf("expected config key %q to be a string", key))
		return ""
	}
	return s
}

func (o Obj) RequiredBool(key string) bool          { return o.bool(key, nil) }
func (o Obj) OptionalBool(key string, def bool) bool { return o.bool(key, &def) }

func (o Obj) bool(key string, def *bool) bool {
	o.noteKnownKey(key)
	ei, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("missing required config key %q (boolean)", key))
		return false
	}
	b, ok := ei.(bool)
	if !ok {
		o.appendError(fmt.Errorf("expected config key %q to be a boolean", key))
		return false
	}
	return b
}

func (o Obj) RequiredInt(key string) int         { return o.int(key, nil) }
func (o Obj) OptionalInt(key string, def int) int { return o.int(key, &def) }

func (o Obj) int(key string, def *int) int {
	o.noteKnownKey(key)
	ei, ok := o[key]
	if !ok {
		if def != nil {
			return *def
		}
		o.appendError(fmt.Errorf("missing required config key %q (integer)", key))
		return 0
	}
	switch v := ei.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		o.appendError(fmt.Errorf("expected config key %q to be a number, not %T", key, ei))
		return 0
	}
}

func (o Obj) RequiredList(key string) []string { return o.list(key, true) }
func (o Obj) OptionalList(key string) []string { return o.list(key, false) }

func (o Obj) list(key string, required bool) []string {
	o.noteKnownKey(key)
	ei, ok := o[key]
	if !ok {
		if required {
			o.appendError(fmt.Errorf("missing required config key %q (list of strings)", key))
		}
		return nil
	}
	raw, ok := ei.([]interface{})
	if !ok {
		o.appendError(fmt.Errorf("expected config key %q to be a list, not %T", key, ei))
		return nil
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			o.appendError(fmt.Errorf("expected config key %q index %d to be a string, not %T", key, i, v))
			return nil
		}
		out[i] = s
	}
	return out
}

func (o Obj) noteKnownKey(key string) {
	known, ok := o["_knownkeys"].(map[string]bool)
	if !ok {
		known = make(map[string]bool)
		o["_knownkeys"] = known
	}
	known[key] = true
}

func (o Obj) appendError(err error) {
	if existing, ok := o["_errors"]; ok {
		o["_errors"] = append(existing.([]error), err)
	} else {
		o["_errors"] = []error{err}
	}
}

// Validate reports an aggregate error for every missing/mistyped key
// accessed via a Required* call, plus every key present in the object that
// no accessor examined (excluding keys with a leading underscore, which
// this package itself uses for bookkeeping and which callers may use as
// configuration comments).
func (o Obj) Validate() error {
	known, _ := o["_knownkeys"].(map[string]bool)
	for k := range o {
		if known[k] || strings.HasPrefix(k, "_") {
			continue
		}
		o.appendError(fmt.Errorf("unknown key %q", k))
	}

	ei, ok := o["_errors"]
	if !ok {
		return nil
	}
	errs := ei.([]error)
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("multiple configuration errors: %s", strings.Join(msgs, "; "))
}
