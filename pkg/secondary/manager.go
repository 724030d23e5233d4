package secondary

import (
	"context"
	"fmt"

	"github.com/camforge/rowkv/pkg/coltype"
	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/rowschema"
)

// UnknownColumnError is raised reconciling a secondary-index descriptor
// that names a primary column the current RowInfo no longer declares.
type UnknownColumnError struct {
	RowType string
	Column  string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("secondary: descriptor names unknown column %q of row type %s", e.Column, e.RowType)
}

// Manager holds a map from secondary-index descriptor bytes (§6) to the
// RowInfo reconciled for them, per §4.6. The map is a plain Go map, so it
// keeps no order, and the entries of a Trigger built by Update are in no
// defined order. It is not thread-safe; the
// caller is expected to hold a storage-engine lock spanning one Update call
// (§5, "Secondary-index manager: not thread-safe; the caller holds a
// storage-engine lock spanning reconciliation").
type Manager struct {
	entries map[string]*Entry // keyed by string(descriptor bytes)
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*Entry)}
}

// Update reconciles the manager's cached descriptor set against what is
// currently recorded in secondariesView (one row per live secondary index:
// key is the §6 descriptor, value is the backend index id as a
// variable-length prefix integer), returning a freshly built Trigger if
// anything changed, or nil if the set is identical to last time.
//
// Unchanged entries keep their previously reconciled *Entry (same Index
// handle, same Codec) rather than rebuilding it, since re-resolving a
// descriptor against primaryInfo is pure overhead when nothing about it
// has changed.
func (m *Manager) Update(ctx context.Context, txn kvengine.Transaction, secondariesView kvengine.View, backend kvengine.Backend, primaryInfo *rowschema.RowInfo) (*Trigger, error) {
	current, err := scanDescriptors(txn, secondariesView)
	if err != nil {
		return nil, err
	}

	if sameKeys(current, m.entries) {
		return nil, nil
	}

	next := make(map[string]*Entry, len(current))
	entries := make([]*Entry, 0, len(current))
	for descStr, indexID := range current {
		if e, ok := m.entries[descStr]; ok {
			next[descStr] = e
			entries = append(entries, e)
			continue
		}
		e, err := buildEntry(backend, primaryInfo, []byte(descStr), indexID)
		if err != nil {
			return nil, err
		}
		next[descStr] = e
		entries = append(entries, e)
	}

	m.entries = next
	return NewTrigger(entries), nil
}

func sameKeys(current map[string]int64, cached map[string]*Entry) bool {
	if len(current) != len(cached) {
		return false
	}
	for k := range current {
		if _, ok := cached[k]; !ok {
			return false
		}
	}
	return true
}

// scanDescriptors reads every (descriptor, indexID) row out of
// secondariesView in a single pass. Autoload is off while the cursor
// moves and is switched on just long enough to read each row's value, so
// the index id of every row is loaded, whether or not its descriptor is
// already cached.
func scanDescriptors(txn kvengine.Transaction, view kvengine.View) (map[string]int64, error) {
	cur, err := view.NewCursor(txn)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	cur.Link(txn)
	cur.Register()
	cur.Autoload(false)

	out := make(map[string]int64)
	for err := cur.First(); ; err = cur.Next() {
		if err == kvengine.ErrNotFound {
			break
		}
		if err != nil {
			return nil, err
		}
		key, err := cur.Key()
		if err != nil {
			return nil, err
		}
		cur.Autoload(true)
		value, err := cur.Value()
		if err != nil {
			return nil, err
		}
		cur.Autoload(false)
		id, _, err := coltype.GetVarPrefix(value)
		if err != nil {
			return nil, fmt.Errorf("secondary: decoding index id for descriptor: %w", err)
		}
		out[string(key)] = int64(id)
	}
	return out, nil
}

func buildEntry(backend kvengine.Backend, primaryInfo *rowschema.RowInfo, descriptor []byte, indexID int64) (*Entry, error) {
	keyCols, valueCols, err := rowschema.DecodeDescriptor(descriptor)
	if err != nil {
		return nil, err
	}

	resolve := func(dc rowschema.DescriptorColumn) (*rowschema.Column, error) {
		pc, ok := primaryInfo.Column(dc.Name)
		if !ok {
			return nil, &UnknownColumnError{RowType: primaryInfo.RowType, Column: dc.Name}
		}
		c := *pc
		c.Descending = dc.Descending
		return &c, nil
	}

	key := make([]*rowschema.Column, len(keyCols))
	for i, dc := range keyCols {
		c, err := resolve(dc)
		if err != nil {
			return nil, err
		}
		key[i] = c
	}
	value := make([]*rowschema.Column, len(valueCols))
	for i, dc := range valueCols {
		c, err := resolve(dc)
		if err != nil {
			return nil, err
		}
		c.Descending = false
		value[i] = c
	}

	rowType := primaryInfo.RowType + "$secondary"
	info, err := rowschema.NewRowInfo(rowType, primaryInfo.SchemaVersion, key, value)
	if err != nil {
		return nil, err
	}
	codec, err := rowschema.NewRowCodec(info)
	if err != nil {
		return nil, err
	}

	idx, err := backend.IndexByID(indexID)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Info:  &rowschema.SecondaryInfo{RowInfo: info, Descriptor: descriptor},
		Index: idx,
		Codec: codec,
	}, nil
}
