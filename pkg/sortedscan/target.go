package sortedscan

import (
	"fmt"

	"github.com/camforge/rowkv/pkg/rowschema"
)

// BuildTargetInfo derives the row info a big-mode Transcoder targets: key
// columns are the ORDER BY columns (each carrying ORDER BY's own
// direction) followed by every other column sourceInfo declares, in
// source-declared order, per spec.md §4.7 ("a target row info whose key
// columns are the ORDER BY columns followed by residual primary-key
// columns").
//
// Every remaining column goes into the key, not only the residual
// primary-key ones, which is what spec.md §4.7 asks for explicitly: "when
// not all primary-key columns are in the projection, all available
// columns are stuffed into the sort key to preserve distinctness until
// final dedup by the sorter" -- a projection may have already dropped
// some primary-key columns by the time a row reaches pkg/sortedscan, so
// the only columns this function can rely on being present at all are
// whatever sourceInfo still declares. The target row has no value
// columns: every available column is already in the key, so there is
// nothing left for the value tuple to carry.
func BuildTargetInfo(sourceInfo *rowschema.RowInfo, order []OrderColumn) (*rowschema.RowInfo, error) {
	used := make(map[string]bool, len(order))
	key := make([]*rowschema.Column, 0, len(sourceInfo.AllColumns()))

	for _, o := range order {
		c, ok := sourceInfo.Column(o.Name)
		if !ok {
			return nil, fmt.Errorf("sortedscan: order-by column %q not declared by row type %s", o.Name, sourceInfo.RowType)
		}
		cc := *c
		cc.Descending = o.Descending
		key = append(key, &cc)
		used[o.Name] = true
	}
	for _, c := range sourceInfo.AllColumns() {
		if used[c.Name] {
			continue
		}
		cc := *c
		cc.Descending = false
		key = append(key, &cc)
		used[c.Name] = true
	}

	rowType := sourceInfo.RowType + "$sorted"
	return rowschema.NewRowInfo(rowType, sourceInfo.SchemaVersion, key, nil)
}
