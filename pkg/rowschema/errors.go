package rowschema

import "fmt"

// ErrMissingSchema is the §7 SchemaMissing error kind: the registry has no
// RowInfo for a (rowType, schemaVersion) pair, typically because the
// version's metadata was garbage-collected.
type ErrMissingSchema struct {
	RowType       string
	SchemaVersion int
}

func (e *ErrMissingSchema) Error() string {
	return fmt.Sprintf("rowschema: no schema registered for %s version %d", e.RowType, e.SchemaVersion)
}

// DuplicateColumnError is raised building a RowInfo whose key and value
// column lists share a name.
type DuplicateColumnError struct {
	RowType string
	Name    string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("rowschema: row type %s declares column %q twice", e.RowType, e.Name)
}
