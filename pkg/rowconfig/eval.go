package rowconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

var envPattern = regexp.MustCompile(`\$\{[A-Za-z0-9_]+\}`)

// ReadFile decodes a JSON configuration file, expanding ${VAR} references
// against the process environment before parsing. This drops the
// teacher's recursive "_include" file-composition feature (no component
// here needs a config split across files); DESIGN.md records that as a
// deliberate scope cut, not an oversight.
func ReadFile(path string) (Obj, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])
		return []byte(os.Getenv(name))
	})
	var m map[string]interface{}
	if err := json.Unmarshal(expanded, &m); err != nil {
		return nil, fmt.Errorf("rowconfig: parsing %s: %w", path, err)
	}
	return Obj(m), nil
}
