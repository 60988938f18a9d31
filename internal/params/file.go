package params

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Flatten converts a nested tree into dotted leaf paths. Scalars and lists
// are leaves; maps recurse.
func Flatten(tree map[string]any) map[string]any {
	flat := make(map[string]any)
	flattenInto(flat, "", tree)
	return flat
}

func flattenInto(flat map[string]any, prefix string, tree map[string]any) {
	for key, value := range tree {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch nested := value.(type) {
		case map[string]any:
			flattenInto(flat, path, nested)
		default:
			flat[path] = value
		}
	}
}

// LoadFile parses a YAML parameter file into a flattened leaf map.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("params: read %s: %w", path, err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("params: parse %s: %w", path, err)
	}
	return Flatten(tree), nil
}
