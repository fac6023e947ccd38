package entry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errInvalidPath = errors.New("invalid input or empty path")

// Lookup extracts a value from a nested payload using a dotted path like the
// jq cli, e.g. "profile.full_name" or ".affiliations[0].name".
func Lookup(input map[string]any, path string) (any, error) {
	if input == nil || path == "" {
		return nil, errInvalidPath
	}
	path = strings.TrimPrefix(path, ".")

	var current any = input
	for _, key := range strings.Split(path, ".") {
		if key == "" {
			continue
		}

		name, index, hasIndex, err := splitKeyAndIndex(key)
		if err != nil {
			return nil, err
		}

		currentMap, ok := current.(map[string]any)
		if !ok {
			// Record is a named map type and does not match map[string]any
			if r, isRecord := current.(Record); isRecord {
				currentMap = r
			} else {
				return nil, fmt.Errorf("expected map at path segment: %s", key)
			}
		}

		value, exists := currentMap[name]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", name)
		}
		current = value

		if !hasIndex {
			continue
		}
		array, ok := current.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array at key: %s", name)
		}
		if index < 0 || index >= len(array) {
			return nil, fmt.Errorf("invalid index %d at key: %s", index, name)
		}
		current = array[index]
	}

	return current, nil
}

// splitKeyAndIndex separates "key[2]" into its key and array index.
func splitKeyAndIndex(key string) (string, int, bool, error) {
	start := strings.IndexByte(key, '[')
	if start == -1 {
		return key, 0, false, nil
	}
	end := strings.IndexByte(key, ']')
	if end == -1 || end < start {
		return "", 0, false, fmt.Errorf("malformed array syntax in key: %s", key)
	}
	index, err := strconv.Atoi(key[start+1 : end])
	if err != nil {
		return "", 0, false, fmt.Errorf("malformed array index in key: %s", key)
	}
	return key[:start], index, true, nil
}
