// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// ReadFile returns the raw content of a fixture stored next to this file.
func ReadFile(filename string) ([]byte, error) {
	_, currentFile, _, _ := runtime.Caller(0)
	return os.ReadFile(filepath.Join(filepath.Dir(currentFile), filename))
}

// LoadJSON reads and unmarshals a JSON object fixture. If target is provided, it attempts to unmarshal the JSON into the target struct.
func LoadJSON(filename string, target ...any) (map[string]any, error) {
	data, err := ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if len(target) > 0 && target[0] != nil {
		if err := json.Unmarshal(data, target[0]); err != nil {
			return nil, err
		}
	}

	return result, nil
}
