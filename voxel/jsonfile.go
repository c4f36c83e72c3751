package voxel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// WriteJSONFile writes value to filename as indented JSON, overwriting
// any existing contents. Used by the layout cache to snapshot its small
// in-memory map without touching the network.
func WriteJSONFile(filename string, value interface{}) error {
	m, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding JSON for %s: %w", filename, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, m, "", "  "); err != nil {
		return fmt.Errorf("indenting JSON for %s: %w", filename, err)
	}
	return os.WriteFile(filename, buf.Bytes(), 0644)
}

// ReadJSONFile decodes the JSON object stored at filename into value.
// A missing file is not an error; value is left untouched.
func ReadJSONFile(filename string, value interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", filename, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("decoding JSON from %s: %w", filename, err)
	}
	return nil
}
