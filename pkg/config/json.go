package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// LoadJSON loads configuration from a JSON file
func LoadJSON(path string, target interface{}) error {
	// #nosec G304 -- path is provided by the operator on the command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return core.WrapConfig("file", fmt.Errorf("failed to read JSON file %s: %w", path, err))
	}

	if err := json.Unmarshal(data, target); err != nil {
		return core.WrapConfig("file", fmt.Errorf("failed to unmarshal JSON: %w", err))
	}

	return nil
}
