package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// LoadYAML loads configuration from a YAML file. Unknown keys are rejected
// so a misspelled option fails at startup instead of being ignored.
func LoadYAML(path string, target interface{}) error {
	// #nosec G304 -- path is provided by the operator on the command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return core.WrapConfig("file", fmt.Errorf("failed to read YAML file %s: %w", path, err))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && err != io.EOF {
		return core.WrapConfig("file", fmt.Errorf("failed to unmarshal YAML: %w", err))
	}

	return nil
}

// SaveYAML writes config as YAML to w.
func SaveYAML(w io.Writer, config interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}
