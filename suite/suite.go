// Package suite ships the built-in NULL master simulation.
package suite

import (
	_ "embed"
	"fmt"

	"github.com/mykhaliev/agent-sim/model"
)

//go:embed default.yaml
var defaultSuite []byte

// DefaultPath is the pseudo-path reported when the built-in suite runs.
const DefaultPath = "builtin:null-master-simulation"

// Default parses the embedded suite. Each call returns a fresh copy.
func Default() (*model.SuiteConfiguration, error) {
	cfg, err := model.ParseSuiteConfigFromBytes(defaultSuite)
	if err != nil {
		return nil, fmt.Errorf("built-in suite: %w", err)
	}
	return cfg, nil
}

// Raw returns the embedded YAML, used by the -dump flag.
func Raw() []byte {
	out := make([]byte, len(defaultSuite))
	copy(out, defaultSuite)
	return out
}
