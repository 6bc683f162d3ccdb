package util

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ConvertConfig converts a loosely typed settings value (usually a
// map[string]any decoded from YAML or JSON) into a typed config struct.
func ConvertConfig(raw any, output any) error {
	if raw == nil {
		return nil
	}
	yamlBytes, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal raw config: %w", err)
	}
	err = yaml.Unmarshal(yamlBytes, output)
	if err != nil {
		return fmt.Errorf("failed to unmarshal to target config struct (%T): %w", output, err)
	}
	return nil
}
