package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// FromProperties builds a Config from a flat property map such as the one
// an embedding container hands over. Keys use the same names as the YAML
// file; values may be strings and are converted weakly. Unset keys keep
// their defaults.
func FromProperties(props map[string]any) (*Config, error) {
	cfg := Defaults()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           cfg,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("create property decoder: %w", err)
	}
	if err := decoder.Decode(props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
