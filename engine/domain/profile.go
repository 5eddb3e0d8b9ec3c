package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadProfile reads a YAML dataset profile. Fields set in overrides win over
// the file; a missing path returns overrides unchanged.
func LoadProfile(path string, overrides DatasetSpec) (DatasetSpec, error) {
	if path == "" {
		return overrides, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DatasetSpec{}, fmt.Errorf("domain: read profile %s: %w", path, err)
	}
	var spec DatasetSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return DatasetSpec{}, NewConfigError(path, fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	return mergeSpec(spec, overrides), nil
}

func mergeSpec(base, over DatasetSpec) DatasetSpec {
	if over.DatasetName != "" {
		base.DatasetName = over.DatasetName
	}
	if over.DatasetConfigName != "" {
		base.DatasetConfigName = over.DatasetConfigName
	}
	if over.DatasetSplit != "" {
		base.DatasetSplit = over.DatasetSplit
	}
	if over.TextField != "" {
		base.TextField = over.TextField
	}
	if over.TaskField != "" {
		base.TaskField = over.TaskField
	}
	if len(over.ExpectedOutputFields) > 0 {
		base.ExpectedOutputFields = over.ExpectedOutputFields
	}
	if len(over.MetadataFields) > 0 {
		base.MetadataFields = over.MetadataFields
	}
	if over.MaxSamples > 0 {
		base.MaxSamples = over.MaxSamples
	}
	return base
}
