package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Default property names for the normalized sample shape.
const (
	DefaultTextProperty           = "input"
	DefaultTaskProperty           = "task"
	DefaultExpectedOutputProperty = "output_reference"
	DefaultValuesProperty         = "values"
)

// DatasetSpec is the mutable description a DatasetConfig is built from.
type DatasetSpec struct {
	DatasetName          string            `yaml:"dataset"`
	DatasetConfigName    string            `yaml:"config"`
	DatasetSplit         string            `yaml:"split"`
	TextField            string            `yaml:"text_field"`
	TaskField            string            `yaml:"task_field"`
	ExpectedOutputFields []string          `yaml:"output_fields"`
	MetadataFields       map[string]string `yaml:"metadata_fields"` // source field -> property
	MaxSamples           int               `yaml:"max_samples"`
}

// DatasetConfig describes how raw corpus records map onto SampleRecords.
// It is immutable once built.
type DatasetConfig struct {
	datasetName       string
	datasetConfigName string
	datasetSplit      string
	textField         string
	taskField         string
	outputFields      []string
	metadataFields    map[string]string
	maxSamples        int

	textProperty   string
	taskProperty   string
	outputProperty string
	valuesProperty string
	static         map[string]string
}

// NewDatasetConfig validates spec and derives sanitized property names.
func NewDatasetConfig(spec DatasetSpec) (DatasetConfig, error) {
	if strings.TrimSpace(spec.DatasetName) == "" {
		return DatasetConfig{}, NewConfigError("dataset", ErrMissingVariable)
	}
	if strings.TrimSpace(spec.TextField) == "" {
		return DatasetConfig{}, NewConfigError("text_field", ErrMissingVariable)
	}
	if spec.MaxSamples < 0 {
		return DatasetConfig{}, NewConfigError("max_samples", ErrInvalidValue)
	}
	split := spec.DatasetSplit
	if split == "" {
		split = "train"
	}

	metadata := make(map[string]string, len(spec.MetadataFields))
	for field, prop := range spec.MetadataFields {
		if prop == "" {
			prop = field
		}
		name, err := SanitizePropertyName(prop)
		if err != nil {
			return DatasetConfig{}, err
		}
		metadata[field] = name
	}

	return DatasetConfig{
		datasetName:       spec.DatasetName,
		datasetConfigName: spec.DatasetConfigName,
		datasetSplit:      split,
		textField:         spec.TextField,
		taskField:         spec.TaskField,
		outputFields:      slices.Clone(spec.ExpectedOutputFields),
		metadataFields:    metadata,
		maxSamples:        spec.MaxSamples,
		textProperty:      MustSanitize(DefaultTextProperty),
		taskProperty:      MustSanitize(DefaultTaskProperty),
		outputProperty:    MustSanitize(DefaultExpectedOutputProperty),
		valuesProperty:    MustSanitize(DefaultValuesProperty),
		static: map[string]string{
			PropDatasetName:  spec.DatasetName,
			PropDatasetSplit: split,
		},
	}, nil
}

func (c DatasetConfig) DatasetName() string       { return c.datasetName }
func (c DatasetConfig) DatasetConfigName() string { return c.datasetConfigName }
func (c DatasetConfig) DatasetSplit() string      { return c.datasetSplit }
func (c DatasetConfig) TextField() string         { return c.textField }
func (c DatasetConfig) TextProperty() string      { return c.textProperty }
func (c DatasetConfig) MaxSamples() int           { return c.maxSamples }

// MetadataProperties lists every non-text property a sample can carry,
// sorted and without duplicates. Static properties are included.
func (c DatasetConfig) MetadataProperties() []string {
	props := []string{c.taskProperty, c.valuesProperty, PropDatasetName, PropDatasetSplit}
	if len(c.outputFields) > 0 {
		props = append(props, c.outputProperty)
	}
	props = slices.DeleteFunc(props, func(p string) bool { return p == c.textProperty })
	slices.Sort(props)
	return slices.Compact(props)
}

// Translate maps one raw record onto a SampleRecord. It returns false when the
// record has no usable text or lacks a mandatory output field.
func (c DatasetConfig) Translate(record map[string]any) (SampleRecord, bool) {
	text, ok := stringField(record, c.textField)
	if !ok || text == "" {
		return nil, false
	}

	task := ""
	if c.taskField != "" {
		task, _ = stringField(record, c.taskField)
	}

	sample := SampleRecord{
		c.textProperty: text,
		c.taskProperty: task,
	}

	if len(c.outputFields) > 0 {
		expected := make([]any, 0, len(c.outputFields))
		for _, field := range c.outputFields {
			v, present := record[field]
			if !present || v == nil {
				return nil, false
			}
			expected = append(expected, v)
		}
		encoded, err := json.Marshal(expected)
		if err != nil {
			return nil, false
		}
		sample[c.outputProperty] = string(encoded)
	}

	values := make(map[string]string, len(c.metadataFields))
	for field, prop := range c.metadataFields {
		v, present := record[field]
		if !present || v == nil {
			continue
		}
		values[prop] = fmt.Sprint(v)
	}
	sample[c.valuesProperty] = "{}"
	if len(values) > 0 {
		encoded, err := json.Marshal(values)
		if err != nil {
			return nil, false
		}
		sample[c.valuesProperty] = string(encoded)
	}

	maps.Copy(sample, c.static)
	return sample, true
}

// stringField returns the trimmed string form of record[field].
func stringField(record map[string]any, field string) (string, bool) {
	v, ok := record[field]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch tv := v.(type) {
	case string:
		s = tv
	default:
		s = fmt.Sprint(tv)
	}
	return strings.TrimSpace(s), true
}
