package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type AttributeType string

const (
	Numeric     AttributeType = "numeric"
	Categorical AttributeType = "categorical"
	Boolean     AttributeType = "boolean"
)

type Distribution string

const (
	Uniform            Distribution = "uniform"
	Normal             Distribution = "normal"
	CategoricalWeights Distribution = "categorical"
	Bernoulli          Distribution = "bernoulli"
)

// Attribute declares one patient attribute: its type, its valid domain and the
// distribution synthetic values are sampled from.
type Attribute struct {
	Name         string        `yaml:"name" json:"name"`
	Type         AttributeType `yaml:"type" json:"type"`
	Distribution Distribution  `yaml:"distribution" json:"distribution"`

	// Numeric attributes
	Min    float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max    float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Mean   float64 `yaml:"mean,omitempty" json:"mean,omitempty"`
	StdDev float64 `yaml:"stddev,omitempty" json:"stddev,omitempty"`

	// Categorical attributes
	Categories []string  `yaml:"categories,omitempty" json:"categories,omitempty"`
	Weights    []float64 `yaml:"weights,omitempty" json:"weights,omitempty"`

	// Boolean attributes
	TrueProbability float64 `yaml:"true_probability,omitempty" json:"true_probability,omitempty"`
}

type Schema struct {
	Attributes map[string]Attribute `yaml:"attributes" json:"attributes"`
}

// Load reads an attribute schema from a YAML file. An empty path returns the
// built-in default schema.
func Load(path string) (Schema, error) {
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Default(), err
	}

	var s Schema
	if err := yaml.Unmarshal(content, &s); err != nil {
		return Schema{}, err
	}
	for name, attr := range s.Attributes {
		if attr.Name == "" {
			attr.Name = name
			s.Attributes[name] = attr
		}
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

func (s Schema) Validate() error {
	if len(s.Attributes) == 0 {
		return fmt.Errorf("attribute schema is empty")
	}
	for name, attr := range s.Attributes {
		switch attr.Type {
		case Numeric:
			if attr.Max < attr.Min {
				return fmt.Errorf("attribute %s: max %v below min %v", name, attr.Max, attr.Min)
			}
			if attr.Distribution == Normal && attr.StdDev <= 0 {
				return fmt.Errorf("attribute %s: normal distribution requires positive stddev", name)
			}
		case Categorical:
			if len(attr.Categories) == 0 {
				return fmt.Errorf("attribute %s: categorical attribute has no categories", name)
			}
			if len(attr.Weights) > 0 {
				if len(attr.Weights) != len(attr.Categories) {
					return fmt.Errorf("attribute %s: %d weights for %d categories", name, len(attr.Weights), len(attr.Categories))
				}
				var sum float64
				for _, w := range attr.Weights {
					if w < 0 {
						return fmt.Errorf("attribute %s: negative weight", name)
					}
					sum += w
				}
				if sum <= 0 {
					return fmt.Errorf("attribute %s: weights sum to zero", name)
				}
			}
		case Boolean:
			if attr.TrueProbability < 0 || attr.TrueProbability > 1 {
				return fmt.Errorf("attribute %s: true_probability %v outside [0,1]", name, attr.TrueProbability)
			}
		default:
			return fmt.Errorf("attribute %s: unknown type %q", name, attr.Type)
		}
	}
	return nil
}

func (s Schema) Lookup(name string) (Attribute, bool) {
	if s.Attributes == nil {
		return Attribute{}, false
	}
	attr, ok := s.Attributes[strings.ToLower(strings.TrimSpace(name))]
	return attr, ok
}

// Names returns attribute names in sorted order so callers that iterate the
// schema behave deterministically.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Attributes))
	for name := range s.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default covers the demographics, biomarkers and labs the synthetic cohort
// generator supports out of the box.
func Default() Schema {
	return Schema{Attributes: map[string]Attribute{
		"age": {
			Name: "age", Type: Numeric, Distribution: Uniform,
			Min: 18, Max: 90,
		},
		"sex": {
			Name: "sex", Type: Categorical, Distribution: CategoricalWeights,
			Categories: []string{"male", "female"},
			Weights:    []float64{0.48, 0.52},
		},
		"ebv_status": {
			Name: "ebv_status", Type: Categorical, Distribution: CategoricalWeights,
			Categories: []string{"negative", "positive"},
			Weights:    []float64{0.05, 0.95},
		},
		"diabetic": {
			Name: "diabetic", Type: Boolean, Distribution: Bernoulli,
			TrueProbability: 0.11,
		},
		"comorbidity_count": {
			Name: "comorbidity_count", Type: Numeric, Distribution: Uniform,
			Min: 0, Max: 3,
		},
		"lab_glucose": {
			Name: "lab_glucose", Type: Numeric, Distribution: Normal,
			Min: 40, Max: 400, Mean: 100, StdDev: 10,
		},
		"lab_hba1c": {
			Name: "lab_hba1c", Type: Numeric, Distribution: Normal,
			Min: 3, Max: 15, Mean: 7, StdDev: 1,
		},
	}}
}
