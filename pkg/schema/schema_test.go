package schema

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSchemaValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default schema should validate: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	content := `
attributes:
  age:
    type: numeric
    distribution: uniform
    min: 18
    max: 65
  smoker:
    type: boolean
    distribution: bernoulli
    true_probability: 0.2
  region:
    type: categorical
    distribution: categorical
    categories: [north, south]
    weights: [0.5, 0.5]
`
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write schema file: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Attributes) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(s.Attributes))
	}

	age, ok := s.Lookup("age")
	if !ok {
		t.Fatal("age attribute missing after load")
	}
	if age.Name != "age" {
		t.Fatalf("map key should backfill the name, got %q", age.Name)
	}
	if age.Min != 18 || age.Max != 65 {
		t.Fatalf("unexpected age bounds: %v..%v", age.Min, age.Max)
	}
}

func TestLoadEmptyPathFallsBackToDefault(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.Lookup("age"); !ok {
		t.Fatal("expected default schema")
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	s := Schema{Attributes: map[string]Attribute{
		"region": {
			Name: "region", Type: Categorical, Distribution: CategoricalWeights,
			Categories: []string{"north", "south"},
			Weights:    []float64{0.5},
		},
	}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected mismatched weights to fail validation")
	}
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	s := Schema{Attributes: map[string]Attribute{
		"age": {Name: "age", Type: Numeric, Distribution: Uniform, Min: 90, Max: 18},
	}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected inverted bounds to fail validation")
	}
}

func TestLookupNormalizesName(t *testing.T) {
	if _, ok := Default().Lookup("  Age "); !ok {
		t.Fatal("lookup should trim and lowercase the attribute name")
	}
}
