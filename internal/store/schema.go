package store

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// RawSchema accepts any value
type RawSchema struct{}

func (RawSchema) Name() string           { return "raw" }
func (RawSchema) Validate(_ []byte) error { return nil }

// InstanceRecord is a service instance registration, the typical payload of
// the ephemeral "instances" store
type InstanceRecord struct {
	Service   string            `json:"service" validate:"required"`
	IP        string            `json:"ip" validate:"required,ip"`
	Port      int               `json:"port" validate:"required,min=1,max=65535"`
	Weight    float64           `json:"weight" validate:"gte=0,lte=10000"`
	Healthy   bool              `json:"healthy"`
	Enabled   bool              `json:"enabled"`
	Ephemeral bool              `json:"ephemeral"`
	Cluster   string            `json:"cluster,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// JSONSchema decodes values into T and validates struct tags
type JSONSchema[T any] struct {
	name     string
	validate *validator.Validate
}

// NewJSONSchema creates a schema for T
func NewJSONSchema[T any](name string) *JSONSchema[T] {
	return &JSONSchema[T]{
		name:     name,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NewInstanceSchema returns the schema used for instance records
func NewInstanceSchema() *JSONSchema[InstanceRecord] {
	return NewJSONSchema[InstanceRecord]("instance")
}

func (s *JSONSchema[T]) Name() string {
	return s.name
}

func (s *JSONSchema[T]) Validate(value []byte) error {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return err
	}
	return nil
}
