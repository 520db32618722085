package schema

import (
	"fmt"
)

// Spec is a lazy, validated projection of a data map onto a schema body.
// Indexing a key triggers validation, coercion and default insertion for
// that key only; Validate walks the whole map at once.
type Spec struct {
	body    map[string]*Schema
	data    map[string]interface{}
	version string

	resolved map[string]interface{}
}

// NewSpec binds data onto the keyed schema body.
func NewSpec(body map[string]*Schema, data map[string]interface{}, version string) *Spec {
	return &Spec{
		body:     body,
		data:     data,
		version:  version,
		resolved: make(map[string]interface{}),
	}
}

// Validate checks every key of the data map against the schema.
func (s *Spec) Validate() error {
	root := &Schema{Type: Map, Body: s.body}
	return root.Validate(s.data, s.version)
}

// Get returns the resolved value for key, applying coercion and defaults.
// Unknown keys and coercion failures return an error.
func (s *Spec) Get(key string) (interface{}, error) {
	if v, ok := s.resolved[key]; ok {
		return v, nil
	}
	child, ok := s.body[key]
	if !ok {
		return nil, fmt.Errorf("unknown spec key %q", key)
	}
	if err := child.checkVersion(s.version); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	v, err := child.Resolve(s.data[key])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	s.resolved[key] = v
	return v, nil
}

// GetString returns the key as a string, or the zero value when unset.
func (s *Spec) GetString(key string) string {
	v, err := s.Get(key)
	if err != nil || v == nil {
		return ""
	}
	str, _ := v.(string)
	return str
}

// GetInt returns the key as an int, or the zero value when unset.
func (s *Spec) GetInt(key string) int {
	v, err := s.Get(key)
	if err != nil || v == nil {
		return 0
	}
	n, _ := v.(int)
	return n
}

// GetBool returns the key as a bool, or false when unset.
func (s *Spec) GetBool(key string) bool {
	v, err := s.Get(key)
	if err != nil || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// GetMap returns the key as a map, or nil when unset.
func (s *Spec) GetMap(key string) map[string]interface{} {
	v, err := s.Get(key)
	if err != nil || v == nil {
		return nil
	}
	m, _ := v.(map[string]interface{})
	return m
}

// GetList returns the key as a list, or nil when unset.
func (s *Spec) GetList(key string) []interface{} {
	v, err := s.Get(key)
	if err != nil || v == nil {
		return nil
	}
	l, _ := v.([]interface{})
	return l
}
