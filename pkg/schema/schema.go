package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Type tags a schema tree node.
type Type string

const (
	Integer Type = "Integer"
	String  Type = "String"
	Number  Type = "Number"
	Boolean Type = "Boolean"
	List    Type = "List"
	Map     Type = "Map"
)

// Schema describes one node of a recursive specification tree. Leaves are
// typed scalars; List carries an item schema, Map carries keyed children.
type Schema struct {
	Type        Type
	Description string
	Default     interface{}
	Required    bool
	Updatable   bool
	Constraints []Constraint

	// MinVersion and MaxVersion gate a key to a spec version range.
	// Empty strings mean unbounded.
	MinVersion string
	MaxVersion string

	// Item is the element schema for List nodes.
	Item *Schema

	// Body holds the keyed children of Map nodes.
	Body map[string]*Schema
}

// Constraint restricts the values a leaf may take.
type Constraint interface {
	Check(v interface{}) error
}

// AllowedValues constrains a leaf to an enumerated set.
type AllowedValues struct {
	Values []interface{}
}

func (c AllowedValues) Check(v interface{}) error {
	for _, a := range c.Values {
		if fmt.Sprintf("%v", a) == fmt.Sprintf("%v", v) {
			return nil
		}
	}
	return fmt.Errorf("value %q is not in allowed values %v", fmt.Sprintf("%v", v), c.Values)
}

// Range constrains a numeric leaf to [Min, Max]; nil bounds are open.
type Range struct {
	Min *float64
	Max *float64
}

func (c Range) Check(v interface{}) error {
	f, err := toNumber(v)
	if err != nil {
		return err
	}
	if c.Min != nil && f < *c.Min {
		return fmt.Errorf("value %v is below minimum %v", f, *c.Min)
	}
	if c.Max != nil && f > *c.Max {
		return fmt.Errorf("value %v is above maximum %v", f, *c.Max)
	}
	return nil
}

// Resolve coerces v into the canonical form for this schema node,
// descending into lists and maps and inserting defaults for missing
// map keys. It does not enforce Required; Validate does.
func (s *Schema) Resolve(v interface{}) (interface{}, error) {
	if v == nil {
		if s.Default != nil {
			v = s.Default
		} else {
			return nil, nil
		}
	}

	switch s.Type {
	case Integer:
		return toInt(v)
	case Number:
		return toNumber(v)
	case Boolean:
		return toBool(v)
	case String:
		return toString(v)
	case List:
		items, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected a list, got %T", v)
		}
		out := make([]interface{}, 0, len(items))
		for i, item := range items {
			r, err := s.Item.Resolve(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, r)
		}
		return out, nil
	case Map:
		body, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected a map, got %T", v)
		}
		out := make(map[string]interface{}, len(body))
		for key, child := range s.Body {
			r, err := child.Resolve(body[key])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			if r != nil {
				out[key] = r
			}
		}
		for key := range body {
			if _, known := s.Body[key]; !known {
				return nil, fmt.Errorf("unknown key %q", key)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown schema type %q", s.Type)
	}
}

// Validate walks value and schema in lockstep, enforcing required keys,
// constraints and version gates. An empty version skips version gating.
func (s *Schema) Validate(v interface{}, version string) error {
	if err := s.checkVersion(version); err != nil {
		return err
	}

	if v == nil {
		if s.Required && s.Default == nil {
			return fmt.Errorf("required value missing")
		}
		return nil
	}

	switch s.Type {
	case Integer, Number, Boolean, String:
		resolved, err := s.Resolve(v)
		if err != nil {
			return err
		}
		for _, c := range s.Constraints {
			if err := c.Check(resolved); err != nil {
				return err
			}
		}
		return nil
	case List:
		items, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("expected a list, got %T", v)
		}
		for i, item := range items {
			if err := s.Item.Validate(item, version); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	case Map:
		body, ok := v.(map[string]interface{})
		if !ok {
			return fmt.Errorf("expected a map, got %T", v)
		}
		for key := range body {
			if _, known := s.Body[key]; !known {
				return fmt.Errorf("unknown key %q", key)
			}
		}
		// Deterministic order keeps error messages stable.
		keys := make([]string, 0, len(s.Body))
		for key := range s.Body {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := s.Body[key].Validate(body[key], version); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown schema type %q", s.Type)
	}
}

func (s *Schema) checkVersion(version string) error {
	if version == "" {
		return nil
	}
	if s.MinVersion != "" && compareVersions(version, s.MinVersion) < 0 {
		return fmt.Errorf("not supported before version %s", s.MinVersion)
	}
	if s.MaxVersion != "" && compareVersions(version, s.MaxVersion) > 0 {
		return fmt.Errorf("not supported after version %s", s.MaxVersion)
	}
	return nil
}

// compareVersions compares dotted numeric versions, e.g. "1.0" vs "1.2".
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var ai, bi int
		if i < len(as) {
			ai, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bi, _ = strconv.Atoi(bs[i])
		}
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
	}
	return 0
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("value %v is not an integer", t)
		}
		return int(t), nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("value of type %T is not an integer", v)
	}
}

func toNumber(v interface{}) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not a number", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value of type %T is not a number", v)
	}
}

func toBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("value %q is not a boolean", t)
		}
		return b, nil
	default:
		return false, fmt.Errorf("value of type %T is not a boolean", v)
	}
}

func toString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", t), nil
	default:
		return "", fmt.Errorf("value of type %T is not a string", v)
	}
}
