package vectorstore

import (
	"fmt"
)

// Filter selects points by payload. All Must conditions must hold, at least
// one Should condition (if any) must hold, and no MustNot condition may hold.
type Filter struct {
	Must    []Condition
	Should  []Condition
	MustNot []Condition
}

// Condition matches a single payload field.
type Condition struct {
	Field string
	// Match is compared for equality; against a list field it matches when
	// any element is equal.
	Match any
	// IsEmpty matches when the field is absent, null or an empty list.
	IsEmpty bool
}

// MatchValue builds an equality condition.
func MatchValue(field string, value any) Condition {
	return Condition{Field: field, Match: value}
}

// FieldIsEmpty builds a missing-field condition.
func FieldIsEmpty(field string) Condition {
	return Condition{Field: field, IsEmpty: true}
}

// Matches evaluates the filter against a payload. A nil filter matches everything.
func (f *Filter) Matches(payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(payload) {
			return false
		}
	}
	if len(f.Should) > 0 {
		matched := false
		for _, c := range f.Should {
			if c.matches(payload) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.matches(payload) {
			return false
		}
	}
	return true
}

func (c Condition) matches(payload map[string]any) bool {
	value, ok := payload[c.Field]
	if c.IsEmpty {
		if !ok || value == nil {
			return true
		}
		switch v := value.(type) {
		case []string:
			return len(v) == 0
		case []any:
			return len(v) == 0
		}
		return false
	}
	if !ok || value == nil {
		return false
	}

	want := scalarKey(c.Match)
	switch v := value.(type) {
	case []string:
		for _, item := range v {
			if item == want {
				return true
			}
		}
		return false
	case []any:
		for _, item := range v {
			if scalarKey(item) == want {
				return true
			}
		}
		return false
	default:
		return scalarKey(v) == want
	}
}

// scalarKey renders scalars so that int, int64 and integral float64 compare equal.
func scalarKey(v any) string {
	switch x := v.(type) {
	case string:
		return "s:" + x
	case bool:
		return fmt.Sprintf("b:%t", x)
	case int:
		return fmt.Sprintf("n:%d", x)
	case int64:
		return fmt.Sprintf("n:%d", x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("n:%d", int64(x))
		}
		return fmt.Sprintf("f:%v", x)
	default:
		return fmt.Sprintf("?:%v", x)
	}
}
