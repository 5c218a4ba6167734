package definition

import (
	"strings"

	"github.com/project-flogo/core/data/coerce"

	"github.com/bilansoft/approvalflow/model"
)

// FieldPath is a dot-separated path into a document's extracted fields.
// Paths are validated when a definition is materialized, not at resolution
// time, so a live instance never sees a malformed path.
type FieldPath string

// ParseFieldPath validates a path: non-empty segments of letters, digits
// and underscores.
func ParseFieldPath(raw string) (FieldPath, error) {
	if raw == "" {
		return "", model.ConfigErrorf("empty field path")
	}
	for _, seg := range strings.Split(raw, ".") {
		if seg == "" {
			return "", model.ConfigErrorf("field path [%s] has an empty segment", raw)
		}
		for _, r := range seg {
			if !isPathRune(r) {
				return "", model.ConfigErrorf("field path [%s] has an invalid character", raw)
			}
		}
	}
	return FieldPath(raw), nil
}

func isPathRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Lookup walks the path through nested maps
func (p FieldPath) Lookup(fields map[string]interface{}) (interface{}, bool) {
	segs := strings.Split(string(p), ".")
	var cur interface{} = fields
	for _, seg := range segs {
		obj, err := coerce.ToObject(cur)
		if err != nil || obj == nil {
			return nil, false
		}
		val, ok := obj[seg]
		if !ok {
			return nil, false
		}
		cur = val
	}
	return cur, true
}

// Operator is the comparison applied by a condition
type Operator int

const (
	OpEquals Operator = iota + 1
	OpContains
	OpGreaterThan
	OpLessThan
	OpBetween
	OpIn
	OpNotIn
)

func (o Operator) String() string {
	switch o {
	case OpEquals:
		return "equals"
	case OpContains:
		return "contains"
	case OpGreaterThan:
		return "greater_than"
	case OpLessThan:
		return "less_than"
	case OpBetween:
		return "between"
	case OpIn:
		return "in"
	case OpNotIn:
		return "not_in"
	}
	return "unknown"
}

// ToOperator converts an operator string from a definition payload
func ToOperator(val string) (Operator, error) {
	switch strings.ToLower(val) {
	case "equals", "eq":
		return OpEquals, nil
	case "contains":
		return OpContains, nil
	case "greater_than", "gt":
		return OpGreaterThan, nil
	case "less_than", "lt":
		return OpLessThan, nil
	case "between":
		return OpBetween, nil
	case "in":
		return OpIn, nil
	case "not_in":
		return OpNotIn, nil
	default:
		return 0, model.ConfigErrorf("unsupported operator [%s]", val)
	}
}

// Condition compares one document field against a configured value.
// Between expects Value to be a two-element array, in/not_in an array.
type Condition struct {
	Field FieldPath
	Op    Operator
	Value interface{}
}

// Eval applies the condition to a field set. A missing field or an
// un-coercible value evaluates to false; predicate evaluation never errors
// once the definition passed validation.
func (c *Condition) Eval(fields map[string]interface{}) bool {
	val, ok := c.Field.Lookup(fields)
	if !ok {
		return false
	}

	switch c.Op {
	case OpEquals:
		return equalValues(val, c.Value)
	case OpContains:
		s, err1 := coerce.ToString(val)
		sub, err2 := coerce.ToString(c.Value)
		return err1 == nil && err2 == nil && strings.Contains(s, sub)
	case OpGreaterThan:
		a, err1 := coerce.ToFloat64(val)
		b, err2 := coerce.ToFloat64(c.Value)
		return err1 == nil && err2 == nil && a > b
	case OpLessThan:
		a, err1 := coerce.ToFloat64(val)
		b, err2 := coerce.ToFloat64(c.Value)
		return err1 == nil && err2 == nil && a < b
	case OpBetween:
		bounds, err := coerce.ToArray(c.Value)
		if err != nil || len(bounds) != 2 {
			return false
		}
		a, err1 := coerce.ToFloat64(val)
		lo, err2 := coerce.ToFloat64(bounds[0])
		hi, err3 := coerce.ToFloat64(bounds[1])
		return err1 == nil && err2 == nil && err3 == nil && a >= lo && a <= hi
	case OpIn:
		return valueIn(val, c.Value)
	case OpNotIn:
		if _, err := coerce.ToArray(c.Value); err != nil {
			return false
		}
		return !valueIn(val, c.Value)
	}
	return false
}

func equalValues(a, b interface{}) bool {
	fa, errA := coerce.ToFloat64(a)
	fb, errB := coerce.ToFloat64(b)
	if errA == nil && errB == nil {
		return fa == fb
	}
	sa, errA := coerce.ToString(a)
	sb, errB := coerce.ToString(b)
	return errA == nil && errB == nil && sa == sb
}

func valueIn(val, set interface{}) bool {
	items, err := coerce.ToArray(set)
	if err != nil {
		return false
	}
	for _, item := range items {
		if equalValues(val, item) {
			return true
		}
	}
	return false
}

// Predicate is a conjunction of conditions over a field set. A nil or empty
// predicate is satisfied.
type Predicate struct {
	Conditions []Condition
}

func (p *Predicate) Eval(fields map[string]interface{}) bool {
	if p == nil {
		return true
	}
	for i := range p.Conditions {
		if !p.Conditions[i].Eval(fields) {
			return false
		}
	}
	return true
}

// TriggerPredicate decides whether a workflow definition applies to a
// document: amount bounds, required tags and field conditions, all
// conjunctive. Evaluation is deterministic and side-effect free.
type TriggerPredicate struct {
	MinAmount  *float64
	MaxAmount  *float64
	Tags       []string
	Conditions []Condition
}

// Matches evaluates the trigger against a document
func (t *TriggerPredicate) Matches(doc *Document) bool {
	if t == nil {
		return true
	}

	if t.MinAmount != nil || t.MaxAmount != nil {
		amount, ok := doc.Amount()
		if !ok {
			return false
		}
		if t.MinAmount != nil && amount < *t.MinAmount {
			return false
		}
		if t.MaxAmount != nil && amount > *t.MaxAmount {
			return false
		}
	}

	for _, tag := range t.Tags {
		if !doc.HasTag(tag) {
			return false
		}
	}

	for i := range t.Conditions {
		if !t.Conditions[i].Eval(doc.ExtractedFields) {
			return false
		}
	}

	return true
}
