package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testDoc() *Document {
	return &Document{
		ID:             "doc-1",
		Type:           "invoice",
		Tags:           []string{"purchase", "q3"},
		OwnerID:        "u-owner",
		OrganizationID: "org-1",
		ExtractedFields: map[string]interface{}{
			"amount":   2500.0,
			"currency": "PLN",
			"vendor": map[string]interface{}{
				"nip":  "5260250274",
				"name": "Hurtownia Papiernicza",
			},
		},
	}
}

func TestFieldPathLookup(t *testing.T) {
	doc := testDoc()

	path, err := ParseFieldPath("vendor.nip")
	assert.Nil(t, err)
	val, ok := path.Lookup(doc.ExtractedFields)
	assert.True(t, ok)
	assert.Equal(t, "5260250274", val)

	path, _ = ParseFieldPath("vendor.regon")
	_, ok = path.Lookup(doc.ExtractedFields)
	assert.False(t, ok)

	// a leaf cannot be traversed further
	path, _ = ParseFieldPath("currency.code")
	_, ok = path.Lookup(doc.ExtractedFields)
	assert.False(t, ok)
}

func TestParseFieldPathInvalid(t *testing.T) {
	for _, raw := range []string{"", "a..b", ".a", "a.", "a-b", "a b"} {
		_, err := ParseFieldPath(raw)
		assert.NotNil(t, err, "path %q", raw)
	}
}

func TestConditionOperators(t *testing.T) {
	fields := testDoc().ExtractedFields

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals number", Condition{Field: "amount", Op: OpEquals, Value: 2500}, true},
		{"equals string", Condition{Field: "currency", Op: OpEquals, Value: "PLN"}, true},
		{"equals mismatch", Condition{Field: "currency", Op: OpEquals, Value: "EUR"}, false},
		{"contains", Condition{Field: "vendor.name", Op: OpContains, Value: "Papier"}, true},
		{"greater than", Condition{Field: "amount", Op: OpGreaterThan, Value: 1000}, true},
		{"less than", Condition{Field: "amount", Op: OpLessThan, Value: 1000}, false},
		{"between", Condition{Field: "amount", Op: OpBetween, Value: []interface{}{1000, 5000}}, true},
		{"between outside", Condition{Field: "amount", Op: OpBetween, Value: []interface{}{5000, 9000}}, false},
		{"between malformed", Condition{Field: "amount", Op: OpBetween, Value: []interface{}{5000}}, false},
		{"in", Condition{Field: "currency", Op: OpIn, Value: []interface{}{"PLN", "EUR"}}, true},
		{"not in", Condition{Field: "currency", Op: OpNotIn, Value: []interface{}{"USD"}}, true},
		{"not in member", Condition{Field: "currency", Op: OpNotIn, Value: []interface{}{"PLN"}}, false},
		{"missing field", Condition{Field: "iban", Op: OpEquals, Value: "x"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cond.Eval(fields))
		})
	}
}

func TestPredicateConjunction(t *testing.T) {
	fields := testDoc().ExtractedFields

	p := &Predicate{Conditions: []Condition{
		{Field: "currency", Op: OpEquals, Value: "PLN"},
		{Field: "amount", Op: OpGreaterThan, Value: 1000},
	}}
	assert.True(t, p.Eval(fields))

	p.Conditions = append(p.Conditions, Condition{Field: "amount", Op: OpLessThan, Value: 2000})
	assert.False(t, p.Eval(fields))

	var nilPred *Predicate
	assert.True(t, nilPred.Eval(fields))
}

func TestTriggerPredicateMatches(t *testing.T) {
	doc := testDoc()

	min, max := 1000.0, 5000.0
	trigger := &TriggerPredicate{
		MinAmount: &min,
		MaxAmount: &max,
		Tags:      []string{"purchase"},
		Conditions: []Condition{
			{Field: "currency", Op: OpIn, Value: []interface{}{"PLN", "EUR"}},
		},
	}
	assert.True(t, trigger.Matches(doc))

	trigger.Tags = []string{"purchase", "urgent"}
	assert.False(t, trigger.Matches(doc))

	trigger.Tags = nil
	tight := 100.0
	trigger.MaxAmount = &tight
	assert.False(t, trigger.Matches(doc))
}

func TestTriggerPredicateMissingAmount(t *testing.T) {
	doc := testDoc()
	delete(doc.ExtractedFields, FieldAmount)

	min := 1.0
	trigger := &TriggerPredicate{MinAmount: &min}
	assert.False(t, trigger.Matches(doc))

	// without bounds the missing amount does not matter
	trigger = &TriggerPredicate{}
	assert.True(t, trigger.Matches(doc))
}
