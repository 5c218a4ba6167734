package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bilansoft/approvalflow/definition"
)

func makeDef(t *testing.T, id string, priority int, docType string, minAmount *float64) *definition.Definition {
	rep := &definition.DefinitionRep{
		ID:             id,
		Name:           "def-" + id,
		OrganizationID: "org-1",
		Priority:       priority,
		DocumentTypes:  []string{docType},
		Stages: []*definition.StageRep{
			{
				Name:         "review",
				Order:        1,
				ApprovalMode: "any",
				Assignee:     &definition.AssigneeRep{Type: "document_owner"},
				SLA:          "24h",
			},
		},
	}
	if minAmount != nil {
		rep.Trigger = &definition.TriggerRep{MinAmount: minAmount}
	}
	def, err := definition.NewDefinition(rep)
	assert.Nil(t, err)
	return def
}

func doc(docType string, amount float64) *definition.Document {
	return &definition.Document{
		ID:              "doc-1",
		Type:            docType,
		OrganizationID:  "org-1",
		OwnerID:         "u1",
		ExtractedFields: map[string]interface{}{"amount": amount},
	}
}

func TestMatchHighestPriorityWins(t *testing.T) {
	matcher := NewMatcher(nil)

	low := makeDef(t, "low", 1, "invoice", nil)
	high := makeDef(t, "high", 10, "invoice", nil)

	def, ok := matcher.Match(doc("invoice", 100), []*definition.Definition{low, high})
	assert.True(t, ok)
	assert.Equal(t, "high", def.ID())
}

func TestMatchSkipsWrongTypeAndFailedTrigger(t *testing.T) {
	matcher := NewMatcher(nil)

	min := 1000.0
	receipt := makeDef(t, "receipts", 20, "receipt", nil)
	bigInvoices := makeDef(t, "big", 10, "invoice", &min)
	allInvoices := makeDef(t, "all", 1, "invoice", nil)

	defs := []*definition.Definition{receipt, bigInvoices, allInvoices}

	def, ok := matcher.Match(doc("invoice", 500), defs)
	assert.True(t, ok)
	assert.Equal(t, "all", def.ID())

	def, ok = matcher.Match(doc("invoice", 5000), defs)
	assert.True(t, ok)
	assert.Equal(t, "big", def.ID())
}

func TestMatchNoMatch(t *testing.T) {
	matcher := NewMatcher(nil)
	invoices := makeDef(t, "inv", 1, "invoice", nil)

	def, ok := matcher.Match(doc("contract", 100), []*definition.Definition{invoices})
	assert.False(t, ok)
	assert.Nil(t, def)

	def, ok = matcher.Match(doc("invoice", 100), nil)
	assert.False(t, ok)
	assert.Nil(t, def)
}
