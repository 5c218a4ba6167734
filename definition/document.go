package definition

import (
	"github.com/project-flogo/core/data/coerce"
)

// FieldAmount is the well-known extracted field carrying the document's
// gross amount, used by trigger amount bounds.
const FieldAmount = "amount"

// Document is the descriptor of an ingested document as delivered by the
// document-ingestion collaborator. The engine never mutates it.
type Document struct {
	ID              string                 `json:"documentId"`
	Type            string                 `json:"documentType"`
	Tags            []string               `json:"tags"`
	ExtractedFields map[string]interface{} `json:"extractedFields"`
	OwnerID         string                 `json:"ownerId"`
	OrganizationID  string                 `json:"organizationId"`
}

// HasTag reports whether the document carries the given tag
func (d *Document) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Amount returns the document's extracted amount, false when absent or
// not coercible to a number
func (d *Document) Amount() (float64, bool) {
	raw, ok := d.ExtractedFields[FieldAmount]
	if !ok {
		return 0, false
	}
	val, err := coerce.ToFloat64(raw)
	if err != nil {
		return 0, false
	}
	return val, true
}
