package audit

import "time"

// Query filters the organization's chain. Entries come back in insertion
// order; Offset/Limit paginate, a zero Limit means no cap.
type Query struct {
	OrganizationID string
	InstanceID     string
	EventType      string
	From           time.Time
	To             time.Time
	Offset         int
	Limit          int
}

func (q *Query) matches(entry *Entry) bool {
	if q.InstanceID != "" && entry.InstanceID != q.InstanceID {
		return false
	}
	if q.EventType != "" && entry.EventType != q.EventType {
		return false
	}
	if !q.From.IsZero() && entry.Time.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && entry.Time.After(q.To) {
		return false
	}
	return true
}

// Entries returns the matching entries of the organization's chain
func (l *Log) Entries(q Query) ([]*Entry, error) {
	chain := l.chain(q.OrganizationID)
	chain.mu.Lock()
	defer chain.mu.Unlock()

	var matched []*Entry
	for _, entry := range chain.entries {
		if q.matches(entry) {
			matched = append(matched, entry)
		}
	}

	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, nil
}
