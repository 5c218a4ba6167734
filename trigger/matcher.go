// Package trigger selects the workflow definition applicable to a document
// event. Matching is deterministic and side-effect free.
package trigger

import (
	"sort"

	"github.com/project-flogo/core/support/log"

	"github.com/bilansoft/approvalflow/definition"
)

type Matcher struct {
	logger log.Logger
}

func NewMatcher(logger log.Logger) *Matcher {
	if logger == nil {
		logger = log.ChildLogger(log.RootLogger(), "trigger")
	}
	return &Matcher{logger: logger}
}

// Match returns the first definition, in priority-descending order, whose
// document types include the document's type and whose trigger predicate
// fully matches. The second return is false when nothing matches; the caller
// decides whether that is an error or a no-op.
func (m *Matcher) Match(doc *definition.Document, defs []*definition.Definition) (*definition.Definition, bool) {

	ordered := append([]*definition.Definition(nil), defs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority() > ordered[j].Priority() })

	for _, def := range ordered {
		if !def.AppliesToType(doc.Type) {
			continue
		}
		if !def.Trigger().Matches(doc) {
			continue
		}
		if m.logger.DebugEnabled() {
			m.logger.Debugf("Document [%s] matched %s", doc.ID, def)
		}
		return def, true
	}

	m.logger.Debugf("Document [%s] matched no workflow definition", doc.ID)
	return nil, false
}
