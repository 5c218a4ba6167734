package model

// ApprovalMode is the rule combining multiple assignees' decisions into one
// stage outcome.
type ApprovalMode int

const (
	// ApprovalModeAny resolves approved on the first approval
	ApprovalModeAny ApprovalMode = 1

	// ApprovalModeAll requires every task to be approved
	ApprovalModeAll ApprovalMode = 2

	// ApprovalModeMajority requires approvals to outnumber rejections
	ApprovalModeMajority ApprovalMode = 3

	// ApprovalModeThreshold requires approvals/total to reach a configured ratio
	ApprovalModeThreshold ApprovalMode = 4
)

func (m ApprovalMode) String() string {
	switch m {
	case ApprovalModeAny:
		return "any"
	case ApprovalModeAll:
		return "all"
	case ApprovalModeMajority:
		return "majority"
	case ApprovalModeThreshold:
		return "threshold"
	}
	return "unknown"
}

// ToApprovalMode converts an approval mode string from a definition payload
func ToApprovalMode(val string) (ApprovalMode, error) {
	switch val {
	case "any":
		return ApprovalModeAny, nil
	case "all":
		return ApprovalModeAll, nil
	case "majority":
		return ApprovalModeMajority, nil
	case "threshold":
		return ApprovalModeThreshold, nil
	default:
		return 0, ConfigErrorf("unsupported approval mode [%s]", val)
	}
}

// Tally is the decision census of one stage instance. Only tasks that can
// still produce a resolving decision are counted: delegated, escalated and
// expired tasks are excluded, their replacements (if any) are counted instead.
type Tally struct {
	Total    int
	Approved int
	Rejected int
}

func (t Tally) Undecided() int {
	return t.Total - t.Approved - t.Rejected
}

func (t Tally) AllDecided() bool {
	return t.Total > 0 && t.Undecided() == 0
}

// Resolve applies the approval-mode rules to a tally and reports the stage
// outcome, OutcomeNone when the stage is not yet resolved. The function is
// pure: replaying the same decision set in any order yields the same result.
func Resolve(mode ApprovalMode, threshold float64, t Tally) Outcome {
	switch mode {
	case ApprovalModeAny:
		if t.Approved >= 1 {
			return OutcomeApproved
		}
		if t.AllDecided() {
			return OutcomeRejected
		}
	case ApprovalModeAll:
		if t.Rejected >= 1 {
			return OutcomeRejected
		}
		if t.AllDecided() {
			return OutcomeApproved
		}
	case ApprovalModeMajority:
		if t.AllDecided() {
			if t.Approved > t.Rejected {
				return OutcomeApproved
			}
			return OutcomeRejected
		}
	case ApprovalModeThreshold:
		if t.AllDecided() {
			if float64(t.Approved)/float64(t.Total) >= threshold {
				return OutcomeApproved
			}
			return OutcomeRejected
		}
	}
	return OutcomeNone
}
