package definition

import (
	"fmt"
	"strings"

	"github.com/bilansoft/approvalflow/model"
)

// AssigneeRule is a closed sum over the ways a stage names its approvers.
// The sealed marker method keeps the variant set fixed so the resolver can
// switch exhaustively.
type AssigneeRule interface {
	isAssigneeRule()
	Kind() string
}

// FixedUsers assigns an explicit list of users
type FixedUsers struct {
	UserIDs []string
}

// Role assigns every user holding a role within the organization
type Role struct {
	Name string
}

// Department assigns the members of a department
type Department struct {
	Name string
}

// DocumentOwner assigns the creator of the document
type DocumentOwner struct{}

// ManagerOf assigns the manager of the rule's subject: the document owner
// during normal assignment, the overdue task's assignee during escalation.
type ManagerOf struct{}

// Dynamic assigns the user named by a document field, falling back to a
// configured default user when the field is absent.
type Dynamic struct {
	Field   FieldPath
	Default string
}

func (FixedUsers) isAssigneeRule()    {}
func (Role) isAssigneeRule()          {}
func (Department) isAssigneeRule()    {}
func (DocumentOwner) isAssigneeRule() {}
func (ManagerOf) isAssigneeRule()     {}
func (Dynamic) isAssigneeRule()       {}

func (FixedUsers) Kind() string    { return "fixed_users" }
func (Role) Kind() string          { return "role" }
func (Department) Kind() string    { return "department" }
func (DocumentOwner) Kind() string { return "document_owner" }
func (ManagerOf) Kind() string     { return "manager_of" }
func (Dynamic) Kind() string       { return "dynamic" }

// AssigneeRep is the serializable representation of an assignee rule
type AssigneeRep struct {
	Type       string   `json:"type"`
	Users      []string `json:"users,omitempty"`
	Role       string   `json:"role,omitempty"`
	Department string   `json:"department,omitempty"`
	Field      string   `json:"field,omitempty"`
	Default    string   `json:"default,omitempty"`
}

// NewAssigneeRule materializes an assignee rule from its serializable
// representation, validating the variant's payload.
func NewAssigneeRule(rep *AssigneeRep) (AssigneeRule, error) {
	if rep == nil {
		return nil, model.ConfigErrorf("assignee rule missing")
	}

	switch strings.ToLower(rep.Type) {
	case "fixed_users":
		if len(rep.Users) == 0 {
			return nil, model.ConfigErrorf("fixed_users rule has no users")
		}
		return FixedUsers{UserIDs: rep.Users}, nil
	case "role":
		if rep.Role == "" {
			return nil, model.ConfigErrorf("role rule has no role name")
		}
		return Role{Name: rep.Role}, nil
	case "department":
		if rep.Department == "" {
			return nil, model.ConfigErrorf("department rule has no department name")
		}
		return Department{Name: rep.Department}, nil
	case "document_owner":
		return DocumentOwner{}, nil
	case "manager_of":
		return ManagerOf{}, nil
	case "dynamic":
		path, err := ParseFieldPath(rep.Field)
		if err != nil {
			return nil, fmt.Errorf("dynamic rule: %w", err)
		}
		return Dynamic{Field: path, Default: rep.Default}, nil
	default:
		return nil, model.ConfigErrorf("unsupported assignee rule type [%s]", rep.Type)
	}
}
