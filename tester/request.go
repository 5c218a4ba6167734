package tester

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bilansoft/approvalflow/audit"
	"github.com/bilansoft/approvalflow/state"
)

// DecideRequest describes a decision submission
type DecideRequest struct {
	TaskID     string `json:"taskId"`
	ActorID    string `json:"actorId"`
	Decision   string `json:"decision"`
	Comment    string `json:"comment,omitempty"`
	DelegateTo string `json:"delegateTo,omitempty"`
}

// CancelRequest describes an instance cancellation
type CancelRequest struct {
	Reason string `json:"reason"`
}

// InstanceResponse is an instance together with its ordered stages
type InstanceResponse struct {
	Instance *state.WorkflowInstance `json:"instance"`
	Stages   []*state.StageInstance  `json:"stages"`
}

func auditQueryFromRequest(r *http.Request) (audit.Query, error) {

	values := r.URL.Query()
	q := audit.Query{
		OrganizationID: values.Get("org"),
		InstanceID:     values.Get("instance"),
		EventType:      values.Get("type"),
	}

	if v := values.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, err
		}
		q.From = t
	}
	if v := values.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, err
		}
		q.To = t
	}
	if v := values.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, err
		}
		q.Offset = n
	}
	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, err
		}
		q.Limit = n
	}

	return q, nil
}
