package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bilansoft/approvalflow/model"
)

// Event types recorded by the engine
const (
	EventWorkflowStarted   = "workflow_started"
	EventStageEntered      = "stage_entered"
	EventStageSkipped      = "stage_skipped"
	EventStageCompleted    = "stage_completed"
	EventApprovalCompleted = "approval_completed"
	EventDelegated         = "delegated"
	EventEscalated         = "escalated"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowCancelled = "workflow_cancelled"
	EventEntryCreated      = "entry_created"
	EventEntryFailed       = "entry_failed"
	EventActionFailed      = "action_failed"
)

// Entry is one immutable record of the audit chain. Digest covers the
// marshaled payload concatenated with the previous entry's digest, so any
// post-hoc change to a stored payload breaks verification from that point on.
type Entry struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	InstanceID     string          `json:"instanceId,omitempty"`
	EventType      string          `json:"eventType"`
	ActorID        string          `json:"actorId,omitempty"`
	Time           time.Time       `json:"time"`
	Payload        json.RawMessage `json:"payload"`
	PrevDigest     string          `json:"prevDigest"`
	Digest         string          `json:"digest"`
}

// seed of every organization's chain
const genesis = "approvalflow/audit/genesis"

// SeedDigest returns the fixed digest every organization chain starts from
func SeedDigest() string {
	sum := sha256.Sum256([]byte(genesis))
	return hex.EncodeToString(sum[:])
}

func chainDigest(payload []byte, prev string) string {
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(prev))
	return hex.EncodeToString(h.Sum(nil))
}

// payloadEnvelope is the digested content: everything that must be
// tamper-evident goes through it.
type payloadEnvelope struct {
	EventType  string                 `json:"eventType"`
	InstanceID string                 `json:"instanceId,omitempty"`
	ActorID    string                 `json:"actorId,omitempty"`
	Time       time.Time              `json:"time"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

type orgChain struct {
	mu         sync.Mutex // serializes appends, one logical writer per org
	lastDigest string
	entries    []*Entry
}

// Log is the append-only, hash-chained audit store. Chains are organization
// scoped; concurrent appends for the same organization are serialized so the
// chain cannot fork.
type Log struct {
	mu     sync.Mutex
	chains map[string]*orgChain
}

func NewLog() *Log {
	return &Log{chains: make(map[string]*orgChain)}
}

func (l *Log) chain(orgID string) *orgChain {
	l.mu.Lock()
	defer l.mu.Unlock()

	chain, ok := l.chains[orgID]
	if !ok {
		chain = &orgChain{lastDigest: SeedDigest()}
		l.chains[orgID] = chain
	}
	return chain
}

// Append records an event for the organization and returns the stored entry
func (l *Log) Append(orgID, eventType, instanceID, actorID string, data map[string]interface{}) (*Entry, error) {
	if orgID == "" {
		return nil, model.ConfigErrorf("audit append without organization")
	}

	env := payloadEnvelope{
		EventType:  eventType,
		InstanceID: instanceID,
		ActorID:    actorID,
		Time:       time.Now().UTC(),
		Data:       data,
	}
	payload, err := json.Marshal(&env)
	if err != nil {
		return nil, err
	}

	chain := l.chain(orgID)
	chain.mu.Lock()
	defer chain.mu.Unlock()

	entry := &Entry{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		InstanceID:     instanceID,
		EventType:      eventType,
		ActorID:        actorID,
		Time:           env.Time,
		Payload:        payload,
		PrevDigest:     chain.lastDigest,
		Digest:         chainDigest(payload, chain.lastDigest),
	}
	chain.entries = append(chain.entries, entry)
	chain.lastDigest = entry.Digest
	return entry, nil
}

// Verify recomputes the organization's chain from the seed and confirms every
// stored digest, detecting tampering or deletion anywhere in the chain.
func (l *Log) Verify(orgID string) error {
	chain := l.chain(orgID)
	chain.mu.Lock()
	defer chain.mu.Unlock()

	prev := SeedDigest()
	for i, entry := range chain.entries {
		if entry.PrevDigest != prev {
			return model.InvalidStatef("audit chain for [%s] broken at position %d: previous digest mismatch", orgID, i)
		}
		if chainDigest(entry.Payload, prev) != entry.Digest {
			return model.InvalidStatef("audit chain for [%s] broken at position %d: digest mismatch", orgID, i)
		}
		prev = entry.Digest
	}
	return nil
}
