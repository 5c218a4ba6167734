package audit

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bilansoft/approvalflow/model"
)

func TestAppendChainsDigests(t *testing.T) {
	log := NewLog()

	first, err := log.Append("org-1", EventWorkflowStarted, "wi-1", "", nil)
	assert.Nil(t, err)
	assert.Equal(t, SeedDigest(), first.PrevDigest)
	assert.NotEmpty(t, first.Digest)

	second, err := log.Append("org-1", EventStageEntered, "wi-1", "", map[string]interface{}{"stage": "s1"})
	assert.Nil(t, err)
	assert.Equal(t, first.Digest, second.PrevDigest)

	// chains are organization scoped
	other, err := log.Append("org-2", EventWorkflowStarted, "wi-9", "", nil)
	assert.Nil(t, err)
	assert.Equal(t, SeedDigest(), other.PrevDigest)

	assert.Nil(t, log.Verify("org-1"))
	assert.Nil(t, log.Verify("org-2"))
}

func TestVerifyDetectsTampering(t *testing.T) {
	log := NewLog()
	_, _ = log.Append("org-1", EventWorkflowStarted, "wi-1", "", nil)
	_, _ = log.Append("org-1", EventStageEntered, "wi-1", "", map[string]interface{}{"stage": "s1"})
	_, _ = log.Append("org-1", EventStageCompleted, "wi-1", "", map[string]interface{}{"stage": "s1"})

	// mutate a stored payload without recomputing subsequent digests
	chain := log.chain("org-1")
	doctored, _ := json.Marshal(map[string]interface{}{"eventType": "stage_entered", "data": "forged"})
	chain.entries[1].Payload = doctored

	err := log.Verify("org-1")
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestVerifyDetectsDeletion(t *testing.T) {
	log := NewLog()
	_, _ = log.Append("org-1", EventWorkflowStarted, "wi-1", "", nil)
	_, _ = log.Append("org-1", EventStageEntered, "wi-1", "", nil)
	_, _ = log.Append("org-1", EventStageCompleted, "wi-1", "", nil)

	chain := log.chain("org-1")
	chain.entries = append(chain.entries[:1], chain.entries[2:]...)

	err := log.Verify("org-1")
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestConcurrentAppendsDoNotFork(t *testing.T) {
	log := NewLog()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := log.Append("org-1", EventApprovalCompleted, "wi-1", "u1", nil)
			assert.Nil(t, err)
		}()
	}
	wg.Wait()

	assert.Nil(t, log.Verify("org-1"))
	entries, _ := log.Entries(Query{OrganizationID: "org-1"})
	assert.Equal(t, 32, len(entries))

	// every prev digest references its predecessor exactly
	seen := map[string]bool{SeedDigest(): true}
	for _, entry := range entries {
		assert.True(t, seen[entry.PrevDigest], "chain fork at %s", entry.ID)
		seen[entry.Digest] = true
	}
}

func TestEntriesFilterAndPaginate(t *testing.T) {
	log := NewLog()
	_, _ = log.Append("org-1", EventWorkflowStarted, "wi-1", "", nil)
	_, _ = log.Append("org-1", EventStageEntered, "wi-1", "", nil)
	_, _ = log.Append("org-1", EventStageEntered, "wi-2", "", nil)
	_, _ = log.Append("org-1", EventStageCompleted, "wi-1", "", nil)

	entries, err := log.Entries(Query{OrganizationID: "org-1", InstanceID: "wi-1"})
	assert.Nil(t, err)
	assert.Equal(t, 3, len(entries))

	entries, _ = log.Entries(Query{OrganizationID: "org-1", EventType: EventStageEntered})
	assert.Equal(t, 2, len(entries))

	entries, _ = log.Entries(Query{OrganizationID: "org-1", Offset: 1, Limit: 2})
	assert.Equal(t, 2, len(entries))
	assert.Equal(t, EventStageEntered, entries[0].EventType)

	entries, _ = log.Entries(Query{OrganizationID: "org-1", Offset: 10})
	assert.Equal(t, 0, len(entries))
}

func TestAppendRequiresOrganization(t *testing.T) {
	log := NewLog()
	_, err := log.Append("", EventWorkflowStarted, "wi-1", "", nil)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
