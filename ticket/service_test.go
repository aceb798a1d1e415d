package ticket

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/loonworks/loonflow/store"
)

// newTestService builds a Service over mock stores and a miniredis
// backed SN allocator.
func newTestService(t *testing.T) (*Service, *store.MockStores) {
	t.Helper()
	ms := store.NewMockStores()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sn := NewSNAllocator(client, ms.Tickets(), nil)
	svc := NewService(ms, sn)
	return svc, ms
}

// State and transition ids of the single-person approval workflow the
// tests seed: start -> submitted -> done.
const (
	wfID = int64(1)

	startStateID     = int64(1)
	submittedStateID = int64(2)
	doneStateID      = int64(3)

	submitTransitionID  = int64(10)
	approveTransitionID = int64(11)
)

// seedApprovalWorkflow registers a workflow whose start state requires a
// reason, routes to alice and then to bob.
func seedApprovalWorkflow(t *testing.T, ms *store.MockStores) {
	t.Helper()
	cat := ms.MockCatalog()
	cat.AddWorkflow(&store.Workflow{
		ID:                wfID,
		Name:              "approval",
		DisplayFormFields: []string{"reason"},
	})
	cat.AddState(&store.State{
		ID: startStateID, WorkflowID: wfID, Name: "start", OrderID: 1,
		ParticipantTypeID: store.ParticipantPersonal, Participant: "",
		Fields: map[string]store.FieldAttribute{
			"title":     store.FieldRequired,
			"reason":    store.FieldRequired,
			"reviewers": store.FieldReadWrite,
		},
	})
	cat.AddState(&store.State{
		ID: submittedStateID, WorkflowID: wfID, Name: "submitted", OrderID: 2,
		ParticipantTypeID: store.ParticipantPersonal, Participant: "alice",
		Fields: map[string]store.FieldAttribute{
			"reason": store.FieldReadOnly,
			"note":   store.FieldReadWrite,
		},
	})
	cat.AddState(&store.State{
		ID: doneStateID, WorkflowID: wfID, Name: "done", OrderID: 3,
		ParticipantTypeID: store.ParticipantPersonal, Participant: "bob",
	})
	cat.AddTransition(&store.Transition{
		ID: submitTransitionID, WorkflowID: wfID, Name: "submit",
		SourceStateID: startStateID, DestinationStateID: submittedStateID, OrderID: 1,
	})
	cat.AddTransition(&store.Transition{
		ID: approveTransitionID, WorkflowID: wfID, Name: "approve",
		SourceStateID: submittedStateID, DestinationStateID: doneStateID, OrderID: 1,
	})
	cat.AddCustomField(&store.CustomField{
		ID: 1, WorkflowID: wfID, FieldKey: "reason", FieldName: "Reason",
		FieldTypeID: store.FieldTypeStr, OrderID: 1,
	})
	cat.AddCustomField(&store.CustomField{
		ID: 2, WorkflowID: wfID, FieldKey: "note", FieldName: "Note",
		FieldTypeID: store.FieldTypeText, OrderID: 2,
	})
	cat.AddCustomField(&store.CustomField{
		ID: 3, WorkflowID: wfID, FieldKey: "reviewers", FieldName: "Reviewers",
		FieldTypeID: store.FieldTypeUsername, OrderID: 3,
	})

	dir := ms.MockDirectory()
	dir.AddUser(&store.User{ID: 1, Username: "alice", DeptID: 42})
	dir.AddUser(&store.User{ID: 2, Username: "bob", DeptID: 42})
	dir.AddUser(&store.User{ID: 3, Username: "carol", DeptID: 7})
	dir.AddDept(&store.Dept{ID: 42, Name: "ops", Approver: "bob"})
	dir.AddDept(&store.Dept{ID: 7, Name: "eng"})
}
