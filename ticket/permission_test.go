package ticket

import (
	"context"
	"errors"
	"testing"

	"github.com/loonworks/loonflow/store"
)

func TestHandlePermissionPersonal(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	tk := &store.Ticket{
		ID: 5, WorkflowID: wfID, StateID: submittedStateID,
		ParticipantTypeID: store.ParticipantPersonal, Participant: "alice",
	}
	if err := svc.HandlePermission(ctx, tk, "alice"); err != nil {
		t.Errorf("alice denied: %v", err)
	}
	if err := svc.HandlePermission(ctx, tk, "bob"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("bob error = %v, want ErrPermissionDenied", err)
	}
}

func TestHandlePermissionMultiWholeToken(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	tk := &store.Ticket{
		ID: 5, WorkflowID: wfID, StateID: submittedStateID,
		ParticipantTypeID: store.ParticipantMulti, Participant: "u10,u1",
	}
	if err := svc.HandlePermission(ctx, tk, "u1"); err != nil {
		t.Errorf("u1 denied: %v", err)
	}
	if err := svc.HandlePermission(ctx, tk, "u10"); err != nil {
		t.Errorf("u10 denied: %v", err)
	}
	// u100 must not match the u10 token by prefix.
	if err := svc.HandlePermission(ctx, tk, "u100"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("u100 error = %v, want ErrPermissionDenied", err)
	}
}

func TestHandlePermissionDeptChain(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	dir := ms.MockDirectory()
	dir.AddDept(&store.Dept{ID: 7, Name: "eng"})
	dir.AddDept(&store.Dept{ID: 42, Name: "ops", ParentDeptID: 7})
	dir.AddDept(&store.Dept{ID: 99, Name: "ops-oncall", ParentDeptID: 42})
	dir.AddDept(&store.Dept{ID: 8, Name: "sales"})
	dir.AddUser(&store.User{ID: 10, Username: "dan", DeptID: 99})
	dir.AddUser(&store.User{ID: 11, Username: "eve", DeptID: 8})

	tk := &store.Ticket{
		ID: 5, WorkflowID: wfID, StateID: submittedStateID,
		ParticipantTypeID: store.ParticipantDept, Participant: "42",
	}
	// dan's upward chain is 99, 42, 7 and contains the duty dept.
	if err := svc.HandlePermission(ctx, tk, "dan"); err != nil {
		t.Errorf("dan denied: %v", err)
	}
	if err := svc.HandlePermission(ctx, tk, "eve"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("eve error = %v, want ErrPermissionDenied", err)
	}
}

func TestHandlePermissionRole(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	dir := ms.MockDirectory()
	dir.AddRole(&store.Role{ID: 9, Name: "auditors"})
	dir.AssignRole("carol", 9)

	tk := &store.Ticket{
		ID: 5, WorkflowID: wfID, StateID: submittedStateID,
		ParticipantTypeID: store.ParticipantRole, Participant: "9",
	}
	if err := svc.HandlePermission(ctx, tk, "carol"); err != nil {
		t.Errorf("carol denied: %v", err)
	}
	if err := svc.HandlePermission(ctx, tk, "alice"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("alice error = %v, want ErrPermissionDenied", err)
	}
}

func TestHandlePermissionRobotDeniesUsers(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	tk := &store.Ticket{
		ID: 5, WorkflowID: wfID, StateID: submittedStateID,
		ParticipantTypeID: store.ParticipantRobot, Participant: "script-1",
	}
	if err := svc.HandlePermission(ctx, tk, "alice"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("error = %v, want ErrPermissionDenied", err)
	}
}

func TestHandlePermissionTerminalState(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	// done has no outgoing transitions, so even its participant may not act.
	tk := &store.Ticket{
		ID: 5, WorkflowID: wfID, StateID: doneStateID,
		ParticipantTypeID: store.ParticipantPersonal, Participant: "bob",
	}
	if err := svc.HandlePermission(ctx, tk, "bob"); !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestHandlePermissionDeferredKindIsInvariant(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	tk := &store.Ticket{
		ID: 5, WorkflowID: wfID, StateID: submittedStateID,
		ParticipantTypeID: store.ParticipantField, Participant: "reviewers",
	}
	if err := svc.HandlePermission(ctx, tk, "alice"); !errors.Is(err, ErrInvariant) {
		t.Errorf("error = %v, want ErrInvariant", err)
	}
}

func TestViewPermission(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	tk := &store.Ticket{ID: 5, WorkflowID: wfID, Relation: "alice,bob"}

	// Check off: anyone may view.
	if err := svc.ViewPermission(ctx, tk, "carol"); err != nil {
		t.Errorf("carol denied with check off: %v", err)
	}

	ms.MockCatalog().AddWorkflow(&store.Workflow{
		ID: wfID, Name: "approval", ViewPermissionCheck: true,
	})
	if err := svc.ViewPermission(ctx, tk, "alice"); err != nil {
		t.Errorf("alice denied: %v", err)
	}
	if err := svc.ViewPermission(ctx, tk, "carol"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("carol error = %v, want ErrPermissionDenied", err)
	}
}

func TestTransitionsListsActions(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	id, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		Username:     "carol",
		Title:        "need access",
		TransitionID: submitTransitionID,
		Fields:       map[string]any{"reason": "vpn"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	opts, err := svc.Transitions(ctx, id, "alice")
	if err != nil {
		t.Fatalf("transitions failed: %v", err)
	}
	if len(opts) != 1 || opts[0].TransitionID != approveTransitionID || opts[0].TransitionName != "approve" {
		t.Errorf("opts = %+v, want the approve transition", opts)
	}

	// No handle permission: empty list, not an error.
	opts, err = svc.Transitions(ctx, id, "carol")
	if err != nil {
		t.Fatalf("transitions failed: %v", err)
	}
	if len(opts) != 0 {
		t.Errorf("opts = %+v, want empty", opts)
	}
}
