package ticket

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/loonworks/loonflow/store"
)

func TestCreateThenHandleSinglePersonFlow(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	id, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r1"},
	})
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}

	tk, err := ms.Tickets().Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tk.StateID != submittedStateID {
		t.Errorf("state_id = %d, want %d", tk.StateID, submittedStateID)
	}
	if tk.ParticipantTypeID != store.ParticipantPersonal || tk.Participant != "alice" {
		t.Errorf("participant = (%v, %q), want (personal, alice)", tk.ParticipantTypeID, tk.Participant)
	}
	if tk.Relation != "alice" {
		t.Errorf("relation = %q, want alice", tk.Relation)
	}
	if !strings.HasPrefix(tk.SN, "loonflow_") {
		t.Errorf("sn = %q, want loonflow_ prefix", tk.SN)
	}

	logs, err := ms.FlowLogs().AllForTicket(ctx, id)
	if err != nil {
		t.Fatalf("AllForTicket failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("flow log length = %d, want 1", len(logs))
	}
	if logs[0].StateID != startStateID || logs[0].TransitionID != submitTransitionID {
		t.Errorf("flow entry = (state %d, transition %d), want (%d, %d)",
			logs[0].StateID, logs[0].TransitionID, startStateID, submitTransitionID)
	}

	err = svc.HandleTicket(ctx, HandleRequest{
		TicketID:     id,
		TransitionID: approveTransitionID,
		Username:     "alice",
		Suggestion:   "ok",
	})
	if err != nil {
		t.Fatalf("HandleTicket failed: %v", err)
	}

	tk, _ = ms.Tickets().Get(ctx, id)
	if tk.StateID != doneStateID {
		t.Errorf("state_id = %d, want %d", tk.StateID, doneStateID)
	}
	if tk.Participant != "bob" {
		t.Errorf("participant = %q, want bob", tk.Participant)
	}
	if tk.Relation != "alice,bob" {
		t.Errorf("relation = %q, want alice,bob", tk.Relation)
	}

	logs, _ = ms.FlowLogs().AllForTicket(ctx, id)
	if len(logs) != 2 {
		t.Fatalf("flow log length = %d, want 2", len(logs))
	}
	if logs[1].StateID != submittedStateID || logs[1].Suggestion != "ok" {
		t.Errorf("second entry = (state %d, %q), want (%d, ok)",
			logs[1].StateID, logs[1].Suggestion, submittedStateID)
	}
}

func TestCreateRequiredFieldMissing(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	_, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if !strings.Contains(err.Error(), "reason") {
		t.Errorf("error %q does not list missing field reason", err)
	}

	// Nothing may be written on a failed create.
	count, _ := ms.Tickets().Count(ctx, store.TicketFilter{})
	if count != 0 {
		t.Errorf("ticket count = %d, want 0", count)
	}
}

func TestCreateRequiredListsAllMissing(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	// Both title and reason missing; the message lists both, schema
	// fields first.
	_, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if !strings.Contains(err.Error(), "reason, title") {
		t.Errorf("error %q does not list missing fields in order", err)
	}
}

func TestCreateUnknownTransition(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	_, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: approveTransitionID, // not outgoing from start
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r"},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestCreateNewPermissionDenied(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)
	ms.MockCatalog().NewPermissionFunc = func(string, int64) (bool, error) { return false, nil }

	_, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r"},
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
}

func TestFieldParticipantExpandsToMulti(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	// Route the approve transition into a state whose participant comes
	// from the reviewers field.
	ms.MockCatalog().AddState(&store.State{
		ID: 4, WorkflowID: wfID, Name: "review", OrderID: 4,
		ParticipantTypeID: store.ParticipantField, Participant: "reviewers",
	})
	ms.MockCatalog().AddTransition(&store.Transition{
		ID: 12, WorkflowID: wfID, Name: "to review",
		SourceStateID: submittedStateID, DestinationStateID: 4, OrderID: 2,
	})

	id, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r", "reviewers": "bob,carol"},
	})
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}

	// reviewers was stored at creation; resolution reads it back.
	err = svc.HandleTicket(ctx, HandleRequest{
		TicketID:     id,
		TransitionID: 12,
		Username:     "alice",
	})
	if err != nil {
		t.Fatalf("HandleTicket failed: %v", err)
	}

	tk, _ := ms.Tickets().Get(ctx, id)
	if tk.ParticipantTypeID != store.ParticipantMulti {
		t.Errorf("participant kind = %v, want multi", tk.ParticipantTypeID)
	}
	if tk.Participant != "bob,carol" {
		t.Errorf("participant = %q, want bob,carol", tk.Participant)
	}
	for _, u := range []string{"alice", "bob", "carol"} {
		if !tk.InRelation(u) {
			t.Errorf("relation %q misses %s", tk.Relation, u)
		}
	}
}

func TestFieldParticipantUnknownUser(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	ms.MockCatalog().AddState(&store.State{
		ID: 4, WorkflowID: wfID, Name: "review", OrderID: 4,
		ParticipantTypeID: store.ParticipantField, Participant: "reviewers",
	})
	ms.MockCatalog().AddTransition(&store.Transition{
		ID: 12, WorkflowID: wfID, Name: "to review",
		SourceStateID: startStateID, DestinationStateID: 4, OrderID: 2,
	})

	_, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: 12,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r", "reviewers": "nobody"},
	})
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("error = %v, want ErrResolution", err)
	}
}

func TestSelfLoopTransition(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)
	ms.MockCatalog().AddTransition(&store.Transition{
		ID: 13, WorkflowID: wfID, Name: "ping",
		SourceStateID: submittedStateID, DestinationStateID: submittedStateID, OrderID: 3,
	})

	id, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r"},
	})
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}

	if err := svc.HandleTicket(ctx, HandleRequest{
		TicketID: id, TransitionID: 13, Username: "alice",
	}); err != nil {
		t.Fatalf("HandleTicket failed: %v", err)
	}

	tk, _ := ms.Tickets().Get(ctx, id)
	if tk.StateID != submittedStateID {
		t.Errorf("state_id = %d, want %d", tk.StateID, submittedStateID)
	}
	logs, _ := ms.FlowLogs().AllForTicket(ctx, id)
	if len(logs) != 2 || logs[1].StateID != submittedStateID {
		t.Errorf("self-loop flow entry missing or wrong state")
	}
}

func TestHandleWithoutPermission(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	id, _ := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r"},
	})

	err := svc.HandleTicket(ctx, HandleRequest{
		TicketID:     id,
		TransitionID: approveTransitionID,
		Username:     "carol",
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
}

func TestUpdateTicketStateForced(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	id, _ := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r"},
	})

	if err := svc.UpdateTicketState(ctx, id, doneStateID, "admin"); err != nil {
		t.Fatalf("UpdateTicketState failed: %v", err)
	}

	tk, _ := ms.Tickets().Get(ctx, id)
	if tk.StateID != doneStateID || tk.Participant != "bob" {
		t.Errorf("ticket = (state %d, %q), want (%d, bob)", tk.StateID, tk.Participant, doneStateID)
	}
	if !tk.InRelation("bob") {
		t.Errorf("relation %q misses forced participant bob", tk.Relation)
	}

	logs, _ := ms.FlowLogs().AllForTicket(ctx, id)
	last := logs[len(logs)-1]
	if last.TransitionID != 0 {
		t.Errorf("transition_id = %d, want 0", last.TransitionID)
	}
	if last.Suggestion != "forced state change" {
		t.Errorf("suggestion = %q, want forced state change", last.Suggestion)
	}
}

func TestUpdateTicketStateWorkflowMismatch(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)
	ms.MockCatalog().AddState(&store.State{
		ID: 99, WorkflowID: 2, Name: "other", OrderID: 1,
		ParticipantTypeID: store.ParticipantPersonal, Participant: "x",
	})

	id, _ := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r"},
	})

	err := svc.UpdateTicketState(ctx, id, 99, "admin")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestUpdateTicketStateRejectsDeferredKind(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)
	ms.MockCatalog().AddState(&store.State{
		ID: 5, WorkflowID: wfID, Name: "deferred", OrderID: 5,
		ParticipantTypeID: store.ParticipantField, Participant: "reviewers",
	})

	id, _ := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r"},
	})

	err := svc.UpdateTicketState(ctx, id, 5, "admin")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestDeleteTicketCreatorOnly(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	id, _ := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: submitTransitionID,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r"},
	})

	if err := svc.DeleteTicket(ctx, id, "bob"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
	if err := svc.DeleteTicket(ctx, id, "alice"); err != nil {
		t.Fatalf("DeleteTicket failed: %v", err)
	}
	if _, err := ms.Tickets().Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted ticket still readable")
	}
}

// recordingHooks captures robot state events.
type recordingHooks struct {
	mu     sync.Mutex
	events []RobotStateEvent
}

func (h *recordingHooks) TicketEnteredRobotState(_ context.Context, e RobotStateEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return nil
}

func TestRobotStateFiresHook(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	hooks := &recordingHooks{}
	svc.WithHooks(hooks)

	ms.MockCatalog().AddState(&store.State{
		ID: 6, WorkflowID: wfID, Name: "auto", OrderID: 6,
		ParticipantTypeID: store.ParticipantRobot, Participant: "script-7",
	})
	ms.MockCatalog().AddTransition(&store.Transition{
		ID: 14, WorkflowID: wfID, Name: "to auto",
		SourceStateID: startStateID, DestinationStateID: 6, OrderID: 3,
	})

	id, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		TransitionID: 14,
		Username:     "alice",
		Title:        "x",
		Fields:       map[string]any{"reason": "r"},
	})
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}

	if len(hooks.events) != 1 {
		t.Fatalf("hook events = %d, want 1", len(hooks.events))
	}
	e := hooks.events[0]
	if e.TicketID != id || e.Script != "script-7" || e.StateID != 6 {
		t.Errorf("event = %+v, want ticket %d script-7 state 6", e, id)
	}
	if e.EventID == "" {
		t.Errorf("event id is empty")
	}

	// Robot script ids never join the relation set.
	tk, _ := ms.Tickets().Get(ctx, id)
	if tk.Relation != "alice" {
		t.Errorf("relation = %q, want alice", tk.Relation)
	}
}

func TestConcurrentCreatesDistinctSNs(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	const n = 100
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateTicket(ctx, CreateRequest{
				WorkflowID:   wfID,
				TransitionID: submitTransitionID,
				Username:     "alice",
				Title:        "x",
				Fields:       map[string]any{"reason": "r"},
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}

	list, err := ms.Tickets().List(ctx, store.TicketFilter{
		Pagination: store.Pagination{Limit: n},
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	seen := make(map[string]bool, n)
	for _, tk := range list {
		if seen[tk.SN] {
			t.Fatalf("duplicate sn %s", tk.SN)
		}
		seen[tk.SN] = true
	}
	if len(seen) != n {
		t.Errorf("distinct sns = %d, want %d", len(seen), n)
	}
}
