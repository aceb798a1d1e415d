package ticket

import (
	"context"
	"errors"
	"testing"

	"github.com/loonworks/loonflow/store"
)

func TestFlowLogsNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	id, err := svc.CreateTicket(ctx, CreateRequest{
		WorkflowID:   wfID,
		Username:     "carol",
		Title:        "need access",
		TransitionID: submitTransitionID,
		Suggestion:   "please",
		Fields:       map[string]any{"reason": "vpn"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.HandleTicket(ctx, HandleRequest{
		TicketID:     id,
		TransitionID: approveTransitionID,
		Username:     "alice",
		Suggestion:   "approved",
	}); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	res, err := svc.FlowLogs(ctx, id, 1, 10)
	if err != nil {
		t.Fatalf("flow logs failed: %v", err)
	}
	if res.Total != 2 || len(res.Items) != 2 {
		t.Fatalf("total = %d, items = %d, want 2", res.Total, len(res.Items))
	}

	newest, oldest := res.Items[0], res.Items[1]
	if newest.StateID != submittedStateID || newest.StateName != "submitted" {
		t.Errorf("newest state = (%d, %s), want submitted", newest.StateID, newest.StateName)
	}
	if newest.TransitionID != approveTransitionID || newest.TransitionName != "approve" {
		t.Errorf("newest transition = (%d, %s), want approve", newest.TransitionID, newest.TransitionName)
	}
	if newest.Participant != "alice" || newest.Suggestion != "approved" {
		t.Errorf("newest entry = %+v, want alice/approved", newest)
	}
	if oldest.StateID != startStateID || oldest.TransitionName != "submit" || oldest.Participant != "carol" {
		t.Errorf("oldest entry = %+v, want carol's submit from start", oldest)
	}
}

func TestFlowLogsForcedEntryHasNoTransitionName(t *testing.T) {
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
	if err := svc.UpdateTicketState(ctx, id, doneStateID, "admin"); err != nil {
		t.Fatalf("forced update failed: %v", err)
	}

	res, err := svc.FlowLogs(ctx, id, 1, 10)
	if err != nil {
		t.Fatalf("flow logs failed: %v", err)
	}
	forced := res.Items[0]
	if forced.TransitionID != 0 || forced.TransitionName != "" {
		t.Errorf("forced entry transition = (%d, %q), want (0, empty)", forced.TransitionID, forced.TransitionName)
	}
	if forced.Participant != "admin" {
		t.Errorf("forced entry participant = %s, want admin", forced.Participant)
	}
}

func TestFlowLogsPagination(t *testing.T) {
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
	if err := svc.HandleTicket(ctx, HandleRequest{
		TicketID: id, TransitionID: approveTransitionID, Username: "alice",
	}); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	res, err := svc.FlowLogs(ctx, id, 2, 1)
	if err != nil {
		t.Fatalf("flow logs failed: %v", err)
	}
	if res.Page != 2 || res.PerPage != 1 || len(res.Items) != 1 {
		t.Fatalf("page = %d/%d with %d items, want page 2 of 1", res.Page, res.PerPage, len(res.Items))
	}
	// Second page of the newest-first listing is the creation entry.
	if res.Items[0].StateID != startStateID {
		t.Errorf("entry state = %d, want start", res.Items[0].StateID)
	}
}

func TestFlowLogsUnknownTicket(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	if _, err := svc.FlowLogs(ctx, 404, 1, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestFlowStepsGroupEntriesByState(t *testing.T) {
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
	if err := svc.HandleTicket(ctx, HandleRequest{
		TicketID: id, TransitionID: approveTransitionID, Username: "alice",
	}); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	steps, err := svc.FlowSteps(ctx, id)
	if err != nil {
		t.Fatalf("flow steps failed: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(steps))
	}
	if steps[0].StateID != startStateID || steps[1].StateID != submittedStateID || steps[2].StateID != doneStateID {
		t.Errorf("step order = %d,%d,%d, want start,submitted,done",
			steps[0].StateID, steps[1].StateID, steps[2].StateID)
	}
	if !steps[2].IsCurrent || steps[0].IsCurrent || steps[1].IsCurrent {
		t.Error("only the done step should be current")
	}
	if len(steps[0].Entries) != 1 || steps[0].Entries[0].Participant != "carol" {
		t.Errorf("start entries = %+v, want carol's creation entry", steps[0].Entries)
	}
	if len(steps[1].Entries) != 1 || steps[1].Entries[0].Participant != "alice" {
		t.Errorf("submitted entries = %+v, want alice's approval entry", steps[1].Entries)
	}
	if len(steps[2].Entries) != 0 {
		t.Errorf("done entries = %+v, want none", steps[2].Entries)
	}
}

func TestFlowStepsHiddenStateVisibleOnlyWhileCurrent(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)
	hiddenStateID := int64(4)
	ms.MockCatalog().AddState(&store.State{
		ID: hiddenStateID, WorkflowID: wfID, Name: "triage", OrderID: 4, IsHidden: true,
		ParticipantTypeID: store.ParticipantPersonal, Participant: "bob",
	})

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

	steps, err := svc.FlowSteps(ctx, id)
	if err != nil {
		t.Fatalf("flow steps failed: %v", err)
	}
	for _, step := range steps {
		if step.StateID == hiddenStateID {
			t.Fatal("hidden state listed while the ticket sits elsewhere")
		}
	}

	if err := svc.UpdateTicketState(ctx, id, hiddenStateID, "admin"); err != nil {
		t.Fatalf("forced update failed: %v", err)
	}
	steps, err = svc.FlowSteps(ctx, id)
	if err != nil {
		t.Fatalf("flow steps failed: %v", err)
	}
	found := false
	for _, step := range steps {
		if step.StateID == hiddenStateID {
			found = true
			if !step.IsCurrent {
				t.Error("hidden current step not marked current")
			}
		}
	}
	if !found {
		t.Error("hidden state missing while the ticket sits in it")
	}
}
