package ticket

import (
	"context"
	"errors"
	"testing"

	"github.com/loonworks/loonflow/store"
)

// createDetailTicket opens a ticket sitting in the submitted state with
// alice on duty.
func createDetailTicket(t *testing.T, svc *Service) int64 {
	t.Helper()
	id, err := svc.CreateTicket(context.Background(), CreateRequest{
		WorkflowID:   wfID,
		Username:     "carol",
		Title:        "need access",
		TransitionID: submitTransitionID,
		Fields:       map[string]any{"reason": "vpn"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return id
}

func detailFieldMap(d *Detail) map[string]DetailField {
	out := make(map[string]DetailField, len(d.FieldList))
	for _, f := range d.FieldList {
		out[f.FieldKey] = f
	}
	return out
}

func TestDetailForHandler(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)
	id := createDetailTicket(t, svc)

	d, err := svc.GetTicketDetail(ctx, id, "alice")
	if err != nil {
		t.Fatalf("detail failed: %v", err)
	}
	if d.StateID != submittedStateID || d.StateName != "submitted" {
		t.Errorf("state = (%d, %s), want submitted", d.StateID, d.StateName)
	}

	fields := detailFieldMap(d)
	// The submitted state shows reason read-only and note writable.
	reason, ok := fields["reason"]
	if !ok || reason.FieldAttribute != store.FieldReadOnly || reason.FieldValue != "vpn" {
		t.Errorf("reason = %+v, want read-only vpn", reason)
	}
	note, ok := fields["note"]
	if !ok || note.FieldAttribute != store.FieldReadWrite {
		t.Errorf("note = %+v, want read-write", note)
	}
	if note.FieldValue != nil {
		t.Errorf("note value = %v, want nil while unset", note.FieldValue)
	}
	// reviewers is not on the submitted state's form.
	if _, ok := fields["reviewers"]; ok {
		t.Error("reviewers leaked into the handler view")
	}
	// Header fields ride along read-only.
	sn, ok := fields["sn"]
	if !ok || sn.FieldAttribute != store.FieldReadOnly || sn.FieldValue != d.SN {
		t.Errorf("sn = %+v, want read-only %s", sn, d.SN)
	}
	if d.FieldList[0].FieldKey != "sn" {
		t.Errorf("first field = %s, want sn", d.FieldList[0].FieldKey)
	}
}

func TestDetailForViewerUsesDisplayForm(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)
	id := createDetailTicket(t, svc)

	// bob is neither on duty nor the creator, and the workflow skips the
	// view check, so he sees the display form.
	d, err := svc.GetTicketDetail(ctx, id, "bob")
	if err != nil {
		t.Fatalf("detail failed: %v", err)
	}
	fields := detailFieldMap(d)
	reason, ok := fields["reason"]
	if !ok || reason.FieldAttribute != store.FieldReadOnly || reason.FieldValue != "vpn" {
		t.Errorf("reason = %+v, want read-only vpn", reason)
	}
	if _, ok := fields["note"]; ok {
		t.Error("note leaked into the viewer's display form")
	}
}

func TestDetailViewPermissionDenied(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)
	ms.MockCatalog().AddWorkflow(&store.Workflow{
		ID: wfID, Name: "approval", ViewPermissionCheck: true,
		DisplayFormFields: []string{"reason"},
	})
	id := createDetailTicket(t, svc)

	// The relation is carol (creator) and alice (first handler); bob is
	// outside it.
	if _, err := svc.GetTicketDetail(ctx, id, "bob"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
	if _, err := svc.GetTicketDetail(ctx, id, "carol"); err != nil {
		t.Errorf("creator denied: %v", err)
	}
}

func TestDetailUnknownTicket(t *testing.T) {
	ctx := context.Background()
	svc, ms := newTestService(t)
	seedApprovalWorkflow(t, ms)

	if _, err := svc.GetTicketDetail(ctx, 404, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
