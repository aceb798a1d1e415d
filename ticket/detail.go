package ticket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/loonworks/loonflow/store"
)

// DetailField is one field of a ticket detail with its access attribute
// in the caller's view.
type DetailField struct {
	FieldKey       string               `json:"field_key"`
	FieldName      string               `json:"field_name"`
	FieldValue     any                  `json:"field_value"`
	OrderID        int                  `json:"order_id"`
	FieldTypeID    store.FieldType      `json:"field_type_id"`
	FieldAttribute store.FieldAttribute `json:"field_attribute"`
	FieldChoice    string               `json:"field_choice,omitempty"`
}

// Detail is the full view of one ticket.
type Detail struct {
	ID                int64                 `json:"id"`
	SN                string                `json:"sn"`
	Title             string                `json:"title"`
	StateID           int64                 `json:"state_id"`
	StateName         string                `json:"state_name"`
	ParentTicketID    int64                 `json:"parent_ticket_id"`
	Participant       string                `json:"participant"`
	ParticipantTypeID store.ParticipantKind `json:"participant_type_id"`
	WorkflowID        int64                 `json:"workflow_id"`
	Creator           string                `json:"creator"`
	GmtCreated        time.Time             `json:"gmt_created"`
	GmtModified       time.Time             `json:"gmt_modified"`
	FieldList         []DetailField         `json:"field_list"`
}

// GetTicketDetail returns the ticket with the field list the caller may
// see. Handlers see the current state's fields with their attributes;
// viewers see the workflow's display form read-only. Header fields are
// always included read-only.
func (s *Service) GetTicketDetail(ctx context.Context, ticketID int64, username string) (*Detail, error) {
	if ticketID == 0 || username == "" {
		return nil, fmt.Errorf("%w: ticket_id and username are required", ErrBadArgument)
	}

	t, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	// Handle permission wins: it exposes the live state's field map.
	// Fall back to the read-only display form for viewers.
	var visible map[string]store.FieldAttribute
	handleErr := s.HandlePermission(ctx, t, username)
	switch {
	case handleErr == nil:
		state, err := s.stateByID(ctx, t.StateID)
		if err != nil {
			return nil, err
		}
		visible = state.Fields
	case errors.Is(handleErr, ErrPermissionDenied), errors.Is(handleErr, ErrValidation):
		if err := s.ViewPermission(ctx, t, username); err != nil {
			return nil, err
		}
		wf, err := s.stores.Catalog().WorkflowByID(ctx, t.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("%w: load workflow %d: %v", ErrUpstream, t.WorkflowID, err)
		}
		visible = make(map[string]store.FieldAttribute, len(wf.DisplayFormFields))
		for _, key := range wf.DisplayFormFields {
			visible[key] = store.FieldReadOnly
		}
	default:
		return nil, handleErr
	}

	schema, _, err := s.fieldSchema(ctx, t.WorkflowID)
	if err != nil {
		return nil, err
	}
	rows, err := s.stores.Fields().ListForTicket(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: fields of ticket %d: %v", ErrUpstream, t.ID, err)
	}
	rowByKey := make(map[string]*store.FieldValue, len(rows))
	for _, fv := range rows {
		rowByKey[fv.FieldKey] = fv
	}

	fieldList := make([]DetailField, 0, len(schema)+len(baseFieldOrder))
	for key, orderID := range baseFieldOrder {
		value, _ := baseField(t, key)
		fieldList = append(fieldList, DetailField{
			FieldKey:       key,
			FieldName:      key,
			FieldValue:     value,
			OrderID:        orderID,
			FieldTypeID:    store.FieldTypeStr,
			FieldAttribute: store.FieldReadOnly,
		})
	}
	for _, cf := range schema {
		attr, ok := visible[cf.FieldKey]
		if !ok {
			continue
		}
		var value any
		if fv, ok := rowByKey[cf.FieldKey]; ok {
			value = decodeFieldValue(cf, fv)
		}
		fieldList = append(fieldList, DetailField{
			FieldKey:       cf.FieldKey,
			FieldName:      cf.FieldName,
			FieldValue:     value,
			OrderID:        cf.OrderID,
			FieldTypeID:    cf.FieldTypeID,
			FieldAttribute: attr,
			FieldChoice:    cf.FieldChoice,
		})
	}
	sort.SliceStable(fieldList, func(i, j int) bool {
		if fieldList[i].OrderID != fieldList[j].OrderID {
			return fieldList[i].OrderID < fieldList[j].OrderID
		}
		return fieldList[i].FieldKey < fieldList[j].FieldKey
	})

	stateName := ""
	if st, err := s.stores.Catalog().StateByID(ctx, t.StateID); err == nil {
		stateName = st.Name
	}

	return &Detail{
		ID:                t.ID,
		SN:                t.SN,
		Title:             t.Title,
		StateID:           t.StateID,
		StateName:         stateName,
		ParentTicketID:    t.ParentTicketID,
		Participant:       t.Participant,
		ParticipantTypeID: t.ParticipantTypeID,
		WorkflowID:        t.WorkflowID,
		Creator:           t.Creator,
		GmtCreated:        t.GmtCreated,
		GmtModified:       t.GmtModified,
		FieldList:         fieldList,
	}, nil
}
