package ticket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/loonworks/loonflow/store"
)

// CreateRequest carries the inputs of a ticket creation. TransitionID
// must be an outgoing transition of the workflow's start state.
type CreateRequest struct {
	WorkflowID          int64          `json:"workflow_id"`
	TransitionID        int64          `json:"transition_id"`
	Username            string         `json:"username"`
	Title               string         `json:"title"`
	Suggestion          string         `json:"suggestion"`
	ParentTicketID      int64          `json:"parent_ticket_id"`
	ParentTicketStateID int64          `json:"parent_ticket_state_id"`
	Fields              map[string]any `json:"fields"`
}

// HandleRequest carries the inputs of a ticket transition.
type HandleRequest struct {
	TicketID     int64          `json:"ticket_id"`
	TransitionID int64          `json:"transition_id"`
	Username     string         `json:"username"`
	Suggestion   string         `json:"suggestion"`
	Fields       map[string]any `json:"fields"`
}

// CreateTicket opens a new ticket: it validates the start state's
// required fields, follows the chosen initial transition, resolves the
// destination participant, allocates a serial number and commits the
// header, field values and creation flow entry in one transaction.
func (s *Service) CreateTicket(ctx context.Context, req CreateRequest) (int64, error) {
	id, err := s.createTicket(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordCreation(req.WorkflowID, status)
	return id, err
}

func (s *Service) createTicket(ctx context.Context, req CreateRequest) (int64, error) {
	if req.WorkflowID == 0 || req.TransitionID == 0 || req.Username == "" {
		return 0, fmt.Errorf("%w: workflow_id, transition_id and username are required", ErrBadArgument)
	}

	allowed, err := s.stores.Catalog().CheckNewPermission(ctx, req.Username, req.WorkflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: workflow %d", ErrNotFound, req.WorkflowID)
		}
		return 0, fmt.Errorf("%w: check new permission: %v", ErrUpstream, err)
	}
	if !allowed {
		return 0, fmt.Errorf("%w: %s may not open tickets on workflow %d", ErrPermissionDenied, req.Username, req.WorkflowID)
	}

	start, err := s.stores.Catalog().StartState(ctx, req.WorkflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: workflow %d has no start state", ErrNotFound, req.WorkflowID)
		}
		return 0, fmt.Errorf("%w: start state of workflow %d: %v", ErrUpstream, req.WorkflowID, err)
	}

	schema, byKey, err := s.fieldSchema(ctx, req.WorkflowID)
	if err != nil {
		return 0, err
	}

	provided := providedKeys(req.Fields, req.Title)
	if err := validateRequired(start.Fields, schema, provided); err != nil {
		return 0, err
	}

	chosen, err := s.chooseTransition(ctx, start.ID, req.TransitionID)
	if err != nil {
		return 0, err
	}

	dest, err := s.stateByID(ctx, chosen.DestinationStateID)
	if err != nil {
		return 0, err
	}

	// Resolution sees the ticket as it will look after this request's
	// writes land, so a submitted field can name the first handler.
	writable := filterWritable(start.Fields, req.Fields)
	res, err := s.resolveParticipant(ctx, dest.ParticipantTypeID, dest.Participant, resolveInput{
		actingUser:  req.Username,
		selfField:   s.requestFieldLookup(byKey, writable),
		parentField: s.parentFieldLookup(req.ParentTicketID),
	})
	if err != nil {
		return 0, err
	}

	sn, err := s.sn.Allocate(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordSNAllocation()

	fields, err := s.encodeFields(byKey, writable)
	if err != nil {
		return 0, err
	}

	t := &store.Ticket{
		SN:                  sn,
		Title:               req.Title,
		WorkflowID:          req.WorkflowID,
		StateID:             dest.ID,
		ParentTicketID:      req.ParentTicketID,
		ParentTicketStateID: req.ParentTicketStateID,
		ParticipantTypeID:   res.kind,
		Participant:         res.value,
		Creator:             req.Username,
		Relation:            store.JoinSet(store.MergeSets([]string{req.Username}, res.relationAdd)),
	}
	entry := &store.FlowEntry{
		StateID:           start.ID,
		TransitionID:      chosen.ID,
		ParticipantTypeID: store.ParticipantPersonal,
		Participant:       req.Username,
		Suggestion:        req.Suggestion,
	}

	if err := s.stores.Tickets().Create(ctx, t, fields, entry); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return 0, fmt.Errorf("%w: duplicate sn %s", ErrInvariant, sn)
		}
		return 0, fmt.Errorf("%w: create ticket: %v", ErrUpstream, err)
	}

	s.logger.Info("ticket created",
		"ticket_id", t.ID, "sn", sn, "workflow_id", req.WorkflowID,
		"state_id", dest.ID, "creator", req.Username)

	s.fireRobotHook(ctx, t, dest, res)
	return t.ID, nil
}

// HandleTicket applies one transition to a ticket: it checks handle
// permission, validates the source state's required fields, resolves the
// destination participant, merges the relation set and commits the
// header update, field upserts and flow entry in one transaction.
// Writers are serialized per ticket.
func (s *Service) HandleTicket(ctx context.Context, req HandleRequest) error {
	var workflowID int64
	err := s.handleTicket(ctx, req, &workflowID)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordTransition(workflowID, "handle", status)
	return err
}

func (s *Service) handleTicket(ctx context.Context, req HandleRequest, workflowID *int64) error {
	if req.TicketID == 0 || req.TransitionID == 0 || req.Username == "" {
		return fmt.Errorf("%w: ticket_id, transition_id and username are required", ErrBadArgument)
	}

	unlock := s.locks.lock(req.TicketID)
	defer unlock()

	t, err := s.getTicket(ctx, req.TicketID)
	if err != nil {
		return err
	}
	*workflowID = t.WorkflowID
	sourceStateID := t.StateID

	if err := s.HandlePermission(ctx, t, req.Username); err != nil {
		return err
	}

	state, err := s.stateByID(ctx, sourceStateID)
	if err != nil {
		return err
	}
	schema, byKey, err := s.fieldSchema(ctx, t.WorkflowID)
	if err != nil {
		return err
	}
	if err := validateRequired(state.Fields, schema, providedKeys(req.Fields, "")); err != nil {
		return err
	}

	chosen, err := s.chooseTransition(ctx, sourceStateID, req.TransitionID)
	if err != nil {
		return err
	}
	dest, err := s.stateByID(ctx, chosen.DestinationStateID)
	if err != nil {
		return err
	}

	// Field participants see the writable request values first so a
	// field written by this very transition can name the next handler.
	writable := filterWritable(state.Fields, req.Fields)
	res, err := s.resolveParticipant(ctx, dest.ParticipantTypeID, dest.Participant, resolveInput{
		actingUser:  req.Username,
		selfField:   s.layeredFieldLookup(byKey, writable, t),
		parentField: s.parentFieldLookup(t.ParentTicketID),
	})
	if err != nil {
		return err
	}

	fields, err := s.encodeFields(byKey, writable)
	if err != nil {
		return err
	}

	update := &store.TransitionUpdate{
		TicketID:          t.ID,
		FromStateID:       sourceStateID,
		ToStateID:         dest.ID,
		ParticipantTypeID: res.kind,
		Participant:       res.value,
		Relation:          store.JoinSet(store.MergeSets(t.RelationSet(), res.relationAdd)),
		Fields:            fields,
		Entry: &store.FlowEntry{
			StateID:           sourceStateID,
			TransitionID:      chosen.ID,
			ParticipantTypeID: store.ParticipantPersonal,
			Participant:       req.Username,
			Suggestion:        req.Suggestion,
		},
	}

	if err := s.stores.Tickets().ApplyTransition(ctx, update); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return fmt.Errorf("%w: ticket %d was handled concurrently, reload and retry", ErrValidation, t.ID)
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: ticket %d", ErrNotFound, t.ID)
		}
		return fmt.Errorf("%w: apply transition: %v", ErrUpstream, err)
	}

	s.logger.Info("ticket handled",
		"ticket_id", t.ID, "sn", t.SN, "transition_id", chosen.ID,
		"from_state", sourceStateID, "to_state", dest.ID, "username", req.Username)

	t.StateID = dest.ID
	s.fireRobotHook(ctx, t, dest, res)
	return nil
}

// UpdateTicketState is the administrative escape hatch: it moves a
// ticket to any state of its own workflow without following a
// transition, copying the target state's participant verbatim. The flow
// entry carries transition id 0.
func (s *Service) UpdateTicketState(ctx context.Context, ticketID, stateID int64, username string) error {
	if ticketID == 0 || stateID == 0 || username == "" {
		return fmt.Errorf("%w: ticket_id, state_id and username are required", ErrBadArgument)
	}

	unlock := s.locks.lock(ticketID)
	defer unlock()

	t, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	state, err := s.stateByID(ctx, stateID)
	if err != nil {
		return err
	}
	if state.WorkflowID != t.WorkflowID {
		return fmt.Errorf("%w: state %d does not belong to workflow %d", ErrValidation, stateID, t.WorkflowID)
	}
	// No resolution happens here, so a deferred target kind could never
	// be narrowed and must be rejected.
	if !state.ParticipantTypeID.Concrete() {
		return fmt.Errorf("%w: state %d carries deferred participant kind %s",
			ErrValidation, stateID, state.ParticipantTypeID)
	}

	relation := t.RelationSet()
	switch state.ParticipantTypeID {
	case store.ParticipantPersonal, store.ParticipantMulti:
		relation = store.MergeSets(relation, store.SplitSet(state.Participant))
	}

	update := &store.TransitionUpdate{
		TicketID:          t.ID,
		FromStateID:       t.StateID,
		ToStateID:         state.ID,
		ParticipantTypeID: state.ParticipantTypeID,
		Participant:       state.Participant,
		Relation:          store.JoinSet(relation),
		Entry: &store.FlowEntry{
			StateID:           t.StateID,
			TransitionID:      0,
			ParticipantTypeID: store.ParticipantPersonal,
			Participant:       username,
			Suggestion:        "forced state change",
		},
	}

	if err := s.stores.Tickets().ApplyTransition(ctx, update); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return fmt.Errorf("%w: ticket %d was handled concurrently, reload and retry", ErrValidation, t.ID)
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: ticket %d", ErrNotFound, t.ID)
		}
		return fmt.Errorf("%w: apply forced update: %v", ErrUpstream, err)
	}

	s.metrics.RecordTransition(t.WorkflowID, "forced", "ok")
	s.logger.Info("ticket state forced",
		"ticket_id", t.ID, "sn", t.SN, "state_id", stateID, "username", username)
	return nil
}

// DeleteTicket soft-deletes a ticket. Only the creator may delete.
func (s *Service) DeleteTicket(ctx context.Context, ticketID int64, username string) error {
	if ticketID == 0 || username == "" {
		return fmt.Errorf("%w: ticket_id and username are required", ErrBadArgument)
	}
	t, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Creator != username {
		return fmt.Errorf("%w: only the creator may delete ticket %d", ErrPermissionDenied, ticketID)
	}
	if err := s.stores.Tickets().SoftDelete(ctx, ticketID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: ticket %d", ErrNotFound, ticketID)
		}
		return fmt.Errorf("%w: delete ticket %d: %v", ErrUpstream, ticketID, err)
	}
	s.logger.Info("ticket deleted", "ticket_id", ticketID, "username", username)
	return nil
}

// chooseTransition validates that transitionID is an outgoing transition
// of the state and returns it.
func (s *Service) chooseTransition(ctx context.Context, stateID, transitionID int64) (*store.Transition, error) {
	transitions, err := s.stores.Catalog().StateTransitions(ctx, stateID)
	if err != nil {
		return nil, fmt.Errorf("%w: transitions of state %d: %v", ErrUpstream, stateID, err)
	}
	for _, tr := range transitions {
		if tr.ID == transitionID {
			return tr, nil
		}
	}
	return nil, fmt.Errorf("%w: transition %d is not available from state %d", ErrValidation, transitionID, stateID)
}

// providedKeys collects the field keys a request supplies. A non-empty
// title argument counts as the title field.
func providedKeys(fields map[string]any, title string) map[string]bool {
	keys := make(map[string]bool, len(fields)+1)
	for k := range fields {
		keys[k] = true
	}
	if title != "" {
		keys["title"] = true
	}
	return keys
}

// validateRequired checks every required field of the state against the
// provided keys and reports all missing ones in schema order.
func validateRequired(stateFields map[string]store.FieldAttribute, schema []*store.CustomField, provided map[string]bool) error {
	required := make(map[string]bool)
	for key, attr := range stateFields {
		if attr == store.FieldRequired && !provided[key] {
			required[key] = true
		}
	}
	if len(required) == 0 {
		return nil
	}

	missing := make([]string, 0, len(required))
	for _, cf := range schema {
		if required[cf.FieldKey] {
			missing = append(missing, cf.FieldKey)
			delete(required, cf.FieldKey)
		}
	}
	// Required header fields such as title have no schema entry.
	rest := make([]string, 0, len(required))
	for key := range required {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	missing = append(missing, rest...)

	return fmt.Errorf("%w: required fields missing: %s", ErrValidation, strings.Join(missing, ", "))
}

// filterWritable keeps the request values whose keys the state allows
// writes on. Read-only keys never accept writes.
func filterWritable(stateFields map[string]store.FieldAttribute, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, raw := range values {
		if attr, ok := stateFields[key]; ok && attr.Writable() {
			out[key] = raw
		}
	}
	return out
}

// encodeFields encodes writable request values into typed field rows.
// Keys outside the workflow schema are skipped and logged.
func (s *Service) encodeFields(byKey map[string]*store.CustomField, values map[string]any) ([]*store.FieldValue, error) {
	var out []*store.FieldValue
	for key, raw := range values {
		cf, ok := byKey[key]
		if !ok {
			s.logger.Warn("skipping field not in workflow schema", "field_key", key)
			continue
		}
		fv, err := encodeFieldValue(cf, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, fv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldKey < out[j].FieldKey })
	return out, nil
}

// requestFieldLookup resolves field participants against the values a
// create request supplies, since the ticket rows do not exist yet.
func (s *Service) requestFieldLookup(byKey map[string]*store.CustomField, values map[string]any) fieldLookup {
	return func(_ context.Context, key string) (string, error) {
		raw, ok := values[key]
		if !ok {
			return "", nil
		}
		if cf, ok := byKey[key]; ok {
			fv, err := encodeFieldValue(cf, raw)
			if err != nil {
				return "", err
			}
			return fieldValueString(cf, fv), nil
		}
		str, err := coerceString(raw)
		if err != nil {
			return "", fmt.Errorf("%w: field %s: %v", ErrBadArgument, key, err)
		}
		return str, nil
	}
}

// layeredFieldLookup reads a field from the request when provided, else
// from the ticket's stored values.
func (s *Service) layeredFieldLookup(byKey map[string]*store.CustomField, values map[string]any, t *store.Ticket) fieldLookup {
	fromRequest := s.requestFieldLookup(byKey, values)
	return func(ctx context.Context, key string) (string, error) {
		if _, ok := values[key]; ok {
			return fromRequest(ctx, key)
		}
		return s.storedFieldString(ctx, t, key)
	}
}

// parentFieldLookup reads fields of the parent ticket, or nil when the
// ticket has no parent.
func (s *Service) parentFieldLookup(parentTicketID int64) fieldLookup {
	if parentTicketID == 0 {
		return nil
	}
	return func(ctx context.Context, key string) (string, error) {
		parent, err := s.getTicket(ctx, parentTicketID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "", fmt.Errorf("%w: parent ticket %d not found", ErrResolution, parentTicketID)
			}
			return "", err
		}
		return s.storedFieldString(ctx, parent, key)
	}
}

// fireRobotHook emits the robot state event after a commit into a robot
// state. Hook failures are logged, never propagated.
func (s *Service) fireRobotHook(ctx context.Context, t *store.Ticket, dest *store.State, res resolved) {
	if res.kind != store.ParticipantRobot {
		return
	}
	event := newRobotStateEvent(t.ID, t.SN, dest.ID, res.value)
	if err := s.hooks.TicketEnteredRobotState(ctx, event); err != nil {
		s.logger.Error("robot state hook failed",
			"event_id", event.EventID, "ticket_id", t.ID, "error", err)
	}
}
