package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loonworks/loonflow/store"
)

// FlowLogEntry is one audit record decorated with catalog names. The
// transition name is empty for forced state changes (transition id 0).
type FlowLogEntry struct {
	ID                int64                 `json:"id"`
	TicketID          int64                 `json:"ticket_id"`
	StateID           int64                 `json:"state_id"`
	StateName         string                `json:"state_name"`
	TransitionID      int64                 `json:"transition_id"`
	TransitionName    string                `json:"transition_name"`
	ParticipantTypeID store.ParticipantKind `json:"participant_type_id"`
	Participant       string                `json:"participant"`
	Suggestion        string                `json:"suggestion"`
	GmtCreated        time.Time             `json:"gmt_created"`
}

// FlowLogResult is one page of flow log entries, newest first.
type FlowLogResult struct {
	Items   []FlowLogEntry `json:"items"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

// FlowLogs returns a page of the ticket's audit trail, newest first,
// with state and transition names resolved.
func (s *Service) FlowLogs(ctx context.Context, ticketID int64, page, perPage int) (*FlowLogResult, error) {
	if _, err := s.getTicket(ctx, ticketID); err != nil {
		return nil, err
	}

	total, err := s.stores.FlowLogs().CountForTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("%w: count flow log of ticket %d: %v", ErrUpstream, ticketID, err)
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	page = clampPage(page, total, perPage)

	entries, err := s.stores.FlowLogs().ListForTicket(ctx, ticketID, store.Pagination{
		Offset: (page - 1) * perPage,
		Limit:  perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list flow log of ticket %d: %v", ErrUpstream, ticketID, err)
	}

	items, err := s.decorateEntries(ctx, entries)
	if err != nil {
		return nil, err
	}
	return &FlowLogResult{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// decorateEntries joins flow entries against the catalog for state and
// transition names.
func (s *Service) decorateEntries(ctx context.Context, entries []*store.FlowEntry) ([]FlowLogEntry, error) {
	stateIDs := make([]int64, 0, len(entries))
	seenStates := make(map[int64]bool)
	for _, e := range entries {
		if !seenStates[e.StateID] {
			seenStates[e.StateID] = true
			stateIDs = append(stateIDs, e.StateID)
		}
	}
	states, err := s.stores.Catalog().StatesByIDs(ctx, stateIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: load states: %v", ErrUpstream, err)
	}

	transitionNames := make(map[int64]string)
	items := make([]FlowLogEntry, 0, len(entries))
	for _, e := range entries {
		item := FlowLogEntry{
			ID:                e.ID,
			TicketID:          e.TicketID,
			StateID:           e.StateID,
			TransitionID:      e.TransitionID,
			ParticipantTypeID: e.ParticipantTypeID,
			Participant:       e.Participant,
			Suggestion:        e.Suggestion,
			GmtCreated:        e.GmtCreated,
		}
		if st, ok := states[e.StateID]; ok {
			item.StateName = st.Name
		}
		if e.TransitionID != 0 {
			name, ok := transitionNames[e.TransitionID]
			if !ok {
				tr, err := s.stores.Catalog().TransitionByID(ctx, e.TransitionID)
				switch {
				case err == nil:
					name = tr.Name
				case errors.Is(err, store.ErrNotFound):
					name = ""
				default:
					return nil, fmt.Errorf("%w: load transition %d: %v", ErrUpstream, e.TransitionID, err)
				}
				transitionNames[e.TransitionID] = name
			}
			item.TransitionName = name
		}
		items = append(items, item)
	}
	return items, nil
}

// FlowStep is one state of the linear step diagram, annotated with the
// flow entries recorded while the ticket sat in it.
type FlowStep struct {
	StateID   int64          `json:"state_id"`
	StateName string         `json:"state_name"`
	OrderID   int            `json:"order_id"`
	IsCurrent bool           `json:"is_current"`
	Entries   []FlowLogEntry `json:"entries"`
}

// FlowSteps returns the ordered visible states of the ticket's workflow,
// each with its flow entries ascending by id. A hidden state stays
// visible while the ticket sits in it.
func (s *Service) FlowSteps(ctx context.Context, ticketID int64) ([]FlowStep, error) {
	t, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	states, err := s.stores.Catalog().WorkflowStates(ctx, t.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: states of workflow %d: %v", ErrUpstream, t.WorkflowID, err)
	}
	entries, err := s.stores.FlowLogs().AllForTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("%w: flow log of ticket %d: %v", ErrUpstream, ticketID, err)
	}
	decorated, err := s.decorateEntries(ctx, entries)
	if err != nil {
		return nil, err
	}
	byState := make(map[int64][]FlowLogEntry)
	for _, item := range decorated {
		byState[item.StateID] = append(byState[item.StateID], item)
	}

	steps := make([]FlowStep, 0, len(states))
	for _, st := range states {
		if st.IsHidden && st.ID != t.StateID {
			continue
		}
		stepEntries := byState[st.ID]
		if stepEntries == nil {
			stepEntries = []FlowLogEntry{}
		}
		steps = append(steps, FlowStep{
			StateID:   st.ID,
			StateName: st.Name,
			OrderID:   st.OrderID,
			IsCurrent: st.ID == t.StateID,
			Entries:   stepEntries,
		})
	}
	return steps, nil
}
