package ticket

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/loonworks/loonflow/store"
)

// HandlePermission reports whether username may take a transition from
// the ticket's current state. A nil error means allowed. A state with no
// outgoing transitions needs no action and denies everyone.
func (s *Service) HandlePermission(ctx context.Context, t *store.Ticket, username string) error {
	state, err := s.stateByID(ctx, t.StateID)
	if err != nil {
		return err
	}
	transitions, err := s.stores.Catalog().StateTransitions(ctx, state.ID)
	if err != nil {
		return fmt.Errorf("%w: transitions of state %d: %v", ErrUpstream, state.ID, err)
	}
	if len(transitions) == 0 {
		return fmt.Errorf("%w: current state needs no action", ErrValidation)
	}

	switch t.ParticipantTypeID {
	case store.ParticipantPersonal:
		if t.Participant == username {
			return nil
		}
	case store.ParticipantMulti:
		if store.ContainsToken(t.Participant, username) {
			return nil
		}
	case store.ParticipantDept:
		deptID, err := strconv.ParseInt(t.Participant, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: ticket %d dept participant %q is not an id", ErrInvariant, t.ID, t.Participant)
		}
		upIDs, err := s.stores.Directory().UpDeptIDs(ctx, username)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: user %s", ErrNotFound, username)
			}
			return fmt.Errorf("%w: dept chain of %s: %v", ErrUpstream, username, err)
		}
		for _, id := range upIDs {
			if id == deptID {
				return nil
			}
		}
	case store.ParticipantRole:
		roleID, err := strconv.ParseInt(t.Participant, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: ticket %d role participant %q is not an id", ErrInvariant, t.ID, t.Participant)
		}
		roleIDs, err := s.stores.Directory().RoleIDs(ctx, username)
		if err != nil {
			return fmt.Errorf("%w: roles of %s: %v", ErrUpstream, username, err)
		}
		for _, id := range roleIDs {
			if id == roleID {
				return nil
			}
		}
	case store.ParticipantRobot:
		// Robot states advance via the hook, never by a user.
	default:
		// Deferred kinds are resolved before being written; finding one
		// here means the header is corrupt.
		return fmt.Errorf("%w: ticket %d carries deferred participant kind %s",
			ErrInvariant, t.ID, t.ParticipantTypeID)
	}
	return fmt.Errorf("%w: %s is not a current handler of ticket %d", ErrPermissionDenied, username, t.ID)
}

// ViewPermission reports whether username may read the ticket's detail.
// Workflows without the view permission check are visible to everyone;
// otherwise only relation members may view.
func (s *Service) ViewPermission(ctx context.Context, t *store.Ticket, username string) error {
	wf, err := s.stores.Catalog().WorkflowByID(ctx, t.WorkflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: workflow %d", ErrNotFound, t.WorkflowID)
		}
		return fmt.Errorf("%w: load workflow %d: %v", ErrUpstream, t.WorkflowID, err)
	}
	if !wf.ViewPermissionCheck {
		return nil
	}
	if t.InRelation(username) {
		return nil
	}
	return fmt.Errorf("%w: %s is not related to ticket %d", ErrPermissionDenied, username, t.ID)
}

// TransitionOption is one action available on a ticket.
type TransitionOption struct {
	TransitionID   int64  `json:"transition_id"`
	TransitionName string `json:"transition_name"`
}

// Transitions returns the ordered transitions username may take on the
// ticket, or an empty list without handle permission.
func (s *Service) Transitions(ctx context.Context, ticketID int64, username string) ([]TransitionOption, error) {
	t, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.HandlePermission(ctx, t, username); err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrValidation) {
			return []TransitionOption{}, nil
		}
		return nil, err
	}
	transitions, err := s.stores.Catalog().StateTransitions(ctx, t.StateID)
	if err != nil {
		return nil, fmt.Errorf("%w: transitions of state %d: %v", ErrUpstream, t.StateID, err)
	}
	out := make([]TransitionOption, 0, len(transitions))
	for _, tr := range transitions {
		out = append(out, TransitionOption{TransitionID: tr.ID, TransitionName: tr.Name})
	}
	return out, nil
}
