package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loonworks/loonflow/store"
)

// List categories.
const (
	CategoryAll      = "all"      // every live ticket
	CategoryOwner    = "owner"    // tickets the user created
	CategoryDuty     = "duty"     // tickets waiting on the user
	CategoryRelation = "relation" // tickets the user is related to
)

const defaultPerPage = 10

// ListRequest filters and paginates a ticket listing.
type ListRequest struct {
	SN            string
	TitleContains string
	CreateStart   *time.Time
	CreateEnd     *time.Time
	Username      string
	Category      string
	Reverse       bool
	Page          int
	PerPage       int
}

// ListResult is one page of tickets. Page is the served page after
// clamping into [1, last].
type ListResult struct {
	Items   []*store.Ticket `json:"items"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

// ListTickets returns a page of live tickets matching the request. The
// duty category matches tickets whose current participant is the user
// directly, a set containing the user, or one of the user's departments
// or roles.
func (s *Service) ListTickets(ctx context.Context, req ListRequest) (*ListResult, error) {
	filter := store.TicketFilter{
		SN:            req.SN,
		TitleContains: req.TitleContains,
		CreateStart:   req.CreateStart,
		CreateEnd:     req.CreateEnd,
		Reverse:       req.Reverse,
	}

	switch req.Category {
	case CategoryAll, "":
	case CategoryOwner:
		if req.Username == "" {
			return nil, fmt.Errorf("%w: category %s needs a username", ErrBadArgument, req.Category)
		}
		filter.Creator = req.Username
	case CategoryDuty:
		if req.Username == "" {
			return nil, fmt.Errorf("%w: category %s needs a username", ErrBadArgument, req.Category)
		}
		deptIDs, err := s.stores.Directory().UpDeptIDs(ctx, req.Username)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: dept chain of %s: %v", ErrUpstream, req.Username, err)
		}
		roleIDs, err := s.stores.Directory().RoleIDs(ctx, req.Username)
		if err != nil {
			return nil, fmt.Errorf("%w: roles of %s: %v", ErrUpstream, req.Username, err)
		}
		filter.DutyUsername = req.Username
		filter.DutyDeptIDs = deptIDs
		filter.DutyRoleIDs = roleIDs
	case CategoryRelation:
		if req.Username == "" {
			return nil, fmt.Errorf("%w: category %s needs a username", ErrBadArgument, req.Category)
		}
		filter.RelationUsername = req.Username
	default:
		return nil, fmt.Errorf("%w: unknown category %q", ErrBadArgument, req.Category)
	}

	total, err := s.stores.Tickets().Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: count tickets: %v", ErrUpstream, err)
	}

	perPage := req.PerPage
	if perPage < 1 {
		perPage = defaultPerPage
	}
	page := clampPage(req.Page, total, perPage)
	filter.Pagination = store.Pagination{Offset: (page - 1) * perPage, Limit: perPage}

	items, err := s.stores.Tickets().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list tickets: %v", ErrUpstream, err)
	}
	if items == nil {
		items = []*store.Ticket{}
	}
	return &ListResult{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// clampPage forces page into [1, last] where last covers total rows.
func clampPage(page, total, perPage int) int {
	last := (total + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	if page < 1 {
		return 1
	}
	if page > last {
		return last
	}
	return page
}

// StateInfo is the current-state summary of a ticket.
type StateInfo struct {
	StateID   int64  `json:"state_id"`
	StateName string `json:"state_name"`
}

// StatesOf returns the current state of each live ticket in ids, keyed
// by ticket id. Unknown or deleted tickets are omitted.
func (s *Service) StatesOf(ctx context.Context, ids []int64) (map[int64]StateInfo, error) {
	tickets, err := s.stores.Tickets().GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load tickets: %v", ErrUpstream, err)
	}

	stateIDs := make([]int64, 0, len(tickets))
	seen := make(map[int64]bool, len(tickets))
	for _, t := range tickets {
		if !seen[t.StateID] {
			seen[t.StateID] = true
			stateIDs = append(stateIDs, t.StateID)
		}
	}
	states, err := s.stores.Catalog().StatesByIDs(ctx, stateIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: load states: %v", ErrUpstream, err)
	}

	out := make(map[int64]StateInfo, len(tickets))
	for _, t := range tickets {
		info := StateInfo{StateID: t.StateID}
		if st, ok := states[t.StateID]; ok {
			info.StateName = st.Name
		}
		out[t.ID] = info
	}
	return out, nil
}
