package store

import (
	"context"
	"time"
)

// Pagination holds common pagination parameters.
type Pagination struct {
	Offset int
	Limit  int
}

// DefaultPagination returns a Pagination with sensible defaults.
func DefaultPagination() Pagination {
	return Pagination{Offset: 0, Limit: 10}
}

// --- Ticket ---

// TicketFilter specifies criteria for counting and listing tickets.
// Duty* fields implement the "tickets waiting on me" category: a ticket
// matches when its current participant is the username (Personal), a set
// containing the username (Multi), or one of the given dept/role ids.
type TicketFilter struct {
	SN            string
	TitleContains string
	Creator       string
	CreateStart   *time.Time
	CreateEnd     *time.Time
	WorkflowIDs   []int64

	DutyUsername string
	DutyDeptIDs  []int64
	DutyRoleIDs  []int64

	RelationUsername string

	Reverse    bool // true orders newest first
	Pagination Pagination
}

// TransitionUpdate carries every write of one ticket transition. Stores
// apply it in a single transaction: header update, field upserts and the
// flow log append commit together or not at all. When FromStateID is
// non-zero the header row is locked and must still sit in that state,
// otherwise the store returns ErrConflict.
type TransitionUpdate struct {
	TicketID          int64
	FromStateID       int64
	ToStateID         int64
	ParticipantTypeID ParticipantKind
	Participant       string
	Relation          string
	Fields            []*FieldValue
	Entry             *FlowEntry
}

// TicketStore defines persistence operations for ticket headers.
type TicketStore interface {
	// Create inserts the header, its field rows and the creation flow
	// entry in one transaction, assigning t.ID and entry IDs.
	Create(ctx context.Context, t *Ticket, fields []*FieldValue, entry *FlowEntry) error
	Get(ctx context.Context, id int64) (*Ticket, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*Ticket, error)
	Count(ctx context.Context, f TicketFilter) (int, error)
	List(ctx context.Context, f TicketFilter) ([]*Ticket, error)
	ApplyTransition(ctx context.Context, u *TransitionUpdate) error
	SoftDelete(ctx context.Context, id int64) error
	// CountCreatedBetween counts headers created in [start, end),
	// including soft-deleted rows. Serial number seeding depends on
	// deleted tickets still occupying their slot.
	CountCreatedBetween(ctx context.Context, start, end time.Time) (int, error)
	// CountByCreatorSince counts live tickets by creator in a workflow
	// created at or after since.
	CountByCreatorSince(ctx context.Context, creator string, workflowID int64, since time.Time) (int, error)
}

// --- Custom field values ---

// FieldValueStore defines read operations for ticket custom field rows.
// Writes always travel inside TicketStore transactions.
type FieldValueStore interface {
	// Get returns the row for (ticketID, fieldKey) or ErrNotFound.
	Get(ctx context.Context, ticketID int64, fieldKey string) (*FieldValue, error)
	ListForTicket(ctx context.Context, ticketID int64) ([]*FieldValue, error)
}

// --- Flow log ---

// FlowLogStore defines read operations for the append-only flow log.
type FlowLogStore interface {
	CountForTicket(ctx context.Context, ticketID int64) (int, error)
	// ListForTicket returns a page of entries, newest first.
	ListForTicket(ctx context.Context, ticketID int64, p Pagination) ([]*FlowEntry, error)
	// AllForTicket returns every entry in insertion order.
	AllForTicket(ctx context.Context, ticketID int64) ([]*FlowEntry, error)
}

// --- Workflow catalog ---

// Catalog serves workflow definitions: the state graph, the transition
// edges and the custom field schema.
type Catalog interface {
	WorkflowByID(ctx context.Context, id int64) (*Workflow, error)
	StateByID(ctx context.Context, id int64) (*State, error)
	// StartState returns the workflow's entry state, the live state with
	// the lowest order_id.
	StartState(ctx context.Context, workflowID int64) (*State, error)
	// WorkflowStates returns all live states ordered by order_id.
	WorkflowStates(ctx context.Context, workflowID int64) ([]*State, error)
	StatesByIDs(ctx context.Context, ids []int64) (map[int64]*State, error)
	// StateTransitions returns the outgoing transitions of a state
	// ordered by order_id then id.
	StateTransitions(ctx context.Context, stateID int64) ([]*Transition, error)
	TransitionByID(ctx context.Context, id int64) (*Transition, error)
	// FieldSchema returns the workflow's custom fields ordered by
	// order_id then field_key.
	FieldSchema(ctx context.Context, workflowID int64) ([]*CustomField, error)
	// CheckNewPermission reports whether username may open a ticket on
	// the workflow, per the workflow's limit expression.
	CheckNewPermission(ctx context.Context, username string, workflowID int64) (bool, error)
}

// --- Directory ---

// Directory answers organizational lookups: users, department chains,
// roles and approvers.
type Directory interface {
	UserByName(ctx context.Context, username string) (*User, error)
	// UpDeptIDs returns the user's department id followed by its
	// ancestors, nearest first.
	UpDeptIDs(ctx context.Context, username string) ([]int64, error)
	RoleIDs(ctx context.Context, username string) ([]int64, error)
	DeptUsernames(ctx context.Context, deptID int64) ([]string, error)
	RoleUsernames(ctx context.Context, roleID int64) ([]string, error)
	// DeptApprover returns the approver set of the user's department,
	// walking up the parent chain while the approver is empty.
	DeptApprover(ctx context.Context, username string) (string, error)
}

// Stores bundles every store behind one storage backend.
type Stores interface {
	Tickets() TicketStore
	Fields() FieldValueStore
	FlowLogs() FlowLogStore
	Catalog() Catalog
	Directory() Directory
	Close()
}
