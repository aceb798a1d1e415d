package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStores bundles in-memory implementations of every store interface
// for testing. The ticket store shares the field and flow log stores so
// transactional writes land where readers look.
type MockStores struct {
	tickets   *MockTicketStore
	fields    *MockFieldValueStore
	flowLogs  *MockFlowLogStore
	catalog   *MockCatalog
	directory *MockDirectory
}

// NewMockStores creates a wired MockStores bundle.
func NewMockStores() *MockStores {
	fields := NewMockFieldValueStore()
	flowLogs := NewMockFlowLogStore()
	tickets := NewMockTicketStore(fields, flowLogs)
	return &MockStores{
		tickets:   tickets,
		fields:    fields,
		flowLogs:  flowLogs,
		catalog:   NewMockCatalog(),
		directory: NewMockDirectory(),
	}
}

func (m *MockStores) Tickets() TicketStore    { return m.tickets }
func (m *MockStores) Fields() FieldValueStore { return m.fields }
func (m *MockStores) FlowLogs() FlowLogStore  { return m.flowLogs }
func (m *MockStores) Catalog() Catalog        { return m.catalog }
func (m *MockStores) Directory() Directory    { return m.directory }
func (m *MockStores) Close()                  {}

// MockTickets returns the concrete ticket store for test seeding.
func (m *MockStores) MockTickets() *MockTicketStore { return m.tickets }

// MockCatalog returns the concrete catalog for test seeding.
func (m *MockStores) MockCatalog() *MockCatalog { return m.catalog }

// MockDirectory returns the concrete directory for test seeding.
func (m *MockStores) MockDirectory() *MockDirectory { return m.directory }

// ---------------------------------------------------------------------------
// MockTicketStore
// ---------------------------------------------------------------------------

// MockTicketStore is an in-memory implementation of TicketStore for testing.
type MockTicketStore struct {
	mu       sync.Mutex
	tickets  map[int64]*Ticket
	nextID   int64
	fields   *MockFieldValueStore
	flowLogs *MockFlowLogStore
}

// NewMockTicketStore creates a MockTicketStore that writes field rows and
// flow entries into the given sibling stores.
func NewMockTicketStore(fields *MockFieldValueStore, flowLogs *MockFlowLogStore) *MockTicketStore {
	return &MockTicketStore{
		tickets:  make(map[int64]*Ticket),
		fields:   fields,
		flowLogs: flowLogs,
	}
}

func (s *MockTicketStore) Create(_ context.Context, t *Ticket, fields []*FieldValue, entry *FlowEntry) error {
	s.mu.Lock()
	for _, existing := range s.tickets {
		if existing.SN == t.SN {
			s.mu.Unlock()
			return fmt.Errorf("%w: ticket sn %s", ErrDuplicate, t.SN)
		}
	}
	s.nextID++
	t.ID = s.nextID
	now := time.Now()
	t.GmtCreated = now
	t.GmtModified = now
	cp := *t
	s.tickets[t.ID] = &cp
	s.mu.Unlock()

	for _, fv := range fields {
		fv.TicketID = t.ID
		s.fields.upsert(fv)
	}
	if entry != nil {
		entry.TicketID = t.ID
		s.flowLogs.append(entry)
	}
	return nil
}

func (s *MockTicketStore) Get(_ context.Context, id int64) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MockTicketStore) GetByIDs(_ context.Context, ids []int64) ([]*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Ticket
	for _, id := range ids {
		if t, ok := s.tickets[id]; ok && !t.IsDeleted {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MockTicketStore) Count(_ context.Context, f TicketFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filterLocked(f)), nil
}

func (s *MockTicketStore) List(_ context.Context, f TicketFilter) ([]*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := s.filterLocked(f)
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if f.Reverse {
			a, b = b, a
		}
		if !a.GmtCreated.Equal(b.GmtCreated) {
			return a.GmtCreated.Before(b.GmtCreated)
		}
		return a.ID < b.ID
	})
	p := f.Pagination
	if p.Limit <= 0 {
		p.Limit = DefaultPagination().Limit
	}
	return applyPagination(results, p), nil
}

func (s *MockTicketStore) filterLocked(f TicketFilter) []*Ticket {
	deptIDs := int64Strings(f.DutyDeptIDs)
	roleIDs := int64Strings(f.DutyRoleIDs)

	var results []*Ticket
	for _, t := range s.tickets {
		if t.IsDeleted {
			continue
		}
		if f.SN != "" && t.SN != f.SN {
			continue
		}
		if f.TitleContains != "" && !containsFold(t.Title, f.TitleContains) {
			continue
		}
		if f.Creator != "" && t.Creator != f.Creator {
			continue
		}
		if f.CreateStart != nil && t.GmtCreated.Before(*f.CreateStart) {
			continue
		}
		if f.CreateEnd != nil && t.GmtCreated.After(*f.CreateEnd) {
			continue
		}
		if len(f.WorkflowIDs) > 0 && !containsInt64(f.WorkflowIDs, t.WorkflowID) {
			continue
		}
		if f.DutyUsername != "" && !matchesDuty(t, f.DutyUsername, deptIDs, roleIDs) {
			continue
		}
		if f.RelationUsername != "" && !t.InRelation(f.RelationUsername) {
			continue
		}
		cp := *t
		results = append(results, &cp)
	}
	return results
}

func matchesDuty(t *Ticket, username string, deptIDs, roleIDs []string) bool {
	switch t.ParticipantTypeID {
	case ParticipantPersonal:
		return t.Participant == username
	case ParticipantMulti:
		return ContainsToken(t.Participant, username)
	case ParticipantDept:
		return containsString(deptIDs, t.Participant)
	case ParticipantRole:
		return containsString(roleIDs, t.Participant)
	}
	return false
}

func (s *MockTicketStore) ApplyTransition(_ context.Context, u *TransitionUpdate) error {
	s.mu.Lock()
	t, ok := s.tickets[u.TicketID]
	if !ok || t.IsDeleted {
		s.mu.Unlock()
		return fmt.Errorf("%w: ticket %d", ErrNotFound, u.TicketID)
	}
	if u.FromStateID != 0 && t.StateID != u.FromStateID {
		s.mu.Unlock()
		return fmt.Errorf("%w: ticket %d moved from state %d to %d",
			ErrConflict, u.TicketID, u.FromStateID, t.StateID)
	}
	t.StateID = u.ToStateID
	t.ParticipantTypeID = u.ParticipantTypeID
	t.Participant = u.Participant
	t.Relation = u.Relation
	t.GmtModified = time.Now()
	s.mu.Unlock()

	for _, fv := range u.Fields {
		fv.TicketID = u.TicketID
		s.fields.upsert(fv)
	}
	if u.Entry != nil {
		u.Entry.TicketID = u.TicketID
		s.flowLogs.append(u.Entry)
	}
	return nil
}

func (s *MockTicketStore) SoftDelete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.IsDeleted {
		return fmt.Errorf("%w: ticket %d", ErrNotFound, id)
	}
	t.IsDeleted = true
	t.GmtModified = time.Now()
	return nil
}

func (s *MockTicketStore) CountCreatedBetween(_ context.Context, start, end time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickets {
		// Deleted rows keep their serial slot.
		if !t.GmtCreated.Before(start) && t.GmtCreated.Before(end) {
			n++
		}
	}
	return n, nil
}

func (s *MockTicketStore) CountByCreatorSince(_ context.Context, creator string, workflowID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickets {
		if !t.IsDeleted && t.Creator == creator && t.WorkflowID == workflowID && !t.GmtCreated.Before(since) {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// MockFieldValueStore
// ---------------------------------------------------------------------------

type fieldKey struct {
	ticketID int64
	key      string
}

// MockFieldValueStore is an in-memory implementation of FieldValueStore
// for testing.
type MockFieldValueStore struct {
	mu     sync.Mutex
	values map[fieldKey]*FieldValue
	nextID int64
}

// NewMockFieldValueStore creates a new MockFieldValueStore.
func NewMockFieldValueStore() *MockFieldValueStore {
	return &MockFieldValueStore{values: make(map[fieldKey]*FieldValue)}
}

func (s *MockFieldValueStore) Get(_ context.Context, ticketID int64, key string) (*FieldValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fv, ok := s.values[fieldKey{ticketID, key}]
	if !ok || fv.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *fv
	return &cp, nil
}

func (s *MockFieldValueStore) ListForTicket(_ context.Context, ticketID int64) ([]*FieldValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*FieldValue
	for _, fv := range s.values {
		if fv.TicketID == ticketID && !fv.IsDeleted {
			cp := *fv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MockFieldValueStore) upsert(fv *FieldValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := fieldKey{fv.TicketID, fv.FieldKey}
	now := time.Now()
	if existing, ok := s.values[k]; ok {
		fv.ID = existing.ID
		fv.GmtCreated = existing.GmtCreated
	} else {
		s.nextID++
		fv.ID = s.nextID
		fv.GmtCreated = now
	}
	fv.GmtModified = now
	fv.IsDeleted = false
	cp := *fv
	s.values[k] = &cp
}

// ---------------------------------------------------------------------------
// MockFlowLogStore
// ---------------------------------------------------------------------------

// MockFlowLogStore is an in-memory implementation of FlowLogStore for testing.
type MockFlowLogStore struct {
	mu      sync.Mutex
	entries map[int64][]*FlowEntry
	nextID  int64
}

// NewMockFlowLogStore creates a new MockFlowLogStore.
func NewMockFlowLogStore() *MockFlowLogStore {
	return &MockFlowLogStore{entries: make(map[int64][]*FlowEntry)}
}

func (s *MockFlowLogStore) append(e *FlowEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	e.GmtCreated = time.Now()
	cp := *e
	s.entries[e.TicketID] = append(s.entries[e.TicketID], &cp)
}

func (s *MockFlowLogStore) CountForTicket(_ context.Context, ticketID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[ticketID]), nil
}

func (s *MockFlowLogStore) ListForTicket(_ context.Context, ticketID int64, p Pagination) ([]*FlowEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asc := s.entries[ticketID]
	desc := make([]*FlowEntry, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		cp := *asc[i]
		desc = append(desc, &cp)
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPagination().Limit
	}
	return applyPagination(desc, p), nil
}

func (s *MockFlowLogStore) AllForTicket(_ context.Context, ticketID int64) ([]*FlowEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*FlowEntry, 0, len(s.entries[ticketID]))
	for _, e := range s.entries[ticketID] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// MockCatalog
// ---------------------------------------------------------------------------

// MockCatalog is an in-memory implementation of Catalog for testing.
// NewPermissionFunc, when set, overrides the default allow-all answer of
// CheckNewPermission.
type MockCatalog struct {
	mu                sync.Mutex
	workflows         map[int64]*Workflow
	states            map[int64]*State
	transitions       map[int64]*Transition
	customFields      map[int64][]*CustomField
	NewPermissionFunc func(username string, workflowID int64) (bool, error)
}

// NewMockCatalog creates a new MockCatalog.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		workflows:    make(map[int64]*Workflow),
		states:       make(map[int64]*State),
		transitions:  make(map[int64]*Transition),
		customFields: make(map[int64][]*CustomField),
	}
}

// AddWorkflow registers a workflow definition.
func (s *MockCatalog) AddWorkflow(w *Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workflows[w.ID] = &cp
}

// AddState registers a state.
func (s *MockCatalog) AddState(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	if cp.Fields == nil {
		cp.Fields = map[string]FieldAttribute{}
	}
	s.states[st.ID] = &cp
}

// AddTransition registers a transition.
func (s *MockCatalog) AddTransition(tr *Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tr
	s.transitions[tr.ID] = &cp
}

// AddCustomField registers a custom field schema entry.
func (s *MockCatalog) AddCustomField(cf *CustomField) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cf
	s.customFields[cf.WorkflowID] = append(s.customFields[cf.WorkflowID], &cp)
}

func (s *MockCatalog) WorkflowByID(_ context.Context, id int64) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok || w.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MockCatalog) StateByID(_ context.Context, id int64) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok || st.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MockCatalog) StartState(_ context.Context, workflowID int64) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var start *State
	for _, st := range s.states {
		if st.WorkflowID != workflowID || st.IsDeleted {
			continue
		}
		if start == nil || st.OrderID < start.OrderID ||
			(st.OrderID == start.OrderID && st.ID < start.ID) {
			start = st
		}
	}
	if start == nil {
		return nil, ErrNotFound
	}
	cp := *start
	return &cp, nil
}

func (s *MockCatalog) WorkflowStates(_ context.Context, workflowID int64) ([]*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*State
	for _, st := range s.states {
		if st.WorkflowID == workflowID && !st.IsDeleted {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MockCatalog) StatesByIDs(_ context.Context, ids []int64) (map[int64]*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*State, len(ids))
	for _, id := range ids {
		if st, ok := s.states[id]; ok && !st.IsDeleted {
			cp := *st
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *MockCatalog) StateTransitions(_ context.Context, stateID int64) ([]*Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Transition
	for _, tr := range s.transitions {
		if tr.SourceStateID == stateID && !tr.IsDeleted {
			cp := *tr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MockCatalog) TransitionByID(_ context.Context, id int64) (*Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.transitions[id]
	if !ok || tr.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (s *MockCatalog) FieldSchema(_ context.Context, workflowID int64) ([]*CustomField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*CustomField
	for _, cf := range s.customFields[workflowID] {
		if !cf.IsDeleted {
			cp := *cf
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].FieldKey < out[j].FieldKey
	})
	return out, nil
}

func (s *MockCatalog) CheckNewPermission(_ context.Context, username string, workflowID int64) (bool, error) {
	s.mu.Lock()
	fn := s.NewPermissionFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(username, workflowID)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// MockDirectory
// ---------------------------------------------------------------------------

// MockDirectory is an in-memory implementation of Directory for testing.
type MockDirectory struct {
	mu        sync.Mutex
	users     map[string]*User
	depts     map[int64]*Dept
	roles     map[int64]*Role
	userRoles map[string][]int64
}

// NewMockDirectory creates a new MockDirectory.
func NewMockDirectory() *MockDirectory {
	return &MockDirectory{
		users:     make(map[string]*User),
		depts:     make(map[int64]*Dept),
		roles:     make(map[int64]*Role),
		userRoles: make(map[string][]int64),
	}
}

// AddUser registers a user.
func (s *MockDirectory) AddUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.Username] = &cp
}

// AddDept registers a department.
func (s *MockDirectory) AddDept(d *Dept) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.depts[d.ID] = &cp
}

// AddRole registers a role.
func (s *MockDirectory) AddRole(r *Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.roles[r.ID] = &cp
}

// AssignRole binds a username to a role id.
func (s *MockDirectory) AssignRole(username string, roleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles[username] = append(s.userRoles[username], roleID)
}

func (s *MockDirectory) UserByName(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok || u.IsDeleted {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, username)
	}
	cp := *u
	return &cp, nil
}

func (s *MockDirectory) UpDeptIDs(_ context.Context, username string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok || u.IsDeleted {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, username)
	}
	var ids []int64
	seen := map[int64]bool{}
	deptID := u.DeptID
	for deptID != 0 && !seen[deptID] {
		d, ok := s.depts[deptID]
		if !ok || d.IsDeleted {
			break
		}
		seen[deptID] = true
		ids = append(ids, d.ID)
		deptID = d.ParentDeptID
	}
	return ids, nil
}

func (s *MockDirectory) RoleIDs(_ context.Context, username string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]int64(nil), s.userRoles[username]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MockDirectory) DeptUsernames(_ context.Context, deptID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, u := range s.users {
		if u.DeptID == deptID && !u.IsDeleted {
			out = append(out, u.Username)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MockDirectory) RoleUsernames(_ context.Context, roleID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for username, ids := range s.userRoles {
		u, ok := s.users[username]
		if !ok || u.IsDeleted {
			continue
		}
		if containsInt64(ids, roleID) {
			out = append(out, username)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MockDirectory) DeptApprover(_ context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok || u.IsDeleted {
		return "", fmt.Errorf("%w: user %s", ErrNotFound, username)
	}
	seen := map[int64]bool{}
	deptID := u.DeptID
	for deptID != 0 && !seen[deptID] {
		d, ok := s.depts[deptID]
		if !ok || d.IsDeleted {
			break
		}
		if d.Approver != "" {
			return d.Approver, nil
		}
		seen[deptID] = true
		deptID = d.ParentDeptID
	}
	return "", nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func applyPagination[T any](items []*T, p Pagination) []*T {
	if len(items) == 0 {
		return items
	}
	start := p.Offset
	if start > len(items) {
		return nil
	}
	items = items[start:]
	if p.Limit > 0 && p.Limit < len(items) {
		items = items[:p.Limit]
	}
	return items
}

func containsInt64(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// containsFold mirrors the case-insensitive LIKE used by the SQL backends.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
