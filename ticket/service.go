package ticket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/loonworks/loonflow/store"
)

// Service is the ticket workflow engine: it evaluates transitions,
// resolves participants, enforces per-state field attributes, appends
// the flow log and answers permission and list queries. All persistence
// and organizational lookups go through the injected stores.
type Service struct {
	stores  store.Stores
	sn      *SNAllocator
	hooks   Hooks
	logger  *slog.Logger
	metrics *Metrics
	locks   keyedMutex
}

// NewService creates a Service over the given stores and SN allocator.
func NewService(stores store.Stores, sn *SNAllocator) *Service {
	return &Service{
		stores: stores,
		sn:     sn,
		hooks:  NopHooks{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// WithHooks sets the outbound event hooks.
func (s *Service) WithHooks(hooks Hooks) *Service {
	s.hooks = hooks
	return s
}

// WithMetrics sets the metrics collector.
func (s *Service) WithMetrics(m *Metrics) *Service {
	s.metrics = m
	return s
}

// getTicket loads a live ticket header.
func (s *Service) getTicket(ctx context.Context, id int64) (*store.Ticket, error) {
	t, err := s.stores.Tickets().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: ticket %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: load ticket %d: %v", ErrUpstream, id, err)
	}
	return t, nil
}

// fieldSchema loads the workflow's custom field schema in display order
// plus a by-key index.
func (s *Service) fieldSchema(ctx context.Context, workflowID int64) ([]*store.CustomField, map[string]*store.CustomField, error) {
	schema, err := s.stores.Catalog().FieldSchema(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: field schema of workflow %d: %v", ErrUpstream, workflowID, err)
	}
	byKey := make(map[string]*store.CustomField, len(schema))
	for _, cf := range schema {
		byKey[cf.FieldKey] = cf
	}
	return schema, byKey, nil
}

// storedFieldString reads the string form of a custom field stored on a
// ticket. Returns "" when the field is unset.
func (s *Service) storedFieldString(ctx context.Context, t *store.Ticket, key string) (string, error) {
	if v, ok := baseField(t, key); ok {
		str, err := coerceString(v)
		if err != nil {
			return "", fmt.Errorf("%w: header field %s: %v", ErrInvariant, key, err)
		}
		return str, nil
	}

	_, byKey, err := s.fieldSchema(ctx, t.WorkflowID)
	if err != nil {
		return "", err
	}
	cf, ok := byKey[key]
	if !ok {
		return "", nil
	}
	fv, err := s.stores.Fields().Get(ctx, t.ID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: read field %s of ticket %d: %v", ErrUpstream, key, t.ID, err)
	}
	return fieldValueString(cf, fv), nil
}

// stateByID loads a workflow state, translating catalog failures into the
// service error taxonomy.
func (s *Service) stateByID(ctx context.Context, id int64) (*store.State, error) {
	st, err := s.stores.Catalog().StateByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: state %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: load state %d: %v", ErrUpstream, id, err)
	}
	return st, nil
}

// keyedMutex serializes ticket writers within this process. The row lock
// taken by ApplyTransition covers other nodes.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) lock(key int64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*entryLock)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &entryLock{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
