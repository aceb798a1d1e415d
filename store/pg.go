package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig holds PostgreSQL connection configuration.
type PGConfig struct {
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

// PGStore wraps a pgxpool.Pool and provides access to all domain stores.
type PGStore struct {
	pool *pgxpool.Pool

	tickets   *PGTicketStore
	fields    *PGFieldValueStore
	flowLogs  *PGFlowLogStore
	catalog   *PGCatalog
	directory *PGDirectory
}

// NewPGStore connects to PostgreSQL and returns a PGStore with all sub-stores.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	return newPGStore(pool), nil
}

func newPGStore(pool *pgxpool.Pool) *PGStore {
	s := &PGStore{pool: pool}
	s.tickets = &PGTicketStore{pool: pool}
	s.fields = &PGFieldValueStore{pool: pool}
	s.flowLogs = &PGFlowLogStore{pool: pool}
	s.catalog = &PGCatalog{pool: pool}
	s.directory = &PGDirectory{pool: pool}
	return s
}

// Pool returns the underlying pgxpool.Pool.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

// Tickets returns the TicketStore.
func (s *PGStore) Tickets() TicketStore { return s.tickets }

// Fields returns the FieldValueStore.
func (s *PGStore) Fields() FieldValueStore { return s.fields }

// FlowLogs returns the FlowLogStore.
func (s *PGStore) FlowLogs() FlowLogStore { return s.flowLogs }

// Catalog returns the workflow Catalog.
func (s *PGStore) Catalog() Catalog { return s.catalog }

// Directory returns the Directory.
func (s *PGStore) Directory() Directory { return s.directory }

func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
