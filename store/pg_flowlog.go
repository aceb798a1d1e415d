package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const flowEntryColumns = `id, ticket_id, state_id, transition_id,
	participant_type_id, participant, suggestion, is_deleted, gmt_created`

// PGFlowLogStore implements FlowLogStore backed by PostgreSQL.
type PGFlowLogStore struct {
	pool *pgxpool.Pool
}

func (s *PGFlowLogStore) CountForTicket(ctx context.Context, ticketID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_flow_log
		WHERE ticket_id = $1 AND is_deleted = FALSE`, ticketID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count flow entries: %w", err)
	}
	return n, nil
}

func (s *PGFlowLogStore) ListForTicket(ctx context.Context, ticketID int64, p Pagination) ([]*FlowEntry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPagination().Limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+flowEntryColumns+` FROM ticket_flow_log
		WHERE ticket_id = $1 AND is_deleted = FALSE
		ORDER BY id DESC LIMIT $2 OFFSET $3`, ticketID, limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list flow entries: %w", err)
	}
	defer rows.Close()
	return collectFlowEntries(rows)
}

func (s *PGFlowLogStore) AllForTicket(ctx context.Context, ticketID int64) ([]*FlowEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+flowEntryColumns+` FROM ticket_flow_log
		WHERE ticket_id = $1 AND is_deleted = FALSE ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list flow entries: %w", err)
	}
	defer rows.Close()
	return collectFlowEntries(rows)
}

func collectFlowEntries(rows pgx.Rows) ([]*FlowEntry, error) {
	var entries []*FlowEntry
	for rows.Next() {
		var e FlowEntry
		err := rows.Scan(
			&e.ID, &e.TicketID, &e.StateID, &e.TransitionID,
			&e.ParticipantTypeID, &e.Participant, &e.Suggestion, &e.IsDeleted, &e.GmtCreated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan flow entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
