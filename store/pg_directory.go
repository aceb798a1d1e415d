package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxDeptDepth bounds parent-chain walks against cyclic dept data.
const maxDeptDepth = 64

// PGDirectory implements Directory backed by PostgreSQL.
type PGDirectory struct {
	pool *pgxpool.Pool
}

func (s *PGDirectory) UserByName(ctx context.Context, username string) (*User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, username, alias, email, dept_id,
		is_deleted, gmt_created, gmt_modified FROM account_user
		WHERE username = $1 AND is_deleted = FALSE`, username)
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query user: %w", err)
		}
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, username)
	}
	var u User
	err = rows.Scan(&u.ID, &u.Username, &u.Alias, &u.Email, &u.DeptID,
		&u.IsDeleted, &u.GmtCreated, &u.GmtModified)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *PGDirectory) UpDeptIDs(ctx context.Context, username string) ([]int64, error) {
	u, err := s.UserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.DeptID == 0 {
		return nil, nil
	}

	var ids []int64
	seen := map[int64]bool{}
	deptID := u.DeptID
	for range maxDeptDepth {
		if deptID == 0 || seen[deptID] {
			break
		}
		d, err := s.deptByID(ctx, deptID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return nil, err
		}
		seen[deptID] = true
		ids = append(ids, d.ID)
		deptID = d.ParentDeptID
	}
	return ids, nil
}

func (s *PGDirectory) RoleIDs(ctx context.Context, username string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT ur.role_id FROM account_user_role ur
		JOIN account_user u ON u.id = ur.user_id
		WHERE u.username = $1 AND u.is_deleted = FALSE AND ur.is_deleted = FALSE
		ORDER BY ur.role_id`, username)
	if err != nil {
		return nil, fmt.Errorf("query role ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGDirectory) DeptUsernames(ctx context.Context, deptID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM account_user
		WHERE dept_id = $1 AND is_deleted = FALSE ORDER BY id`, deptID)
	if err != nil {
		return nil, fmt.Errorf("query dept usernames: %w", err)
	}
	defer rows.Close()
	return collectUsernames(rows)
}

func (s *PGDirectory) RoleUsernames(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT u.username FROM account_user u
		JOIN account_user_role ur ON ur.user_id = u.id
		WHERE ur.role_id = $1 AND u.is_deleted = FALSE AND ur.is_deleted = FALSE
		ORDER BY u.id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("query role usernames: %w", err)
	}
	defer rows.Close()
	return collectUsernames(rows)
}

func (s *PGDirectory) DeptApprover(ctx context.Context, username string) (string, error) {
	u, err := s.UserByName(ctx, username)
	if err != nil {
		return "", err
	}

	seen := map[int64]bool{}
	deptID := u.DeptID
	for range maxDeptDepth {
		if deptID == 0 || seen[deptID] {
			break
		}
		d, err := s.deptByID(ctx, deptID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return "", err
		}
		if d.Approver != "" {
			return d.Approver, nil
		}
		seen[deptID] = true
		deptID = d.ParentDeptID
	}
	return "", nil
}

func (s *PGDirectory) deptByID(ctx context.Context, id int64) (*Dept, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, parent_dept_id, leader, approver,
		is_deleted, gmt_created, gmt_modified FROM account_dept
		WHERE id = $1 AND is_deleted = FALSE`, id)
	if err != nil {
		return nil, fmt.Errorf("query dept: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query dept: %w", err)
		}
		return nil, fmt.Errorf("%w: dept %d", ErrNotFound, id)
	}
	var d Dept
	err = rows.Scan(&d.ID, &d.Name, &d.ParentDeptID, &d.Leader, &d.Approver,
		&d.IsDeleted, &d.GmtCreated, &d.GmtModified)
	if err != nil {
		return nil, fmt.Errorf("scan dept: %w", err)
	}
	return &d, nil
}

func collectUsernames(rows pgx.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
