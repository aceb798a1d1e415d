package ticket

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/loonworks/loonflow/store"
)

// Variable participant names resolved from request context.
const (
	variableCreator   = "creator"
	variableCreatorTL = "creator_tl"
)

// resolved is the outcome of participant resolution: a concrete kind, a
// canonical value and the usernames the transition merges into the
// ticket's relation set.
type resolved struct {
	kind        store.ParticipantKind
	value       string
	relationAdd []string
}

// fieldLookup reads the string form of a named field. It returns ""
// when the field is unset.
type fieldLookup func(ctx context.Context, key string) (string, error)

// resolveInput carries the context a deferred participant resolves in.
type resolveInput struct {
	actingUser string
	// selfField reads a field of the ticket being created or handled.
	selfField fieldLookup
	// parentField reads a field of the parent ticket; nil without one.
	parentField fieldLookup
}

// resolveParticipant narrows a participant spec to a concrete kind.
// Personal, Multi, Dept, Role and Robot pass through; Field, ParentField
// and Variable are interpreted against the ticket context. The result is
// always storable on a ticket header.
func (s *Service) resolveParticipant(ctx context.Context, kind store.ParticipantKind, value string, in resolveInput) (resolved, error) {
	switch kind {
	case store.ParticipantPersonal:
		return resolved{kind: kind, value: value, relationAdd: []string{value}}, nil

	case store.ParticipantMulti:
		set := store.DedupSet(store.SplitSet(value))
		return narrowUsernames(set), nil

	case store.ParticipantDept:
		deptID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return resolved{}, fmt.Errorf("%w: dept participant %q is not an id", ErrResolution, value)
		}
		usernames, err := s.stores.Directory().DeptUsernames(ctx, deptID)
		if err != nil {
			return resolved{}, fmt.Errorf("%w: members of dept %d: %v", ErrUpstream, deptID, err)
		}
		return resolved{kind: kind, value: value, relationAdd: usernames}, nil

	case store.ParticipantRole:
		roleID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return resolved{}, fmt.Errorf("%w: role participant %q is not an id", ErrResolution, value)
		}
		usernames, err := s.stores.Directory().RoleUsernames(ctx, roleID)
		if err != nil {
			return resolved{}, fmt.Errorf("%w: members of role %d: %v", ErrUpstream, roleID, err)
		}
		return resolved{kind: kind, value: value, relationAdd: usernames}, nil

	case store.ParticipantRobot:
		// Script identifiers are not usernames.
		return resolved{kind: kind, value: value}, nil

	case store.ParticipantField:
		return s.resolveFieldParticipant(ctx, value, in.selfField, "ticket")

	case store.ParticipantParentField:
		if in.parentField == nil {
			return resolved{}, fmt.Errorf("%w: participant field %s needs a parent ticket", ErrResolution, value)
		}
		return s.resolveFieldParticipant(ctx, value, in.parentField, "parent ticket")

	case store.ParticipantVariable:
		return s.resolveVariable(ctx, value, in.actingUser)
	}
	return resolved{}, fmt.Errorf("%w: unknown participant kind %d", ErrResolution, kind)
}

// resolveFieldParticipant reads usernames out of a ticket field and
// verifies each against the directory.
func (s *Service) resolveFieldParticipant(ctx context.Context, key string, lookup fieldLookup, where string) (resolved, error) {
	raw, err := lookup(ctx, key)
	if err != nil {
		return resolved{}, err
	}
	set := store.DedupSet(store.SplitSet(raw))
	if len(set) == 0 {
		return resolved{}, fmt.Errorf("%w: %s field %s is empty", ErrResolution, where, key)
	}
	for _, username := range set {
		if _, err := s.stores.Directory().UserByName(ctx, username); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return resolved{}, fmt.Errorf("%w: %s field %s names unknown user %s", ErrResolution, where, key, username)
			}
			return resolved{}, fmt.Errorf("%w: verify user %s: %v", ErrUpstream, username, err)
		}
	}
	return narrowUsernames(set), nil
}

// resolveVariable interprets a user-relative participant variable.
func (s *Service) resolveVariable(ctx context.Context, name, actingUser string) (resolved, error) {
	switch name {
	case variableCreator:
		return resolved{kind: store.ParticipantPersonal, value: actingUser, relationAdd: []string{actingUser}}, nil
	case variableCreatorTL:
		approver, err := s.stores.Directory().DeptApprover(ctx, actingUser)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return resolved{}, fmt.Errorf("%w: approver of unknown user %s", ErrResolution, actingUser)
			}
			return resolved{}, fmt.Errorf("%w: approver of %s: %v", ErrUpstream, actingUser, err)
		}
		set := store.DedupSet(store.SplitSet(approver))
		if len(set) == 0 {
			return resolved{}, fmt.Errorf("%w: no dept approver for %s", ErrResolution, actingUser)
		}
		return narrowUsernames(set), nil
	}
	return resolved{}, fmt.Errorf("%w: unknown participant variable %q", ErrResolution, name)
}

// narrowUsernames picks Personal or Multi for a deduplicated username
// set. A single name collapses to Personal.
func narrowUsernames(set []string) resolved {
	if len(set) == 1 {
		return resolved{kind: store.ParticipantPersonal, value: set[0], relationAdd: set}
	}
	return resolved{kind: store.ParticipantMulti, value: store.JoinSet(set), relationAdd: set}
}
