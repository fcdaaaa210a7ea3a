// Package auth decides whether an already-authenticated caller may act on a
// coverage. Token validation happens upstream in the auth middleware; this
// package only enforces coverage-scoping policy.
package auth

import (
	"github.com/everimpact/coverage-service/internal/apperr"
	"github.com/everimpact/coverage-service/internal/model"
)

// Action is the class of operation being authorized.
type Action int

const (
	// ActionReadCoverageData covers sensor and sink reads within a coverage.
	ActionReadCoverageData Action = iota
	// ActionManageIdentity covers coverage and user administration.
	ActionManageIdentity
)

// Principal is the resolved caller identity: either an Admin or a Member
// bound to a single coverage. Keeping the two as distinct types rules out
// the "admin with a coverage" ambiguity entirely.
type Principal interface {
	// UserID identifies the caller.
	UserID() string

	isPrincipal()
}

// Admin may act on any coverage and manage identities.
type Admin struct {
	ID string
}

func (a Admin) UserID() string { return a.ID }
func (Admin) isPrincipal()     {}

// Member is bound to exactly one coverage and may only read its data.
type Member struct {
	ID         string
	CoverageID string
}

func (m Member) UserID() string { return m.ID }
func (Member) isPrincipal()     {}

// ForUser builds the principal for a stored user. A non-admin user without
// a coverage cannot be authorized for anything.
func ForUser(u *model.User) (Principal, error) {
	if u.IsAdmin {
		return Admin{ID: u.ID}, nil
	}
	if u.CoverageID == nil || *u.CoverageID == "" {
		return nil, apperr.Unauthorizedf("user has no coverage assigned")
	}
	return Member{ID: u.ID, CoverageID: *u.CoverageID}, nil
}

// Authorize checks whether p may perform action on the coverage identified
// by coverageID. For ActionManageIdentity the coverage id is ignored.
// Denial is always an explicit unauthorized error.
func Authorize(p Principal, coverageID string, action Action) error {
	switch caller := p.(type) {
	case Admin:
		return nil
	case Member:
		if action != ActionReadCoverageData {
			return apperr.Unauthorizedf("not authorized to perform this action")
		}
		if caller.CoverageID != coverageID {
			return apperr.Unauthorizedf("not authorized for this coverage")
		}
		return nil
	default:
		return apperr.Unauthorizedf("unknown caller")
	}
}
