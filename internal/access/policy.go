// Package access implements the visibility policy for memories. The
// predicate is pure: no I/O, no clock, no configuration lookups beyond
// the Policy value passed in, so it can be reasoned about and tested
// exhaustively.
package access

import (
	"strings"

	"github.com/memvault/mcp-memvault/pkg/types"
)

// Policy holds the tenancy rules. The zero value is the strictest
// possible policy.
type Policy struct {
	// ShareAcrossApps lets apps of the same user read each other's
	// memories. Writes are always scoped to the caller's own app.
	ShareAcrossApps bool
}

// CanAccess reports whether the caller identified by (userID, appID) may
// read mem. Any missing or blank identifier denies: the policy fails
// closed rather than guessing a tenant.
func (p Policy) CanAccess(mem *types.Memory, userID, appID string) bool {
	if mem == nil {
		return false
	}
	userID = strings.TrimSpace(userID)
	appID = strings.TrimSpace(appID)
	if userID == "" || appID == "" {
		return false
	}
	if mem.UserID == "" || mem.AppID == "" {
		return false
	}
	if mem.Deleted() {
		return false
	}
	if mem.UserID != userID {
		return false
	}
	if mem.AppID == appID {
		return true
	}
	return p.ShareAcrossApps
}

// CanWrite reports whether the caller may mutate mem. Mutation never
// crosses app boundaries regardless of the sharing rule.
func (p Policy) CanWrite(mem *types.Memory, userID, appID string) bool {
	if mem == nil {
		return false
	}
	userID = strings.TrimSpace(userID)
	appID = strings.TrimSpace(appID)
	if userID == "" || appID == "" {
		return false
	}
	return mem.UserID == userID && mem.AppID == appID
}

// ValidIdentity reports whether the pair can act as a tenant at all.
func ValidIdentity(userID, appID string) bool {
	return strings.TrimSpace(userID) != "" && strings.TrimSpace(appID) != ""
}
