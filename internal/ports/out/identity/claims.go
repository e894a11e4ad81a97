package identity

import (
	"encoding/json"

	"github.com/gocrave/runner-api/internal/domain"
)

// Custom claim keys shared by provisioning and reconciliation.
const (
	ClaimRole         = "role"
	ClaimRunnerType   = "runnerType"
	ClaimRunnerID     = "runnerId"
	ClaimPending      = "pending"
	ClaimPendingSince = "pendingSince"
	ClaimPendingPhone = "pendingPhone"
)

// RoleOf returns the role claim, or "" when absent or not a string.
func RoleOf(claims map[string]any) domain.Role {
	s, _ := claims[ClaimRole].(string)
	return domain.Role(s)
}

// RunnerClaims is the final claim set of a provisioned runner.
func RunnerClaims(id domain.RunnerID, typ domain.RunnerType) map[string]any {
	return map[string]any{
		ClaimRole:       string(domain.RoleRunner),
		ClaimRunnerType: string(typ),
		ClaimRunnerID:   string(id),
	}
}

// PendingRunnerClaims tags a freshly created runner identity whose records are not yet
// committed. sinceMillis is the creation time in Unix milliseconds. phone is the
// normalized phone whose index entry the provisioning call reserves, so a sweep can
// release it; RunnerClaims drops it again.
func PendingRunnerClaims(id domain.RunnerID, typ domain.RunnerType, phone string, sinceMillis int64) map[string]any {
	c := RunnerClaims(id, typ)
	c[ClaimPending] = true
	c[ClaimPendingSince] = sinceMillis
	c[ClaimPendingPhone] = phone
	return c
}

// PendingPhone returns the phone recorded by PendingRunnerClaims, or "".
func PendingPhone(claims map[string]any) string {
	s, _ := claims[ClaimPendingPhone].(string)
	return s
}

// PendingSince reports whether claims carry the pending tag and, if so, since when.
// Numbers may arrive as any numeric Go type depending on how the provider decoded them.
func PendingSince(claims map[string]any) (int64, bool) {
	pending, _ := claims[ClaimPending].(bool)
	if !pending {
		return 0, false
	}
	switch v := claims[ClaimPendingSince].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, true
		}
		return n, true
	default:
		return 0, true
	}
}
