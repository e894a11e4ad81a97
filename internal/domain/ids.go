package domain

// SubjectID is the authenticated subject extracted from JWT claims (typically "sub").
// It is the identity-provider uid of the caller.
type SubjectID string

// AuthUID is the identity-provider key of a provisioned identity.
type AuthUID string

// RunnerID is the platform-facing runner identifier ("GC" followed by at least four digits).
type RunnerID string

// RunnerType classifies a runner for billing purposes.
type RunnerType string

const (
	RunnerTypeIndependent RunnerType = "independent"
	RunnerTypeGoCrave     RunnerType = "goCrave"
)

// Role is the value of the "role" custom claim on an identity.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleRunner Role = "runner"
)
