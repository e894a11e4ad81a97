package runners

import "github.com/gocrave/runner-api/internal/domain"

// ProvisionInput is the onboarding request as supplied by the caller.
// Age is nil when the caller did not send it.
type ProvisionInput struct {
	Name         string
	DOB          string
	Age          *float64
	Address      string
	TRN          string
	IDType       string
	IDNumber     string
	RunnerID     string
	Phone        string
	RunnerType   string
	LoginEmail   string
	TempPassword string // optional
}

// Result is returned once, on success. TempPassword is the only plaintext copy of the
// password that will ever exist outside the identity provider.
type Result struct {
	RunnerID     domain.RunnerID
	RunnerType   domain.RunnerType
	AuthUID      domain.AuthUID
	LoginEmail   string
	TempPassword string
}

// onboarding is a validated, normalized ProvisionInput.
type onboarding struct {
	name       string
	dob        string
	age        float64
	address    string
	trn        string
	idType     string
	idNumber   string
	runnerID   domain.RunnerID
	phone      string
	runnerType domain.RunnerType
	loginEmail string
	password   string
}
