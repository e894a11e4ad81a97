package runners

import (
	"fmt"
	"strings"

	"github.com/gocrave/runner-api/internal/domain"
)

// normalize checks presence of every required field, then normalizes and checks format.
// All missing fields are reported together; format is only checked once nothing is missing.
func (in ProvisionInput) normalize() (onboarding, error) {
	required := []struct {
		field   string
		present bool
	}{
		{"name", present(in.Name)},
		{"dob", present(in.DOB)},
		{"age", in.Age != nil},
		{"address", present(in.Address)},
		{"trn", present(in.TRN)},
		{"idType", present(in.IDType)},
		{"idNumber", present(in.IDNumber)},
		{"runnerId", present(in.RunnerID)},
		{"phone", present(in.Phone)},
		{"runnerType", present(in.RunnerType)},
		{"loginEmail", present(in.LoginEmail)},
	}

	var first string
	details := map[string]any{}
	for _, r := range required {
		if r.present {
			continue
		}
		if first == "" {
			first = r.field
		}
		details[r.field] = "is required"
	}
	if first != "" {
		return onboarding{}, newError(KindInvalidArgument, fmt.Sprintf("missing required field: %s", first), details)
	}

	o := onboarding{
		name:       domain.NormalizeHumanName(in.Name),
		dob:        in.DOB,
		age:        *in.Age,
		address:    in.Address,
		trn:        in.TRN,
		idType:     in.IDType,
		idNumber:   in.IDNumber,
		runnerID:   domain.NormalizeRunnerID(in.RunnerID),
		phone:      domain.NormalizePhone(in.Phone),
		runnerType: domain.NormalizeRunnerType(in.RunnerType),
		loginEmail: domain.NormalizeEmail(in.LoginEmail),
	}

	if !domain.ValidRunnerID(o.runnerID) {
		return onboarding{}, newError(KindInvalidArgument, "invalid runnerId", map[string]any{
			"runnerId": "must be GC followed by at least 4 digits",
		})
	}
	// The phone number becomes a single key segment of the by-phone index.
	if !domain.ValidPhone(o.phone) {
		return onboarding{}, newError(KindInvalidArgument, "invalid phone", map[string]any{
			"phone": "must be an E.164 number: optional + and 7 to 15 digits",
		})
	}
	return o, nil
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}
