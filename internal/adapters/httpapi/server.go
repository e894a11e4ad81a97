package httpapi

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/nullable"
	"github.com/oapi-codegen/runtime"

	"github.com/gocrave/runner-api/internal/app/runners"
	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/platform/logger"
)

const maxRequestBody = 64 << 10

// RunnerService is the application surface the HTTP layer drives.
type RunnerService interface {
	Provision(ctx context.Context, caller domain.SubjectID, in runners.ProvisionInput) (runners.Result, error)
	GetRunner(ctx context.Context, caller domain.SubjectID, runnerID string) (domain.Runner, error)
}

type Server struct {
	runners RunnerService
}

func NewServer(svc RunnerService) *Server {
	return &Server{runners: svc}
}

type ProvisionRunnerRequest struct {
	Name         string                    `json:"name"`
	DOB          string                    `json:"dob"`
	Age          flexNumber                `json:"age"`
	Address      string                    `json:"address"`
	TRN          string                    `json:"trn"`
	IDType       string                    `json:"idType"`
	IDNumber     string                    `json:"idNumber"`
	RunnerID     string                    `json:"runnerId"`
	Phone        string                    `json:"phone"`
	RunnerType   string                    `json:"runnerType"`
	LoginEmail   string                    `json:"loginEmail"`
	TempPassword nullable.Nullable[string] `json:"tempPassword,omitempty"`
}

type ProvisionRunnerResponse struct {
	OK           bool   `json:"ok"`
	RunnerID     string `json:"runnerId"`
	RunnerType   string `json:"runnerType"`
	AuthUID      string `json:"authUid"`
	LoginEmail   string `json:"loginEmail"`
	TempPassword string `json:"tempPassword"`
}

// ProvisionRunner handles POST /v1/runners.
func (s *Server) ProvisionRunner(w http.ResponseWriter, r *http.Request) {
	caller, _ := SubjectFromContext(r.Context())

	var body ProvisionRunnerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidArgument, "malformed request body", nil)
		return
	}
	if body.Age.invalid {
		writeError(w, r, http.StatusBadRequest, codeInvalidArgument, "invalid age", map[string]any{
			"age": "must be a number",
		})
		return
	}

	res, err := s.runners.Provision(r.Context(), caller, body.toInput())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	logger.From(r.Context()).Info("runner provisioned",
		logger.RunnerID(string(res.RunnerID)),
		logger.RunnerType(string(res.RunnerType)),
		logger.AuthUID(string(res.AuthUID)),
	)

	// The body carries a plaintext password.
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, ProvisionRunnerResponse{
		OK:           true,
		RunnerID:     string(res.RunnerID),
		RunnerType:   string(res.RunnerType),
		AuthUID:      string(res.AuthUID),
		LoginEmail:   res.LoginEmail,
		TempPassword: res.TempPassword,
	})
}

// GetRunner handles GET /v1/runners/{runnerId}.
func (s *Server) GetRunner(w http.ResponseWriter, r *http.Request) {
	caller, _ := SubjectFromContext(r.Context())

	var runnerID string
	err := runtime.BindStyledParameterWithOptions("simple", "runnerId", chi.URLParam(r, "runnerId"), &runnerID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidArgument, "invalid runnerId", map[string]any{
			"runnerId": err.Error(),
		})
		return
	}

	rec, err := s.runners.GetRunner(r.Context(), caller, runnerID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (b ProvisionRunnerRequest) toInput() runners.ProvisionInput {
	in := runners.ProvisionInput{
		Name:       b.Name,
		DOB:        b.DOB,
		Address:    b.Address,
		TRN:        b.TRN,
		IDType:     b.IDType,
		IDNumber:   b.IDNumber,
		RunnerID:   b.RunnerID,
		Phone:      b.Phone,
		RunnerType: b.RunnerType,
		LoginEmail: b.LoginEmail,
	}
	if b.Age.set {
		age := b.Age.value
		in.Age = &age
	}
	if b.TempPassword.IsSpecified() && !b.TempPassword.IsNull() {
		in.TempPassword, _ = b.TempPassword.Get()
	}
	return in
}

// flexNumber accepts a JSON number or a string holding one. Null and blank strings
// leave it unset; anything else non-numeric marks it invalid.
type flexNumber struct {
	set     bool
	invalid bool
	value   float64
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		n.set, n.value = true, f
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		n.invalid = true
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		n.invalid = true
		return nil
	}
	n.set, n.value = true, f
	return nil
}
