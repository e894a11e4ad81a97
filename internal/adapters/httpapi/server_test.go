package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memclock "github.com/gocrave/runner-api/internal/adapters/memory/clock"
	memdocstore "github.com/gocrave/runner-api/internal/adapters/memory/docstore"
	memidentity "github.com/gocrave/runner-api/internal/adapters/memory/identity"
	"github.com/gocrave/runner-api/internal/app/runners"
	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/platform/metrics"
	"github.com/gocrave/runner-api/internal/ports/out/identity"
)

const adminSubject = "admin-1"

func newTestRouter(t *testing.T) (http.Handler, *metrics.Metrics) {
	t.Helper()

	idp := memidentity.NewProvider()
	idp.Seed(identity.User{
		UID:          adminSubject,
		Email:        "admin@gocrave.test",
		CustomClaims: map[string]any{identity.ClaimRole: string(domain.RoleAdmin)},
	})
	idp.Seed(identity.User{
		UID:          "runner-7",
		Email:        "runner7@gocrave.test",
		CustomClaims: identity.RunnerClaims("GC0007", domain.RunnerTypeGoCrave),
	})
	clk := memclock.NewManualClock(time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC))
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	svc := runners.NewService(idp, memdocstore.NewStore(), clk)
	svc.Metrics = m

	return NewRouter(NewServer(svc), RouterOptions{
		AuthMiddleware: NewDevAuthMiddleware(""),
		Metrics:        m,
	}), m
}

func validBody() map[string]any {
	return map[string]any{
		"name":       "Tameka Brown",
		"dob":        "1997-02-11",
		"age":        29,
		"address":    "12 Hope Road, Kingston",
		"trn":        "123456789",
		"idType":     "passport",
		"idNumber":   "A1234567",
		"runnerId":   "gc1234",
		"phone":      "+1 876 555 0101",
		"runnerType": "independent",
		"loginEmail": "Tameka.Brown@Example.com",
	}
}

func do(t *testing.T, h http.Handler, method, path, subject string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("X-Debug-Subject", subject)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var er ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er), "body=%s", rec.Body.String())
	return er.Error
}

func TestProvisionRunner_Success(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	rec := do(t, h, http.MethodPost, "/v1/runners", adminSubject, validBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var res ProvisionRunnerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.OK)
	assert.Equal(t, "GC1234", res.RunnerID)
	assert.Equal(t, "independent", res.RunnerType)
	assert.Equal(t, "tameka.brown@example.com", res.LoginEmail)
	assert.NotEmpty(t, res.AuthUID)
	assert.Regexp(t, regexp.MustCompile(`^GC@GC1234\d{1,3}$`), res.TempPassword)
}

func TestProvisionRunner_AgeAsNumericString(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	body := validBody()
	body["age"] = " 29 "
	body["tempPassword"] = "Sup3rSecret!"
	rec := do(t, h, http.MethodPost, "/v1/runners", adminSubject, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ProvisionRunnerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Sup3rSecret!", res.TempPassword)

	rec = do(t, h, http.MethodGet, "/v1/runners/GC1234", adminSubject, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got domain.Runner
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 29.0, got.Age)
}

func TestProvisionRunner_NullTempPasswordIsGenerated(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	body := validBody()
	body["tempPassword"] = nil
	rec := do(t, h, http.MethodPost, "/v1/runners", adminSubject, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ProvisionRunnerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, strings.HasPrefix(res.TempPassword, "GC@GC1234"))
}

func TestProvisionRunner_NonNumericAge_400(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	body := validBody()
	body["age"] = "twenty-nine"
	rec := do(t, h, http.MethodPost, "/v1/runners", adminSubject, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	eb := decodeError(t, rec)
	assert.Equal(t, "INVALID_ARGUMENT", eb.Code)
	details, err := eb.Details.Get()
	require.NoError(t, err)
	assert.Contains(t, details, "age")
}

func TestProvisionRunner_MalformedBody_400(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	rec := do(t, h, http.MethodPost, "/v1/runners", adminSubject, "{")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, rec).Code)
}

func TestProvisionRunner_MissingFields_400ListsAll(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	body := validBody()
	delete(body, "dob")
	delete(body, "age")
	body["phone"] = "   "
	rec := do(t, h, http.MethodPost, "/v1/runners", adminSubject, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	eb := decodeError(t, rec)
	assert.Equal(t, "INVALID_ARGUMENT", eb.Code)
	assert.Equal(t, "missing required field: dob", eb.Message)
	details, err := eb.Details.Get()
	require.NoError(t, err)
	assert.Len(t, details, 3)
	for _, f := range []string{"dob", "age", "phone"} {
		assert.Contains(t, details, f)
	}
	rid, err := eb.RequestId.Get()
	require.NoError(t, err)
	assert.NotEmpty(t, rid)
}

func TestProvisionRunner_Duplicate_409(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/runners", adminSubject, validBody()).Code)

	body := validBody()
	body["loginEmail"] = "someone.else@example.com"
	body["phone"] = "+18765550199"
	rec := do(t, h, http.MethodPost, "/v1/runners", adminSubject, body)
	require.Equal(t, http.StatusConflict, rec.Code)

	eb := decodeError(t, rec)
	assert.Equal(t, "ALREADY_EXISTS", eb.Code)
	details, err := eb.Details.Get()
	require.NoError(t, err)
	assert.Equal(t, "runnerId", details["field"])
}

func TestProvisionRunner_NonAdmin_403(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	rec := do(t, h, http.MethodPost, "/v1/runners", "runner-7", validBody())
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PERMISSION_DENIED", decodeError(t, rec).Code)
}

func TestProvisionRunner_NoAuthMiddleware_401(t *testing.T) {
	t.Parallel()

	idp := memidentity.NewProvider()
	svc := runners.NewService(idp, memdocstore.NewStore(), memclock.NewManualClock(time.Unix(1700000000, 0)))
	h := NewRouter(NewServer(svc), RouterOptions{})

	rec := do(t, h, http.MethodPost, "/v1/runners", "", validBody())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decodeError(t, rec).Code)
}

func TestGetRunner_ReturnsMaskedRecord(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/runners", adminSubject, validBody()).Code)

	rec := do(t, h, http.MethodGet, "/v1/runners/gc1234", adminSubject, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "123456789")
	assert.NotContains(t, rec.Body.String(), "A1234567")

	var got domain.Runner
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.RunnerID("GC1234"), got.RunnerID)
	assert.Equal(t, "******789", got.TRNMasked)
	assert.Equal(t, "****4567", got.IDMasked)
	assert.Equal(t, "+18765550101", got.Phone)
	assert.Equal(t, domain.SubjectID(adminSubject), got.CreatedBy)
}

func TestGetRunner_Unknown_404(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/v1/runners/GC9999", adminSubject, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

type failingService struct{}

func (failingService) Provision(context.Context, domain.SubjectID, runners.ProvisionInput) (runners.Result, error) {
	return runners.Result{}, errors.New("dial tcp 10.0.0.3:5432: connection refused")
}

func (failingService) GetRunner(context.Context, domain.SubjectID, string) (domain.Runner, error) {
	return domain.Runner{}, errors.New("dial tcp 10.0.0.3:5432: connection refused")
}

func TestInternalErrors_AreNotLeaked(t *testing.T) {
	t.Parallel()

	h := NewRouter(NewServer(failingService{}), RouterOptions{AuthMiddleware: NewDevAuthMiddleware(adminSubject)})
	for _, rec := range []*httptest.ResponseRecorder{
		do(t, h, http.MethodPost, "/v1/runners", "", validBody()),
		do(t, h, http.MethodGet, "/v1/runners/GC1234", "", nil),
	} {
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		eb := decodeError(t, rec)
		assert.Equal(t, "INTERNAL", eb.Code)
		assert.NotContains(t, rec.Body.String(), "10.0.0.3")
	}
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	t.Parallel()

	h, _ := newTestRouter(t)
	do(t, h, http.MethodGet, "/v1/runners/GC9999", adminSubject, nil)
	do(t, h, http.MethodPost, "/v1/runners", adminSubject, validBody())

	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `http_requests_total{method="GET",route="/v1/runners/{runnerId}",status="4xx"} 1`)
	assert.Contains(t, out, `runner_provision_total{result="ok"} 1`)
	assert.NotContains(t, out, "GC9999")
}

func TestFlexNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		set     bool
		invalid bool
		value   float64
	}{
		{`29`, true, false, 29},
		{`29.5`, true, false, 29.5},
		{`"31"`, true, false, 31},
		{`null`, false, false, 0},
		{`""`, false, false, 0},
		{`"abc"`, false, true, 0},
		{`"NaN"`, false, true, 0},
		{`true`, false, true, 0},
	}
	for _, tc := range cases {
		var n flexNumber
		require.NoError(t, json.Unmarshal([]byte(tc.in), &n), tc.in)
		assert.Equal(t, tc.set, n.set, tc.in)
		assert.Equal(t, tc.invalid, n.invalid, tc.in)
		assert.Equal(t, tc.value, n.value, tc.in)
	}
}
