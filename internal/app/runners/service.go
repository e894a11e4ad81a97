package runners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/platform/logger"
	"github.com/gocrave/runner-api/internal/platform/metrics"
	clockport "github.com/gocrave/runner-api/internal/ports/out/clock"
	"github.com/gocrave/runner-api/internal/ports/out/docstore"
	"github.com/gocrave/runner-api/internal/ports/out/events"
	"github.com/gocrave/runner-api/internal/ports/out/identity"
)

const DefaultTermsVersion = "v1"

type Service struct {
	idp  identity.Provider
	docs docstore.Store
	clk  clockport.Clock

	randIntn func(n int) int

	// Events receives runner.provisioned after each successful commit.
	Events events.Publisher
	// Hasher digests TRN and ID numbers.
	Hasher domain.PIIHasher
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// TermsVersion is recorded on every new runner.
	TermsVersion string
}

func NewService(idp identity.Provider, docs docstore.Store, clk clockport.Clock) *Service {
	return &Service{
		idp:          idp,
		docs:         docs,
		clk:          clk,
		randIntn:     rand.IntN,
		Events:       events.Noop{},
		Hasher:       domain.NewPIIHasher(""),
		TermsVersion: DefaultTermsVersion,
	}
}

// Provision onboards a runner: it creates the login identity and commits the runner
// record, its indexes and (for independent runners) the subscription as one unit.
//
// On failure the returned error is either a *Error or an internal failure of a
// collaborator. An identity created before a failed commit is deleted best-effort; one
// that survives keeps its pending claims and is removed by the reconciliation sweep.
func (s *Service) Provision(ctx context.Context, caller domain.SubjectID, in ProvisionInput) (Result, error) {
	res, err := s.provision(ctx, caller, in)
	s.Metrics.ObserveProvision(outcome(err))
	return res, err
}

func (s *Service) provision(ctx context.Context, caller domain.SubjectID, in ProvisionInput) (Result, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return Result{}, err
	}

	o, err := in.normalize()
	if err != nil {
		return Result{}, err
	}
	log := logger.From(ctx).With(
		logger.Subject(string(caller)),
		logger.RunnerID(string(o.runnerID)),
		logger.RunnerType(string(o.runnerType)),
	)

	if err := s.ensureAbsent(ctx, IndexByRunnerIDPath(o.runnerID), "runnerId"); err != nil {
		return Result{}, err
	}
	if err := s.ensureAbsent(ctx, IndexByPhonePath(o.phone), "phone"); err != nil {
		return Result{}, err
	}

	o.password = tempPassword(in.TempPassword, o.runnerID, s.randIntn)

	user, err := s.idp.CreateUser(ctx, identity.NewUser{
		Email:       o.loginEmail,
		Password:    o.password,
		DisplayName: o.name,
	})
	if err != nil {
		if errors.Is(err, identity.ErrEmailAlreadyExists) {
			return Result{}, alreadyExists("loginEmail", "login email already in use")
		}
		return Result{}, fmt.Errorf("create identity: %w", err)
	}
	log = log.With(logger.AuthUID(string(user.UID)))

	now := s.clk.Now().UTC().UnixMilli()
	if err := s.idp.SetCustomClaims(ctx, user.UID, identity.PendingRunnerClaims(o.runnerID, o.runnerType, o.phone, now)); err != nil {
		// Without the pending tag the sweep cannot recognize this identity.
		s.discardIdentity(ctx, log, user.UID)
		return Result{}, fmt.Errorf("set pending claims: %w", err)
	}

	batch := s.recordSet(o, caller, user.UID, now)
	if err := s.docs.Commit(ctx, batch); err != nil {
		s.discardIdentity(ctx, log, user.UID)
		var pfe *docstore.PreconditionFailedError
		if errors.As(err, &pfe) {
			field := conflictingField(pfe.Path, o, user.UID)
			return Result{}, alreadyExists(field, field+" already registered")
		}
		return Result{}, fmt.Errorf("commit runner records: %w", err)
	}

	// The record set is committed; from here on nothing fails the call.
	if err := s.idp.SetCustomClaims(ctx, user.UID, identity.RunnerClaims(o.runnerID, o.runnerType)); err != nil {
		log.Warn("finalize runner claims failed; left to reconciliation", zap.Error(err))
	}
	evt := events.RunnerProvisioned{
		Type:       events.TypeRunnerProvisioned,
		RunnerID:   o.runnerID,
		RunnerType: o.runnerType,
		AuthUID:    user.UID,
		CreatedBy:  caller,
		OccurredAt: s.clk.Now().UTC(),
	}
	if err := s.Events.Publish(ctx, string(o.runnerID), evt); err != nil {
		log.Warn("publish runner.provisioned failed", zap.Error(err))
	}
	log.Info("runner provisioned")

	return Result{
		RunnerID:     o.runnerID,
		RunnerType:   o.runnerType,
		AuthUID:      user.UID,
		LoginEmail:   o.loginEmail,
		TempPassword: o.password,
	}, nil
}

// GetRunner returns the committed record for runnerID. Admin only.
func (s *Service) GetRunner(ctx context.Context, caller domain.SubjectID, runnerID string) (domain.Runner, error) {
	if err := s.authorize(ctx, caller); err != nil {
		return domain.Runner{}, err
	}
	id := domain.NormalizeRunnerID(runnerID)
	if !domain.ValidRunnerID(id) {
		return domain.Runner{}, newError(KindInvalidArgument, "invalid runnerId", map[string]any{
			"runnerId": "must be GC followed by at least 4 digits",
		})
	}

	var entry domain.RunnerIndexEntry
	found, err := s.getJSON(ctx, IndexByRunnerIDPath(id), &entry)
	if err != nil {
		return domain.Runner{}, err
	}
	if !found {
		return domain.Runner{}, newError(KindNotFound, "runner not found", nil)
	}

	var r domain.Runner
	found, err = s.getJSON(ctx, RunnerPath(entry.Type, id), &r)
	if err != nil {
		return domain.Runner{}, err
	}
	if !found {
		return domain.Runner{}, newError(KindNotFound, "runner not found", nil)
	}
	return r, nil
}

func (s *Service) authorize(ctx context.Context, caller domain.SubjectID) error {
	if caller == "" {
		return newError(KindUnauthenticated, "authentication required", nil)
	}
	u, err := s.idp.LookupUser(ctx, domain.AuthUID(caller))
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return newError(KindPermissionDenied, "admin role required", nil)
		}
		return fmt.Errorf("lookup caller: %w", err)
	}
	if identity.RoleOf(u.CustomClaims) != domain.RoleAdmin {
		return newError(KindPermissionDenied, "admin role required", nil)
	}
	return nil
}

func (s *Service) ensureAbsent(ctx context.Context, p docstore.Path, field string) error {
	_, ok, err := s.docs.Get(ctx, p)
	if err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}
	if ok {
		return alreadyExists(field, field+" already registered")
	}
	return nil
}

func (s *Service) getJSON(ctx context.Context, p docstore.Path, dst any) (bool, error) {
	raw, ok, err := s.docs.Get(ctx, p)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", p, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", p, err)
	}
	return true, nil
}

// recordSet builds every write of a provisioning commit. Raw TRN and ID numbers and the
// password do not leave this function.
func (s *Service) recordSet(o onboarding, caller domain.SubjectID, uid domain.AuthUID, now int64) docstore.Batch {
	r := domain.Runner{
		RunnerID:        o.runnerID,
		RunnerType:      o.runnerType,
		Name:            o.name,
		DOB:             o.dob,
		Age:             o.age,
		Address:         o.address,
		Phone:           o.phone,
		IDType:          o.idType,
		LoginEmail:      o.loginEmail,
		TRNMasked:       domain.Mask(o.trn, domain.TRNVisibleSuffix),
		TRNHash:         s.Hasher.Digest(o.trn),
		IDMasked:        domain.Mask(o.idNumber, domain.IDVisibleSuffix),
		IDHash:          s.Hasher.Digest(o.idNumber),
		TermsAcceptedAt: now,
		TermsVersion:    s.TermsVersion,
		Status:          domain.RunnerStatusActive,
		CreatedAt:       now,
		CreatedBy:       caller,
		AuthUID:         uid,
	}

	writes := map[docstore.Path]any{
		RunnerPath(o.runnerType, o.runnerID): r,
		IndexByAuthUIDPath(uid):              o.runnerID,
		IndexByRunnerIDPath(o.runnerID):      domain.RunnerIndexEntry{Type: o.runnerType, UID: uid},
		IndexByPhonePath(o.phone):            o.runnerID,
	}
	if o.runnerType == domain.RunnerTypeIndependent {
		writes[SubscriptionPath(o.runnerID)] = domain.NewIndependentSubscription(now)
	}
	return docstore.Batch{
		Writes: writes,
		MustNotExist: []docstore.Path{
			IndexByRunnerIDPath(o.runnerID),
			IndexByPhonePath(o.phone),
			IndexByAuthUIDPath(uid),
		},
	}
}

// discardIdentity deletes an identity whose records were never committed. It runs even
// when ctx is already canceled.
func (s *Service) discardIdentity(ctx context.Context, log *zap.Logger, uid domain.AuthUID) {
	if err := s.idp.DeleteUser(context.WithoutCancel(ctx), uid); err != nil {
		log.Error("delete orphaned identity failed; left to reconciliation", zap.Error(err))
	}
}

func conflictingField(p docstore.Path, o onboarding, uid domain.AuthUID) string {
	switch p {
	case IndexByRunnerIDPath(o.runnerID):
		return "runnerId"
	case IndexByPhonePath(o.phone):
		return "phone"
	case IndexByAuthUIDPath(uid):
		return "authUid"
	default:
		return "runner"
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "INTERNAL"
}
