package events

import (
	"context"
	"time"

	"github.com/gocrave/runner-api/internal/domain"
)

const TypeRunnerProvisioned = "runner.provisioned"

// RunnerProvisioned is emitted after a runner record set has been committed.
// It carries identifiers only; no PII and never the temporary password.
type RunnerProvisioned struct {
	Type       string            `json:"type"`
	RunnerID   domain.RunnerID   `json:"runnerId"`
	RunnerType domain.RunnerType `json:"runnerType"`
	AuthUID    domain.AuthUID    `json:"authUid"`
	CreatedBy  domain.SubjectID  `json:"createdBy"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Publisher delivers domain events to downstream consumers (billing, notifications).
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
