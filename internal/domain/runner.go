package domain

// RunnerStatus is the lifecycle state of a runner record.
type RunnerStatus string

const RunnerStatusActive RunnerStatus = "active"

// SubscriptionStatus is the billing state of an independent runner's subscription.
type SubscriptionStatus string

// Subscriptions start inactive; activation happens outside this service.
const SubscriptionStatusInactive SubscriptionStatus = "inactive"

const (
	// IndependentPlanID is the only plan offered to independent runners.
	IndependentPlanID = "independent-monthly"
	// IndependentPlanAmountJMD is the fixed monthly fee, in Jamaican dollars.
	IndependentPlanAmountJMD = 5000
)

// Runner is the persisted runner record. Raw TRN and ID numbers never appear here;
// only their masked and hashed forms do.
//
// Timestamps are Unix milliseconds.
type Runner struct {
	RunnerID   RunnerID   `json:"runnerId"`
	RunnerType RunnerType `json:"runnerType"`

	Name       string  `json:"name"`
	DOB        string  `json:"dob"`
	Age        float64 `json:"age"`
	Address    string  `json:"address"`
	Phone      string  `json:"phone"`
	IDType     string  `json:"idType"`
	LoginEmail string  `json:"loginEmail"`

	TRNMasked string `json:"trnMasked"`
	TRNHash   string `json:"trnHash"`
	IDMasked  string `json:"idMasked"`
	IDHash    string `json:"idHash"`

	TermsAcceptedAt int64        `json:"termsAcceptedAt"`
	TermsVersion    string       `json:"termsVersion"`
	Status          RunnerStatus `json:"status"`
	CreatedAt       int64        `json:"createdAt"`
	CreatedBy       SubjectID    `json:"createdBy"`
	AuthUID         AuthUID      `json:"authUid"`
}

// RunnerIndexEntry is the value stored under the by-runnerId index.
type RunnerIndexEntry struct {
	Type RunnerType `json:"type"`
	UID  AuthUID    `json:"uid"`
}

// Subscription is the billing state created alongside an independent runner.
// ActiveUntil and LastPaidAt stay nil until the billing process touches them.
type Subscription struct {
	PlanID      string             `json:"planId"`
	AmountJMD   int                `json:"amountJMD"`
	Status      SubscriptionStatus `json:"status"`
	ActiveUntil *int64             `json:"activeUntil"`
	LastPaidAt  *int64             `json:"lastPaidAt"`
	CreatedAt   int64              `json:"createdAt"`
}

// NewIndependentSubscription returns the initial, inactive subscription for an independent runner.
func NewIndependentSubscription(createdAt int64) Subscription {
	return Subscription{
		PlanID:    IndependentPlanID,
		AmountJMD: IndependentPlanAmountJMD,
		Status:    SubscriptionStatusInactive,
		CreatedAt: createdAt,
	}
}
