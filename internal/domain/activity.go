package domain

import "time"

// ActivityRecord is a single recorded action by a marketplace user.
type ActivityRecord struct {
	ID      string `json:"id"`
	ActorID string `json:"actorId"`

	// Action is what the actor did, e.g. "payment", "message_sent",
	// "listing_created", "login".
	Action string `json:"action"`

	// TargetID optionally names the object acted on (listing, order).
	TargetID string `json:"targetId,omitempty"`

	// CounterpartyID is the other user involved, if any.
	CounterpartyID string `json:"counterpartyId,omitempty"`

	// Amount in currency minor units for monetary actions.
	Amount   int64  `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`

	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ActivityRequest is the API payload for POST /activities.
type ActivityRequest struct {
	ActorID        string         `json:"actorId"`
	Action         string         `json:"action"`
	TargetID       string         `json:"targetId,omitempty"`
	CounterpartyID string         `json:"counterpartyId,omitempty"`
	Amount         int64          `json:"amount,omitempty"`
	Currency       string         `json:"currency,omitempty"`
	Description    string         `json:"description,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ToRecord converts a request to an ActivityRecord.
func (r *ActivityRequest) ToRecord() *ActivityRecord {
	return &ActivityRecord{
		ActorID:        r.ActorID,
		Action:         r.Action,
		TargetID:       r.TargetID,
		CounterpartyID: r.CounterpartyID,
		Amount:         r.Amount,
		Currency:       r.Currency,
		Description:    r.Description,
		Metadata:       r.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
}

// DisputeRequest is the API payload for POST /disputes.
type DisputeRequest struct {
	ActorID        string `json:"actorId"`
	CounterpartyID string `json:"counterpartyId"`

	// Type is the dispute category: "payment", "delivery", "quality".
	Type string `json:"type"`

	DisputedAmount int64  `json:"disputedAmount"`
	Currency       string `json:"currency,omitempty"`
	Description    string `json:"description,omitempty"`
}

// ActorProfile is a rolling per-actor summary maintained by the
// profile-refresh sweep and served from cache.
type ActorProfile struct {
	ActorID       string    `json:"actorId"`
	ActivityCount int64     `json:"activityCount"`
	OpenCases     int       `json:"openCases"`
	FlaggedCases  int       `json:"flaggedCases"`
	LastSeen      time.Time `json:"lastSeen"`
	RefreshedAt   time.Time `json:"refreshedAt"`
}
