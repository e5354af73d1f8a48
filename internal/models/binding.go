package models

import "time"

// BindingStatus tracks the lifecycle of a user's proxy binding.
type BindingStatus string

const (
	StatusPending BindingStatus = "pending"
	StatusActive  BindingStatus = "active"
	StatusFailed  BindingStatus = "failed"
	StatusRemoved BindingStatus = "removed"
)

// Binding links a username to its Zotero credential and the proxy instance
// provisioned for it. The API credential is never serialized to JSON; it is
// entered once at registration and afterwards lives only in the registry and
// the instance's environment.
type Binding struct {
	ID              string        `bson:"_id,omitempty" json:"id,omitempty"`
	Username        string        `bson:"username" json:"username"`
	APICredential   string        `bson:"apiCredential" json:"-"`
	OwnerID         string        `bson:"ownerId" json:"ownerId"`
	DisplayName     string        `bson:"displayName,omitempty" json:"displayName,omitempty"`
	Status          BindingStatus `bson:"status" json:"status"`
	CreatedAt       time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time     `bson:"updatedAt" json:"updatedAt"`
	LastValidatedAt time.Time     `bson:"lastValidatedAt,omitempty" json:"lastValidatedAt,omitempty"`
}

// Live reports whether the binding occupies its username. Removed rows are
// kept as audit entries and do not block re-registration.
func (b *Binding) Live() bool {
	return b.Status != StatusRemoved
}
