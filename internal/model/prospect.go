// internal/model/prospect.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type ProspectStatus string

const (
	ProspectStatusPending               ProspectStatus = "pending"
	ProspectStatusApproved              ProspectStatus = "approved"
	ProspectStatusQueued                ProspectStatus = "queued"
	ProspectStatusProcessing            ProspectStatus = "processing"
	ProspectStatusConnectionRequestSent ProspectStatus = "connection_request_sent"
	ProspectStatusDirectMessageSent     ProspectStatus = "direct_message_sent"
	ProspectStatusConnected             ProspectStatus = "connected"
	ProspectStatusFailed                ProspectStatus = "failed"
	ProspectStatusRateLimited           ProspectStatus = "rate_limited"
	ProspectStatusAlreadyInvited        ProspectStatus = "already_invited"
	ProspectStatusDeclined              ProspectStatus = "declined"
	ProspectStatusMessaging             ProspectStatus = "messaging"
	ProspectStatusReplied               ProspectStatus = "replied"
	ProspectStatusFollowUpSent          ProspectStatus = "follow_up_sent"
	ProspectStatusCompleted             ProspectStatus = "completed"
)

// prospectTransitions is the lifecycle DAG. failed and rate_limited may go
// back to pending (or straight to queued when a repaired row already exists).
var prospectTransitions = map[ProspectStatus][]ProspectStatus{
	ProspectStatusPending:  {ProspectStatusApproved, ProspectStatusQueued, ProspectStatusFailed},
	ProspectStatusApproved: {ProspectStatusQueued, ProspectStatusFailed},
	ProspectStatusQueued:   {ProspectStatusProcessing, ProspectStatusFailed},
	ProspectStatusProcessing: {
		ProspectStatusConnectionRequestSent, ProspectStatusDirectMessageSent, ProspectStatusFollowUpSent,
		ProspectStatusQueued, ProspectStatusConnected, ProspectStatusFailed, ProspectStatusRateLimited,
		ProspectStatusAlreadyInvited, ProspectStatusDeclined,
	},
	ProspectStatusConnectionRequestSent: {
		ProspectStatusConnected, ProspectStatusDeclined, ProspectStatusFailed,
		ProspectStatusAlreadyInvited, ProspectStatusRateLimited,
	},
	ProspectStatusDirectMessageSent: {
		ProspectStatusMessaging, ProspectStatusReplied, ProspectStatusFollowUpSent,
		ProspectStatusFailed, ProspectStatusCompleted,
	},
	ProspectStatusConnected: {
		ProspectStatusMessaging, ProspectStatusDirectMessageSent, ProspectStatusFollowUpSent,
		ProspectStatusReplied, ProspectStatusFailed, ProspectStatusCompleted,
	},
	ProspectStatusFailed:         {ProspectStatusPending, ProspectStatusQueued},
	ProspectStatusRateLimited:    {ProspectStatusPending, ProspectStatusQueued},
	ProspectStatusAlreadyInvited: {ProspectStatusConnected, ProspectStatusDeclined, ProspectStatusCompleted},
	ProspectStatusDeclined:       {ProspectStatusCompleted},
	ProspectStatusMessaging:      {ProspectStatusReplied, ProspectStatusFollowUpSent, ProspectStatusFailed, ProspectStatusCompleted},
	ProspectStatusReplied:        {ProspectStatusCompleted},
	ProspectStatusFollowUpSent:   {ProspectStatusFollowUpSent, ProspectStatusReplied, ProspectStatusFailed, ProspectStatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the lifecycle DAG.
func CanTransition(from, to ProspectStatus) bool {
	for _, next := range prospectTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FollowUpReady lists statuses from which a follow-up may be delivered.
func (s ProspectStatus) FollowUpReady() bool {
	switch s {
	case ProspectStatusConnected, ProspectStatusMessaging, ProspectStatusDirectMessageSent, ProspectStatusFollowUpSent:
		return true
	}
	return false
}

// SequenceHalted is true once no further outreach should happen.
func (s ProspectStatus) SequenceHalted() bool {
	switch s {
	case ProspectStatusReplied, ProspectStatusCompleted, ProspectStatusDeclined,
		ProspectStatusFailed, ProspectStatusRateLimited, ProspectStatusAlreadyInvited:
		return true
	}
	return false
}

// Contacted reports whether an outreach message has reached the prospect.
func (s ProspectStatus) Contacted() bool {
	switch s {
	case ProspectStatusConnectionRequestSent, ProspectStatusDirectMessageSent, ProspectStatusConnected,
		ProspectStatusMessaging, ProspectStatusReplied, ProspectStatusFollowUpSent, ProspectStatusCompleted:
		return true
	}
	return false
}

type Prospect struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	CampaignID uuid.UUID      `db:"campaign_id" json:"campaign_id"`
	FirstName  string         `db:"first_name" json:"first_name"`
	LastName   string         `db:"last_name" json:"last_name"`
	Company    string         `db:"company_name" json:"company_name"`
	Title      string         `db:"title" json:"title"`
	ProfileURL string         `db:"profile_url" json:"profile_url"`
	ProviderID string         `db:"provider_id" json:"provider_id"` // may still hold a vanity
	Status     ProspectStatus `db:"status" json:"status"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

func (p *Prospect) HasUsableLocator() bool {
	return p.Target() != ""
}

// Target is the identifier a queue row is created with: the provider id when
// known, otherwise the profile locator.
func (p *Prospect) Target() string {
	if id := trimmed(p.ProviderID); id != "" {
		return id
	}
	return trimmed(p.ProfileURL)
}

func (p *Prospect) DisplayName() string {
	name := trimmed(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.ID.String()
	}
	return name
}

// TransitionSources keeps the candidates that may legally move to `to`. With no
// candidates it returns every status that has an edge to `to`.
func TransitionSources(to ProspectStatus, candidates ...ProspectStatus) []ProspectStatus {
	if len(candidates) == 0 {
		for from := range prospectTransitions {
			candidates = append(candidates, from)
		}
	}
	out := make([]ProspectStatus, 0, len(candidates))
	for _, from := range candidates {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
