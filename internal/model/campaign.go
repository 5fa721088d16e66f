// internal/model/campaign.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CampaignType string

const (
	CampaignTypeConnector CampaignType = "connector"
	CampaignTypeMessenger CampaignType = "messenger"
	CampaignTypeEmail     CampaignType = "email"
)

type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "draft"
	CampaignStatusActive   CampaignStatus = "active"
	CampaignStatusPaused   CampaignStatus = "paused"
	CampaignStatusArchived CampaignStatus = "archived"
)

// MessageTemplates is stored as a single JSONB column.
type MessageTemplates struct {
	ConnectionRequest  string   `json:"connection_request,omitempty"`
	AlternativeMessage string   `json:"alternative_message,omitempty"`
	DirectMessages     []string `json:"direct_messages,omitempty"`
	FollowUpMessages   []string `json:"follow_up_messages,omitempty"`
}

func (t MessageTemplates) Value() (driver.Value, error) {
	return json.Marshal(t)
}

func (t *MessageTemplates) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = MessageTemplates{}
		return nil
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("message templates: unsupported scan type %T", src)
	}
}

type Campaign struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	WorkspaceID     uuid.UUID        `db:"workspace_id" json:"workspace_id"`
	Name            string           `db:"name" json:"name"`
	Type            CampaignType     `db:"campaign_type" json:"campaign_type"`
	Status          CampaignStatus   `db:"status" json:"status"`
	Templates       MessageTemplates `db:"message_templates" json:"message_templates"`
	LinkedAccountID *uuid.UUID       `db:"linked_account_id" json:"linked_account_id,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// InitialStage is the first step of the campaign's sequence.
func (c *Campaign) InitialStage() (Stage, bool) {
	switch c.Type {
	case CampaignTypeConnector:
		return StageConnectionRequest, true
	case CampaignTypeMessenger:
		return DirectMessageStage(1), true
	default:
		return "", false
	}
}

// TemplateFor returns the raw template for a stage. Follow-up 1 falls back to
// the alternative message when no explicit follow-up is configured.
func (c *Campaign) TemplateFor(stage Stage) (string, bool) {
	kind, n := stage.Parts()
	var tmpl string
	switch kind {
	case StageKindConnectionRequest:
		tmpl = c.Templates.ConnectionRequest
	case StageKindDirectMessage:
		if n >= 1 && n <= len(c.Templates.DirectMessages) {
			tmpl = c.Templates.DirectMessages[n-1]
		}
	case StageKindFollowUp:
		if n >= 1 && n <= len(c.Templates.FollowUpMessages) {
			tmpl = c.Templates.FollowUpMessages[n-1]
		}
		if strings.TrimSpace(tmpl) == "" && n == 1 {
			tmpl = c.Templates.AlternativeMessage
		}
	}
	if strings.TrimSpace(tmpl) == "" {
		return "", false
	}
	return tmpl, true
}

// CreatedBefore reports whether the campaign is older than age at now.
func (c *Campaign) CreatedBefore(now time.Time, age time.Duration) bool {
	return c.CreatedAt.Before(now.Add(-age))
}
