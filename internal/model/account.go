// internal/model/account.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type AccountConnectionStatus string

const (
	AccountConnected    AccountConnectionStatus = "connected"
	AccountDisconnected AccountConnectionStatus = "disconnected"
	AccountExpired      AccountConnectionStatus = "credentials_expired"
)

// OutreachAccount is a messaging-provider account a campaign sends through.
type OutreachAccount struct {
	ID                   uuid.UUID               `db:"id" json:"id"`
	WorkspaceID          uuid.UUID               `db:"workspace_id" json:"workspace_id"`
	ProviderAccountID    string                  `db:"provider_account_id" json:"provider_account_id"`
	Name                 string                  `db:"account_name" json:"account_name"`
	ConnectionStatus     AccountConnectionStatus `db:"connection_status" json:"connection_status"`
	Capabilities         []string                `db:"capabilities" json:"capabilities"`
	DailyConnectionLimit int                     `db:"daily_connection_limit" json:"daily_connection_limit"`
	DailyMessageLimit    int                     `db:"daily_message_limit" json:"daily_message_limit"`
	CreatedAt            time.Time               `db:"created_at" json:"created_at"`
}

func (a *OutreachAccount) Connected() bool {
	return a.ConnectionStatus == AccountConnected
}

func (a *OutreachAccount) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// DailyLimitFor returns the per-day send ceiling for the stage, 0 meaning unlimited.
func (a *OutreachAccount) DailyLimitFor(stage Stage) int {
	if stage.IsConnectionRequest() {
		return a.DailyConnectionLimit
	}
	return a.DailyMessageLimit
}
