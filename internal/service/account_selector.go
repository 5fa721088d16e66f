package service

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// AccountSelector picks the sending account for a campaign. The linked account
// wins; without one, connected workspace accounts are ranked by preferred
// capability and then by age.
type AccountSelector struct {
	Accounts            repository.AccountRepositoryInterface
	PreferredCapability string
}

func (s *AccountSelector) Select(ctx context.Context, campaign *model.Campaign) (*model.OutreachAccount, error) {
	if campaign.LinkedAccountID != nil {
		account, err := s.Accounts.GetByID(ctx, *campaign.LinkedAccountID)
		if err != nil {
			if appErrors.Is(err, appErrors.ErrNotFound) {
				return nil, fmt.Errorf("%w: linked account %s not found", appErrors.ErrNoEligibleAccount, campaign.LinkedAccountID)
			}
			return nil, err
		}
		if !account.Connected() {
			return nil, fmt.Errorf("%w: linked account %s is %s", appErrors.ErrNoEligibleAccount, account.ID, account.ConnectionStatus)
		}
		return account, nil
	}

	accounts, err := s.Accounts.ListConnected(ctx, campaign.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, appErrors.ErrNoEligibleAccount
	}
	if s.PreferredCapability != "" {
		for _, a := range accounts {
			if a.HasCapability(s.PreferredCapability) {
				return a, nil
			}
		}
	}
	return accounts[0], nil
}
