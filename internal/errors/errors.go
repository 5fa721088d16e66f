// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoEligibleAccount is returned when neither the campaign nor the
	// workspace has a connected account able to send.
	ErrNoEligibleAccount = errors.New("no eligible outreach account")

	// ErrStaleTransition means a conditional status write matched no row:
	// another actor moved the record first.
	ErrStaleTransition = errors.New("stale status transition")
)

type ErrCampaignNotFound struct {
	CampaignID uuid.UUID
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

func (e *ErrCampaignNotFound) Unwrap() error { return ErrNotFound }

func NewCampaignNotFound(id uuid.UUID) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrProspectNotFound struct {
	ProspectID uuid.UUID
}

func (e *ErrProspectNotFound) Error() string {
	return fmt.Sprintf("prospect with ID %s not found", e.ProspectID)
}

func (e *ErrProspectNotFound) Unwrap() error { return ErrNotFound }

func NewProspectNotFound(id uuid.UUID) error {
	return &ErrProspectNotFound{ProspectID: id}
}

type ErrQueueItemNotFound struct {
	ItemID uuid.UUID
}

func (e *ErrQueueItemNotFound) Error() string {
	return fmt.Sprintf("send queue item with ID %s not found", e.ItemID)
}

func (e *ErrQueueItemNotFound) Unwrap() error { return ErrNotFound }

func NewQueueItemNotFound(id uuid.UUID) error {
	return &ErrQueueItemNotFound{ItemID: id}
}

type ErrAccountNotFound struct {
	AccountID uuid.UUID
}

func (e *ErrAccountNotFound) Error() string {
	return fmt.Sprintf("outreach account with ID %s not found", e.AccountID)
}

func (e *ErrAccountNotFound) Unwrap() error { return ErrNotFound }

func NewAccountNotFound(id uuid.UUID) error {
	return &ErrAccountNotFound{AccountID: id}
}

// Wrap adds context while keeping the chain intact for errors.Is/As.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
