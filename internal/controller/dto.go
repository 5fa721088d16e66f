package controller

import (
	"fmt"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

const maxIDsPerRequest = 500

type ValidateCampaignsRequest struct {
	CampaignIDs []string `json:"campaign_ids"`
	AutoFix     bool     `json:"auto_fix"`
}

func (r *ValidateCampaignsRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.CampaignIDs,
			validation.Length(0, maxIDsPerRequest),
			validation.Each(validation.By(validateUUID)),
		),
	)
	return wrapValidationError(err)
}

type ScheduleProspectsRequest struct {
	ProspectIDs []string `json:"prospect_ids"`
}

func (r *ScheduleProspectsRequest) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.ProspectIDs,
			validation.Required.Error("prospect_ids is required"),
			validation.Length(1, maxIDsPerRequest),
			validation.Each(validation.By(validateUUID)),
		),
	)
	return wrapValidationError(err)
}

func validateUUID(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_uuid_type", "must be a string")
	}
	if _, err := uuid.Parse(s); err != nil {
		return validation.NewError("validation_uuid", fmt.Sprintf("%q is not a valid id", s))
	}
	return nil
}

func wrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return appErrors.Wrap(appErrors.ErrInvalidInput, err.Error())
}

// parseIDs expects ids already checked by Validate.
func parseIDs(raw []string) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		ids = append(ids, uuid.MustParse(s))
	}
	return ids
}
