package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Profile is the resolved identity of a provider user.
type Profile struct {
	ProviderID string
	PublicID   string
	FirstName  string
	LastName   string
}

type profileFields struct {
	ProviderID string `json:"provider_id"`
	PublicID   string `json:"public_identifier"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

// ParseProfile accepts exactly three shapes: the profile at the top level,
// nested under "profile", or nested under "data". Anything else is an error.
func ParseProfile(body []byte) (*Profile, error) {
	var envelope struct {
		profileFields
		Profile *profileFields `json:"profile"`
		Data    *profileFields `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}

	var found *profileFields
	switch {
	case strings.TrimSpace(envelope.ProviderID) != "":
		found = &envelope.profileFields
	case envelope.Profile != nil && strings.TrimSpace(envelope.Profile.ProviderID) != "":
		found = envelope.Profile
	case envelope.Data != nil && strings.TrimSpace(envelope.Data.ProviderID) != "":
		found = envelope.Data
	default:
		return nil, fmt.Errorf("%w: no provider_id present", ErrUnrecognizedPayload)
	}

	return &Profile{
		ProviderID: strings.TrimSpace(found.ProviderID),
		PublicID:   found.PublicID,
		FirstName:  found.FirstName,
		LastName:   found.LastName,
	}, nil
}

// Receipt is what a successful delivery returns. Fields are optional.
type Receipt struct {
	InvitationID string `json:"invitation_id"`
	ChatID       string `json:"chat_id"`
	MessageID    string `json:"message_id"`
}

func parseReceipt(body []byte) Receipt {
	var r Receipt
	if len(bytes.TrimSpace(body)) == 0 {
		return r
	}
	var alt struct {
		Receipt
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &alt); err != nil {
		return r
	}
	r = alt.Receipt
	if r.ChatID == "" {
		r.ChatID = alt.ID
	}
	return r
}
