package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfileShapes(t *testing.T) {
	for name, body := range map[string]string{
		"top level": `{"provider_id":"ACoAAA1","first_name":"Jane"}`,
		"profile":   `{"profile":{"provider_id":"ACoAAA1","first_name":"Jane"}}`,
		"data":      `{"data":{"provider_id":"ACoAAA1","first_name":"Jane"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			p, err := ParseProfile([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, "ACoAAA1", p.ProviderID)
			assert.Equal(t, "Jane", p.FirstName)
		})
	}
}

func TestParseProfileRejectsUnknownShapes(t *testing.T) {
	for _, body := range []string{
		`{"id":"ACoAAA1"}`,
		`{"items":[{"provider_id":"ACoAAA1"}]}`,
		`{"provider_id":"   "}`,
		`not json`,
	} {
		_, err := ParseProfile([]byte(body))
		assert.True(t, errors.Is(err, ErrUnrecognizedPayload), body)
	}
}
