package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSubmission() map[string]interface{} {
	return map[string]interface{}{
		"deliveryNoteNumber":   "DN-1",
		"truckLicensePlates":   "WX 1234",
		"trailerLicensePlates": "",
		"carrierCountry":       "PL",
		"carrierTaxCode":       "123",
		"carrierFullName":      "Carrier Sp. z o.o.",
		"borderCrossing":       "Kukuryki",
		"borderCrossingDate":   "2026-01-02",
		"email":                "driver@example.com",
	}
}

func TestValidator_DefaultSchema(t *testing.T) {
	v, err := NewValidatorFromFile("")
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		res, err := v.Validate(validSubmission())
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("missing required field", func(t *testing.T) {
		doc := validSubmission()
		delete(doc, "carrierTaxCode")

		res, err := v.Validate(doc)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.True(t, res.HasErrors("carrierTaxCode"))
	})

	t.Run("empty required value", func(t *testing.T) {
		doc := validSubmission()
		doc["borderCrossing"] = ""

		res, err := v.Validate(doc)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.True(t, res.HasErrors("borderCrossing"))
	})

	t.Run("bad email", func(t *testing.T) {
		doc := validSubmission()
		doc["email"] = "not-an-email"

		res, err := v.Validate(doc)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.True(t, res.HasErrors("email"))
		assert.NotEmpty(t, res.GetErrorMessages())
	})
}

func TestNewValidator_InvalidSchema(t *testing.T) {
	_, err := NewValidator(`{"type": 12}`)
	assert.Error(t, err)
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("a.b@example.co"))
	assert.False(t, ValidateEmail("a.b@example"))
	assert.False(t, ValidateEmail("@example.com"))
}
