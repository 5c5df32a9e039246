package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		outcomes   []UploadOutcome
		wantStatus AttachmentStatus
		wantErr    string
	}{
		{
			name:       "no items",
			wantStatus: AttachmentNone,
		},
		{
			name: "all succeeded",
			outcomes: []UploadOutcome{
				{Filename: "a.pdf", Success: true},
				{Filename: "b.pdf", Success: true},
			},
			wantStatus: AttachmentSaved,
		},
		{
			name: "partial failure names only the failed item",
			outcomes: []UploadOutcome{
				{Filename: "a.pdf", Success: true},
				{Filename: "b.pdf", Err: errors.New("timeout")},
				{Filename: "c.pdf", Success: true},
			},
			wantStatus: AttachmentSaved,
			wantErr:    "b.pdf: timeout",
		},
		{
			name: "all failed",
			outcomes: []UploadOutcome{
				{Filename: "a.pdf", Err: errors.New("locked")},
				{Filename: "b.pdf"},
			},
			wantStatus: AttachmentFailed,
			wantErr:    "a.pdf: locked; b.pdf: upload failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := AggregateOutcomes(tt.outcomes)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantErr, msg)
		})
	}
}

func TestFields_JSONKeepsOrder(t *testing.T) {
	fields := Fields{{"zeta", "1"}, {"alpha", "2"}, {"mid", "3"}}

	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"1","alpha":"2","mid":"3"}`, string(raw))

	var back Fields
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, fields, back)
}

func TestFields_UnmarshalNonStringValues(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"n":12,"b":true,"x":null}`), &f))

	assert.Equal(t, "12", f.Value("n"))
	assert.Equal(t, "true", f.Value("b"))
	assert.Equal(t, "", f.Value("x"))
	_, ok := f.Get("missing")
	assert.False(t, ok)
}

func TestFields_TrimSpaceDoesNotAlias(t *testing.T) {
	orig := Fields{{"email", "  a@b.co "}}
	trimmed := orig.TrimSpace()

	assert.Equal(t, "a@b.co", trimmed.Value("email"))
	assert.Equal(t, "  a@b.co ", orig.Value("email"))
}
