package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []ConsultationStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	allowed := map[[2]ConsultationStatus]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]ConsultationStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRawJSONVerbatim(t *testing.T) {
	body := `{"text":"hello","summary":"s","keyPoints":["a"],"extra":{"x":1}}`
	c := Consultation{Transcription: RawJSON(body)}

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"transcription":`+body)

	var back Consultation
	require.NoError(t, json.Unmarshal(out, &back))
	assert.JSONEq(t, body, string(back.Transcription))

	empty, err := json.Marshal(Consultation{})
	require.NoError(t, err)
	assert.Contains(t, string(empty), `"transcription":null`)
}

func TestAgeOn(t *testing.T) {
	dob := time.Date(1990, time.June, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 34, AgeOn(dob, time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 35, AgeOn(dob, time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)))
}
