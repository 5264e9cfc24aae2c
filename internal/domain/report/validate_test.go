package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Run("nested report", func(t *testing.T) {
		r, err := Extract([]byte(`{"reportMetadata":{"sessionId":"s1","reportType":"jbi_x"}}`), fixedNow)
		require.NoError(t, err)
		assert.Equal(t, "s1", r.Metadata.SessionID)
		assert.Equal(t, DefaultFindings, r.ExecutiveSummary.OverallFindings)
	})

	t.Run("flat report with only sessionId", func(t *testing.T) {
		r, err := Extract([]byte(`{"sessionId":"s2"}`), fixedNow)
		require.NoError(t, err)
		assert.Equal(t, "s2", r.Metadata.SessionID)
	})

	t.Run("array is rejected", func(t *testing.T) {
		_, err := Extract([]byte(`[1,2]`), fixedNow)
		assert.ErrorIs(t, err, ErrNotObject)
	})

	t.Run("unrelated object is rejected", func(t *testing.T) {
		_, err := Extract([]byte(`{"hello":"world"}`), fixedNow)
		assert.ErrorIs(t, err, ErrMissingFields)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Extract([]byte(`{`), fixedNow)
		assert.Error(t, err)
	})
}

func TestIsJBIReport(t *testing.T) {
	assert.True(t, IsJBIReport(map[string]any{"reportMetadata": map[string]any{"reportType": "jbi_bias_assessment"}}))
	assert.False(t, IsJBIReport(map[string]any{"reportMetadata": map[string]any{"reportType": "summary"}}))
	assert.False(t, IsJBIReport(map[string]any{"reportType": "jbi_bias_assessment"}))
	assert.False(t, IsJBIReport(map[string]any{}))
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(&Report{}), ErrMissingSession)
	assert.ErrorIs(t, Validate(&Report{Metadata: Metadata{SessionID: "x"}}), ErrMissingFindings)
}
