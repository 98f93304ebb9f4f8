package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSentimentPayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{
		"name": "Fear and Greed Index",
		"data": [
			{"value": "72", "value_classification": "Greed", "timestamp": "1767225600", "time_until_update": "1800"},
			{"value": "65", "value_classification": "Greed", "timestamp": "1767139200"}
		],
		"metadata": {"error": null}
	}`)

	data, next, err := parseSentimentPayload(body, now)
	require.NoError(t, err)
	assert.Equal(t, 72, data.Value)
	assert.Equal(t, "Greed", data.Classification)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), data.Timestamp)
	assert.Equal(t, 30*time.Minute, data.TimeUntilUpdate)
	assert.Len(t, data.History, 2)
	assert.Equal(t, 65, data.History[1].Value)
	assert.Equal(t, now, data.LastUpdate)
	assert.Equal(t, now.Add(30*time.Minute), next)
}

func TestParseSentimentPayloadAPIError(t *testing.T) {
	body := []byte(`{"data": [], "metadata": {"error": "rate limit exceeded"}}`)
	_, _, err := parseSentimentPayload(body, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestParseSentimentPayloadEmptyData(t *testing.T) {
	_, _, err := parseSentimentPayload([]byte(`{"data": []}`), time.Now())
	assert.Error(t, err)

	_, _, err = parseSentimentPayload([]byte(`{"data": [{"value_classification": "Greed"}]}`), time.Now())
	assert.Error(t, err)
}

func TestParseSentimentPayloadFallbackNextUpdate(t *testing.T) {
	now := time.Now()
	body := []byte(`{"data": [{"value": "40", "value_classification": "Fear", "timestamp": "1767225600"}]}`)
	data, next, err := parseSentimentPayload(body, now)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), data.TimeUntilUpdate)
	assert.Equal(t, now.Add(sentimentFallbackUpdate), next)
}

func TestDisabledSentiment(t *testing.T) {
	var idx SentimentIndex = DisabledSentiment{}
	_, ok := idx.Get()
	assert.False(t, ok)
	idx.RefreshIfStale(nil) // must be a no-op
}
