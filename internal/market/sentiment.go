package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dvirmail/cryptonew-sub011/internal/logger"
)

const (
	sentimentDefaultEndpoint = "https://api.alternative.me/fng/?limit=5"
	sentimentErrorBackoff    = 2 * time.Minute
	sentimentFallbackUpdate  = 12 * time.Hour
)

type SentimentPoint struct {
	Value          int
	Classification string
	Timestamp      time.Time
}

type SentimentData struct {
	Value           int
	Classification  string
	Timestamp       time.Time
	TimeUntilUpdate time.Duration
	History         []SentimentPoint
	LastUpdate      time.Time
	Error           string
}

// SentimentIndex is a best-effort decoration for regime snapshots. Its
// unavailability must never fail or block regime computation.
type SentimentIndex interface {
	Get() (SentimentData, bool)
	RefreshIfStale(ctx context.Context)
}

// DisabledSentiment is the no-op implementation swapped in when the index
// is turned off in config.
type DisabledSentiment struct{}

func (DisabledSentiment) Get() (SentimentData, bool)     { return SentimentData{}, false }
func (DisabledSentiment) RefreshIfStale(context.Context) {}

// SentimentService polls a public fear/greed style index at the interval the
// provider advertises, with its own error backoff. Failures are logged once
// per failure streak to keep the regime loop quiet.
type SentimentService struct {
	endpoint string
	client   *http.Client

	mu            sync.RWMutex
	data          SentimentData
	nextUpdate    time.Time
	failureStreak int
	refreshMu     sync.Mutex
}

func NewSentimentService(endpoint string) *SentimentService {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = sentimentDefaultEndpoint
	}
	return &SentimentService{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

var _ SentimentIndex = (*SentimentService)(nil)

func (s *SentimentService) Get() (SentimentData, bool) {
	if s == nil {
		return SentimentData{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok := !s.data.LastUpdate.IsZero() && s.data.Error == ""
	return s.data, ok
}

// RefreshIfStale re-fetches only when the advertised next-update time has
// passed. Concurrent callers are coalesced.
func (s *SentimentService) RefreshIfStale(ctx context.Context) {
	if s == nil {
		return
	}
	now := time.Now()
	s.mu.RLock()
	next := s.nextUpdate
	last := s.data.LastUpdate
	s.mu.RUnlock()
	if !last.IsZero() && !next.IsZero() && now.Before(next) {
		return
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.RLock()
	next = s.nextUpdate
	last = s.data.LastUpdate
	s.mu.RUnlock()
	if !last.IsZero() && !next.IsZero() && now.Before(next) {
		return
	}
	if err := s.refresh(ctx); err != nil {
		s.mu.Lock()
		s.failureStreak++
		streak := s.failureStreak
		s.mu.Unlock()
		if streak == 1 {
			logger.Warnf("sentiment index refresh failed: %v", err)
		}
	} else {
		s.mu.Lock()
		s.failureStreak = 0
		s.mu.Unlock()
	}
}

func (s *SentimentService) refresh(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("sentiment service not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		s.setError(err)
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.setError(err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		s.setError(err)
		return err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.setError(err)
		return err
	}

	data, next, err := parseSentimentPayload(body, time.Now())
	if err != nil {
		s.setError(err)
		return err
	}
	s.setData(data, next)
	return nil
}

// parseSentimentPayload tolerates the loosely-typed shape the index returns
// (numbers as strings, optional fields).
func parseSentimentPayload(body []byte, now time.Time) (SentimentData, time.Time, error) {
	root := gjson.ParseBytes(body)
	if apiErr := root.Get("metadata.error"); apiErr.Exists() && apiErr.Type != gjson.Null {
		return SentimentData{}, time.Time{}, fmt.Errorf("api error: %s", apiErr.String())
	}
	items := root.Get("data").Array()
	if len(items) == 0 {
		return SentimentData{}, time.Time{}, fmt.Errorf("api data empty")
	}

	points := make([]SentimentPoint, 0, len(items))
	for _, item := range items {
		value := item.Get("value")
		if !value.Exists() {
			continue
		}
		var ts time.Time
		if sec := item.Get("timestamp").Int(); sec > 0 {
			ts = time.Unix(sec, 0).UTC()
		}
		points = append(points, SentimentPoint{
			Value:          int(value.Int()),
			Classification: strings.TrimSpace(item.Get("value_classification").String()),
			Timestamp:      ts,
		})
	}
	if len(points) == 0 {
		return SentimentData{}, time.Time{}, fmt.Errorf("api data invalid")
	}

	var until time.Duration
	if secs := items[0].Get("time_until_update").Int(); secs > 0 {
		until = time.Duration(secs) * time.Second
	}
	next := now.Add(sentimentFallbackUpdate)
	if until > 0 {
		next = now.Add(until)
	}

	latest := points[0]
	data := SentimentData{
		Value:           latest.Value,
		Classification:  latest.Classification,
		Timestamp:       latest.Timestamp,
		TimeUntilUpdate: until,
		History:         points,
		LastUpdate:      now,
	}
	return data, next, nil
}

func (s *SentimentService) setError(err error) {
	if s == nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.setData(SentimentData{LastUpdate: now, Error: msg}, now.Add(sentimentErrorBackoff))
}

func (s *SentimentService) setData(data SentimentData, next time.Time) {
	s.mu.Lock()
	s.data = data
	s.nextUpdate = next
	s.mu.Unlock()
}
