package entsoe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"SpotSentinel/internal/model"
)

// Query parameter values for the day-ahead price publication.
const (
	documentTypeDayAhead = "A44"
	processTypeDayAhead  = "A01"
	periodTimeLayout     = "200601021504"
)

// Client fetches day-ahead price documents from the market operator's API.
// It is stateless: every call is one request window translated to a DaySeries
// or a typed failure.
type Client struct {
	BaseURL string
	Area    string // EIC code of the bidding zone
	Market  string // short market label carried on parsed series
	// QuarterHourFrom is the first date upstream is known to publish
	// quarter-hourly data.
	QuarterHourFrom model.Date
	Location        *time.Location

	HTTPClient *http.Client

	token      string
	limiter    *rate.Limiter
	retryDelay time.Duration
}

// NewClient creates a client for one bidding zone. The limiter keeps the
// request rate well under the operator's published limits; a 429 is still
// retried once after a short delay.
func NewClient(baseURL, token, area, market string, loc *time.Location, quarterHourFrom model.Date) *Client {
	return &Client{
		BaseURL:         baseURL,
		Area:            area,
		Market:          market,
		QuarterHourFrom: quarterHourFrom,
		Location:        loc,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		token:      token,
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 2),
		retryDelay: time.Second,
	}
}

// FetchDay fetches prices for one local calendar date. The request window is
// local midnight to next local midnight converted to UTC. When
// preferQuarterHour is set and upstream returns hourly data, the series is
// expanded to quarter-hour intervals so callers always see a full-width grid.
func (c *Client) FetchDay(ctx context.Context, d model.Date, preferQuarterHour bool) (*model.DaySeries, error) {
	start := d.StartIn(c.Location).UTC()
	end := d.Next().StartIn(c.Location).UTC()

	body, err := c.get(ctx, start, end)
	if err != nil {
		return nil, err
	}

	series, err := ParseDocument(body, c.Market)
	if err != nil {
		var na *NotAvailableError
		if errors.As(err, &na) {
			log.Printf("[INFO] no data for %s: %s | body: %s", d, na.Reason, snippet(body))
		}
		return nil, err
	}

	if preferQuarterHour && series.Granularity == model.Hour {
		if !d.Before(c.QuarterHourFrom) {
			log.Printf("[WARN] expected quarter-hour data for %s but got hourly, expanding", d)
		}
		series = SimulateQuarterHour(series)
	}
	return series, nil
}

func (c *Client) get(ctx context.Context, start, end time.Time) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &UpstreamError{Err: err}
	}

	body, status, err := c.doOnce(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if status == http.StatusTooManyRequests {
		log.Printf("[WARN] upstream rate limited, retrying in %v", c.retryDelay)
		select {
		case <-ctx.Done():
			return nil, &UpstreamError{Err: ctx.Err()}
		case <-time.After(c.retryDelay):
		}
		body, status, err = c.doOnce(ctx, start, end)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{StatusCode: status, Body: snippet(body)}
	}
	return body, nil
}

func (c *Client) doOnce(ctx context.Context, start, end time.Time) ([]byte, int, error) {
	q := url.Values{}
	q.Set("securityToken", c.token)
	q.Set("documentType", documentTypeDayAhead)
	q.Set("processType", processTypeDayAhead)
	q.Set("in_Domain", c.Area)
	q.Set("out_Domain", c.Area)
	q.Set("periodStart", start.Format(periodTimeLayout))
	q.Set("periodEnd", end.Format(periodTimeLayout))

	// Never log the security token.
	safe := url.Values{}
	for k, v := range q {
		if k != "securityToken" {
			safe[k] = v
		}
	}
	log.Printf("[INFO] GET %s?%s", c.BaseURL, safe.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, &UpstreamError{Err: fmt.Errorf("build request: %w", err)}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &UpstreamError{Err: fmt.Errorf("read body: %w", err)}
	}
	return body, resp.StatusCode, nil
}

func snippet(body []byte) string {
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
