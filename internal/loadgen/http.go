package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Upload results.
const (
	resultAccepted     = "accepted"
	resultDuplicate    = "duplicate"
	resultBackpressure = "backpressure"
	resultRejected     = "rejected"
	resultFailed       = "failed"
)

const maxBackpressureRetries = 5

var errStatus = errors.New("unexpected status")

// Client talks to the datacup HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for base with the given request timeout.
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

// Health checks that the service answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", errStatus, resp.StatusCode)
	}
	return nil
}

// Submit uploads s as a multipart form and classifies the answer. A 429 is
// retried after Retry-After, up to maxBackpressureRetries times.
func (c *Client) Submit(ctx context.Context, s Submission) (string, Outcome, error) {
	for attempt := 0; ; attempt++ {
		result, out, retryAfter, err := c.submitOnce(ctx, s)
		if result != resultBackpressure || attempt == maxBackpressureRetries {
			return result, out, err
		}
		select {
		case <-ctx.Done():
			return resultFailed, Outcome{}, ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

func (c *Client) submitOnce(ctx context.Context, s Submission) (string, Outcome, time.Duration, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("participant_id", s.ParticipantID)
	_ = mw.WriteField("submission_id", s.ID)
	fw, err := mw.CreateFormFile("file", "predictions.csv")
	if err != nil {
		return resultFailed, Outcome{}, 0, err
	}
	if _, err := fw.Write(s.Content); err != nil {
		return resultFailed, Outcome{}, 0, err
	}
	if err := mw.Close(); err != nil {
		return resultFailed, Outcome{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/submissions", &body)
	if err != nil {
		return resultFailed, Outcome{}, 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return resultFailed, Outcome{}, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resultFailed, Outcome{}, 0, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var out Outcome
		if err := json.Unmarshal(raw, &out); err != nil {
			return resultFailed, Outcome{}, 0, err
		}
		if out.Duplicate {
			return resultDuplicate, out, 0, nil
		}
		return resultAccepted, out, 0, nil
	case http.StatusTooManyRequests:
		wait := time.Second
		if n, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && n > 0 {
			wait = time.Duration(n) * time.Second
		}
		return resultBackpressure, Outcome{}, wait, fmt.Errorf("%w: %d", errStatus, resp.StatusCode)
	case http.StatusUnprocessableEntity, http.StatusConflict:
		return resultRejected, Outcome{}, 0, fmt.Errorf("%w: %d %s", errStatus, resp.StatusCode, bytes.TrimSpace(raw))
	default:
		return resultFailed, Outcome{}, 0, fmt.Errorf("%w: %d %s", errStatus, resp.StatusCode, bytes.TrimSpace(raw))
	}
}

// Leaderboard fetches the top n entries.
func (c *Client) Leaderboard(ctx context.Context, n int) ([]Entry, error) {
	var out []Entry
	err := c.getJSON(ctx, "/leaderboard?limit="+strconv.Itoa(n), &out)
	return out, err
}

// Rank fetches one participant's standing.
func (c *Client) Rank(ctx context.Context, participantID string) (Entry, error) {
	var out Entry
	err := c.getJSON(ctx, "/rank/"+url.PathEscape(participantID), &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("GET %s: %w: %d", path, errStatus, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}
