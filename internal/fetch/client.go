package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"hitgrab/internal/claimqueue"
	"hitgrab/internal/classify"
	"hitgrab/internal/job"
	"hitgrab/internal/search"
)

// ClientConfig configures the HTTP side.
type ClientConfig struct {
	// BaseURL replaces the default remote origin; used by tests and proxies.
	BaseURL   string            `json:"base_url" yaml:"base_url"`
	UserAgent string            `json:"user_agent" yaml:"user_agent"`
	Cookies   map[string]string `json:"cookies" yaml:"cookies"`
	MaxBody   int64             `json:"max_body" yaml:"max_body"`
}

// Client issues the remote requests. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	base    string
	ua      string
	maxBody int64
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = job.WorkerHost
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url %q", base)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if len(cfg.Cookies) > 0 {
		cs := make([]*http.Cookie, 0, len(cfg.Cookies))
		for k, v := range cfg.Cookies {
			cs = append(cs, &http.Cookie{Name: k, Value: v, Path: "/"})
		}
		jar.SetCookies(u, cs)
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 2 << 20
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "hitgrab/1.0"
	}
	return &Client{
		http:    &http.Client{Jar: jar},
		base:    base,
		ua:      ua,
		maxBody: cfg.MaxBody,
	}, nil
}

// resolve points an absolute remote URL at the configured origin.
func (c *Client) resolve(raw string) string {
	if strings.HasPrefix(raw, job.WorkerHost) {
		return c.base + strings.TrimPrefix(raw, job.WorkerHost)
	}
	if strings.HasPrefix(raw, "/") {
		return c.base + raw
	}
	return raw
}

// Get fetches a URL and captures what the classifier needs. Transport
// failures land in Outcome.Err; HTTP error statuses do not.
func (c *Client) Get(ctx context.Context, rawURL string) classify.Outcome {
	out, _ := c.do(ctx, rawURL)
	return out
}

func (c *Client) do(ctx context.Context, rawURL string) (classify.Outcome, http.Header) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(rawURL), nil)
	if err != nil {
		return classify.Outcome{Err: err}, nil
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json, text/html;q=0.9")
	resp, err := c.http.Do(req)
	if err != nil {
		return classify.Outcome{Err: err}, nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	out := classify.Outcome{
		Status:      resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}
	if err != nil {
		out.Err = errors.Wrap(err, "read body")
	}
	return out, resp.Header
}

// Accept tries to claim one item of a group.
func (c *Client) Accept(ctx context.Context, groupID string) classify.Outcome {
	return c.Get(ctx, c.base+job.AcceptPath(groupID))
}

// getJSON fetches a listing and decodes it. A redirect to sign-in is
// ErrSignedOut; 429 and 503 are ErrThrottled carrying the server's delay.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	out, hdr := c.do(ctx, c.base+path)
	if out.Err != nil {
		return out.Err
	}
	switch out.Status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		after, ok := parseRetryAfter(hdr.Get("Retry-After"))
		if !ok {
			after = 3 * time.Second
		}
		return RetryAfter(ErrThrottled, after)
	}
	if classify.Classify(out).Mode == classify.LoggedOut {
		return NoRetry(ErrSignedOut)
	}
	if out.Status != http.StatusOK {
		return errors.Newf("unexpected status %d from %s", out.Status, path)
	}
	if err := json.Unmarshal(out.Body, v); err != nil {
		return NoRetry(errors.Wrapf(err, "decode %s", path))
	}
	return nil
}

type money struct {
	Dollars float64 `json:"amount_in_dollars"`
}

type queueResponse struct {
	Tasks []struct {
		AssignmentID     string `json:"assignment_id"`
		Deadline         string `json:"deadline"`
		SecondsRemaining int    `json:"time_to_deadline_in_seconds"`
		Project          struct {
			GroupID       string `json:"hit_set_id"`
			RequesterID   string `json:"requester_id"`
			RequesterName string `json:"requester_name"`
			Title         string `json:"title"`
			Reward        money  `json:"monetary_reward"`
		} `json:"project"`
	} `json:"tasks"`
}

// Queue reads the account's claimed items.
func (c *Client) Queue(ctx context.Context) ([]claimqueue.Item, error) {
	var resp queueResponse
	if err := c.getJSON(ctx, job.QueuePath, &resp); err != nil {
		return nil, err
	}
	now := time.Now()
	items := make([]claimqueue.Item, 0, len(resp.Tasks))
	for _, t := range resp.Tasks {
		deadline, err := time.Parse(time.RFC3339, t.Deadline)
		if err != nil {
			deadline = now.Add(time.Duration(t.SecondsRemaining) * time.Second)
		}
		items = append(items, claimqueue.Item{
			AssignmentID:  t.AssignmentID,
			GroupID:       t.Project.GroupID,
			RequesterID:   t.Project.RequesterID,
			RequesterName: t.Project.RequesterName,
			Title:         t.Project.Title,
			Price:         t.Project.Reward.Dollars,
			Deadline:      deadline,
		})
	}
	return items, nil
}

type searchResponse struct {
	Results []struct {
		GroupID         string `json:"hit_set_id"`
		RequesterID     string `json:"requester_id"`
		RequesterName   string `json:"requester_name"`
		Title           string `json:"title"`
		Description     string `json:"description"`
		Reward          money  `json:"monetary_reward"`
		DurationSeconds int    `json:"assignment_duration_in_seconds"`
		Available       int    `json:"assignable_hits_count"`
	} `json:"results"`
}

// Search reads the newest available groups.
func (c *Client) Search(ctx context.Context, pageSize int) ([]search.Listing, error) {
	var resp searchResponse
	if err := c.getJSON(ctx, job.SearchPath(pageSize), &resp); err != nil {
		return nil, err
	}
	out := make([]search.Listing, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, search.Listing{
			GroupID:       r.GroupID,
			RequesterID:   r.RequesterID,
			RequesterName: r.RequesterName,
			Title:         r.Title,
			Description:   r.Description,
			Price:         r.Reward.Dollars,
			HitsAvailable: r.Available,
			AssignedTime:  r.DurationSeconds,
		})
	}
	return out, nil
}

// parseRetryAfter reads a Retry-After value in seconds.
func parseRetryAfter(v string) (time.Duration, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
