package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

// Client queries a Codeforces-compatible judge API over HTTP.
// It returns raw submission records; window/outcome classification belongs to
// the challenge engine.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
	pageSize       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		pageSize:       50,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuerySubmissions returns the user's recent submissions to the given
// problem. All submissions for the problem are returned regardless of time;
// the caller applies the challenge window.
func (c *Client) QuerySubmissions(ctx context.Context, ref domain.ProblemRef, handle string) ([]domain.Submission, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, fmt.Errorf("empty handle")
	}

	q := url.Values{}
	q.Set("handle", handle)
	q.Set("from", "1")
	q.Set("count", fmt.Sprintf("%d", c.pageSize))

	var env statusEnvelope
	if err := c.getJSON(ctx, "/user.status?"+q.Encode(), &env); err != nil {
		return nil, err
	}
	if env.Status != "OK" {
		return nil, fmt.Errorf("judge rejected query: %s", strings.TrimSpace(env.Comment))
	}

	subs := make([]domain.Submission, 0, len(env.Result))
	for _, r := range env.Result {
		s := domain.Submission{
			ID:           r.ID,
			ContestID:    r.ContestID,
			ProblemIndex: r.Problem.Index,
			Verdict:      r.Verdict,
			SubmittedAt:  time.Unix(r.CreationTimeSeconds, 0).UTC(),
		}
		if s.Matches(ref) {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

// GetProblem resolves a problem's name and difficulty rating from the contest
// problem list. Unrated problems come back with Rating 0.
func (c *Client) GetProblem(ctx context.Context, ref domain.ProblemRef) (domain.Problem, error) {
	q := url.Values{}
	q.Set("contestId", fmt.Sprintf("%d", ref.ContestID))
	q.Set("from", "1")
	q.Set("count", "1")

	var env standingsEnvelope
	if err := c.getJSON(ctx, "/contest.standings?"+q.Encode(), &env); err != nil {
		return domain.Problem{}, err
	}
	if env.Status != "OK" {
		return domain.Problem{}, fmt.Errorf("judge rejected query: %s", strings.TrimSpace(env.Comment))
	}
	for _, p := range env.Result.Problems {
		if strings.EqualFold(p.Index, ref.Index) {
			return domain.Problem{
				Ref:    domain.ProblemRef{ContestID: ref.ContestID, Index: p.Index},
				Name:   p.Name,
				Rating: p.Rating,
			}, nil
		}
	}
	return domain.Problem{}, fmt.Errorf("problem %s not found in contest %d", ref.Index, ref.ContestID)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		timeout := c.defaultTimeout
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < timeout {
				timeout = rem
			}
		}
		if err := c.http.DoTimeout(req, resp, timeout); err != nil {
			lastErr = err
			time.Sleep(backoff(i))
			continue
		}
		code := resp.StatusCode()
		if code == fasthttp.StatusTooManyRequests || code >= 500 {
			lastErr = fmt.Errorf("judge http %d", code)
			time.Sleep(backoff(i))
			continue
		}
		body := resp.Body()
		if code != fasthttp.StatusOK {
			// Codeforces returns 400 with a JSON comment for bad handles;
			// surface the comment when it parses.
			var env statusEnvelope
			if jerr := json.Unmarshal(body, &env); jerr == nil && env.Comment != "" {
				return fmt.Errorf("judge http %d: %s", code, env.Comment)
			}
			return fmt.Errorf("judge http %d", code)
		}
		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode judge response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("judge query failed after %d attempts: %w", attempts, lastErr)
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt+1) * 500 * time.Millisecond
	if d > 3*time.Second {
		d = 3 * time.Second
	}
	return d
}
