package discordgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultAPIBase = "https://discord.com/api/v10"

// RestClient is a minimal Discord REST client covering what the bot sends:
// channel messages and their edits.
type RestClient struct {
	baseURL string
	token   string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type RestOption func(*RestClient)

func WithTimeout(d time.Duration) RestOption {
	return func(c *RestClient) { c.defaultTimeout = d }
}

func WithRetry(max int) RestOption {
	return func(c *RestClient) { c.retryMax = max }
}

func WithBaseURL(url string) RestOption {
	return func(c *RestClient) { c.baseURL = strings.TrimRight(url, "/") }
}

func NewRestClient(botToken string, opts ...RestOption) *RestClient {
	c := &RestClient{
		baseURL:        defaultAPIBase,
		token:          botToken,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateMessage posts content to a channel and returns the new message ID.
func (c *RestClient) CreateMessage(ctx context.Context, channelID, content string) (string, error) {
	var out messageResponse
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, createMessageRequest{Content: content}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// EditMessage replaces a message's content.
func (c *RestClient) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	return c.doJSON(ctx, fasthttp.MethodPatch, path, editMessageRequest{Content: content}, nil)
}

func (c *RestClient) doJSON(ctx context.Context, method, path string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bot "+c.token)

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("discord request: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil

		case status == fasthttp.StatusTooManyRequests:
			// Discord tells us exactly how long to wait.
			wait := backoffDuration(attempt)
			var rl rateLimitResponse
			if json.Unmarshal(resp.Body(), &rl) == nil && rl.RetryAfter > 0 {
				wait = time.Duration(rl.RetryAfter * float64(time.Second))
			}
			lastErr = fmt.Errorf("discord rate limited: retry after %s", wait)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, wait); sleepErr != nil {
				return lastErr
			}

		case status >= 500:
			lastErr = fmt.Errorf("discord api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}

		default:
			return fmt.Errorf("discord api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *RestClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 250 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
