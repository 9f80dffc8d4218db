package daichi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryPolicy bounds attempts per logical request.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy makes three attempts with 1s and 2s pauses in between.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2.0}
}

// Delay returns the pause after the given zero-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt)))
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	return p
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// transport sends one logical request with retries and transparent re-auth.
type transport struct {
	baseURL string
	session *Session
	pool    *connPool
	policy  RetryPolicy
	sleep   sleepFunc
	logger  *slog.Logger
}

func (t *transport) do(ctx context.Context, method, path string, payload any) (response, error) {
	op := method + " " + path

	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return response{}, cannotConnect(op, fmt.Errorf("encode request: %w", err))
		}
		body = encoded
	}

	policy := t.policy.normalized()
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		last := attempt == policy.MaxAttempts-1

		resp, err := t.send(ctx, method, path, body)
		if err != nil {
			if ctx.Err() != nil {
				requestsTotal.WithLabelValues("cancelled").Inc()
				return response{}, cannotConnect(op, ctx.Err())
			}
			requestsTotal.WithLabelValues("error").Inc()
			lastErr = err
			t.logger.Warn("daichi request failed", "op", op, "attempt", attempt+1, "error", err)
			if last {
				break
			}
			if err := t.sleep(ctx, policy.Delay(attempt)); err != nil {
				return response{}, cannotConnect(op, err)
			}
			continue
		}

		switch {
		case resp.status == http.StatusUnauthorized:
			requestsTotal.WithLabelValues("unauthorized").Inc()
			reauthTotal.Inc()
			t.logger.Info("daichi token rejected, re-authenticating", "op", op)
			if err := t.session.Authenticate(ctx); err != nil {
				return response{}, err
			}
			lastErr = errors.New("unauthorized")
			continue
		case resp.status >= http.StatusInternalServerError && !last:
			requestsTotal.WithLabelValues("server_error").Inc()
			lastErr = fmt.Errorf("status %d", resp.status)
			t.logger.Warn("daichi server error", "op", op, "status", resp.status, "attempt", attempt+1)
			if err := t.sleep(ctx, policy.Delay(attempt)); err != nil {
				return response{}, cannotConnect(op, err)
			}
			continue
		}

		requestsTotal.WithLabelValues("response").Inc()
		return resp, nil
	}

	return response{}, cannotConnect(op, fmt.Errorf("max retries exceeded: %w", lastErr))
}

func (t *transport) send(ctx context.Context, method, path string, body []byte) (response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return response{}, err
	}
	t.session.authorize(req)

	resp, err := t.pool.get().Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}
	return response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}
