// Package httpx es el cliente HTTP de los adapters: rate limiting por endpoint,
// reintentos con backoff exponencial y decodificación JSON.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultBaseWait = 500 * time.Millisecond
	maxRetryAfter   = 30 * time.Second
	maxErrorBody    = 2048
)

// Options configura el cliente. Name identifica al adapter en los logs.
type Options struct {
	Name       string
	Timeout    time.Duration
	MaxRetries int
	BaseWait   time.Duration
}

// Client ejecuta peticiones JSON con reintentos. Es seguro para uso concurrente.
type Client struct {
	http *http.Client
	opts Options
}

// New crea el cliente. MaxRetries 0 significa un solo intento.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.BaseWait <= 0 {
		opts.BaseWait = defaultBaseWait
	}
	return &Client{http: &http.Client{Timeout: opts.Timeout}, opts: opts}
}

// StatusError es una respuesta 4xx distinta de 429. No se reintenta.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Body)
}

// GetJSON hace un GET y decodifica la respuesta en out.
func (c *Client) GetJSON(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.Do(ctx, limiter, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// PostJSON serializa body una sola vez y lo reenvía en cada intento.
func (c *Client) PostJSON(ctx context.Context, limiter *rate.Limiter, url string, headers map[string]string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.Do(ctx, limiter, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}, out)
}

// Do construye la petición con build en cada intento. Reintenta errores de red,
// 429 y 5xx; un contexto cancelado corta sin reintentar.
func (c *Client) Do(ctx context.Context, limiter *rate.Limiter, build func(context.Context) (*http.Request, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1, lastErr); err != nil {
				return fmt.Errorf("%w (last: %v)", err, lastErr)
			}
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		req, err := build(ctx)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = &retryableError{code: resp.StatusCode, after: retryAfter(resp.Header)}
			slog.Warn("http retry", "client", c.opts.Name, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode, Body: string(body)}
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries: %w", c.opts.MaxRetries, lastErr)
}

type retryableError struct {
	code  int
	after time.Duration
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("status %d", e.code)
}

// sleep espera base·2^attempt más jitter, o lo que pida Retry-After.
func (c *Client) sleep(ctx context.Context, attempt int, last error) error {
	wait := c.opts.BaseWait << attempt
	wait += time.Duration(rand.Int64N(int64(c.opts.BaseWait)/2 + 1))
	if re, ok := last.(*retryableError); ok && re.after > 0 {
		wait = re.after
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfter lee la cabecera en segundos. Fechas HTTP no se soportan.
func retryAfter(h http.Header) time.Duration {
	s, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || s <= 0 {
		return 0
	}
	return min(time.Duration(s)*time.Second, maxRetryAfter)
}
