package polymarket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// userAgent avoids the Cloudflare 403s served to the default Go agent.
const userAgent = "Mozilla/5.0 (compatible; dipbot)"

// maxErrorBody caps how much of an error response is kept in error messages.
const maxErrorBody = 8 << 10

// TransportConfig tunes the shared REST transport.
type TransportConfig struct {
	Name              string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	BreakerFailures   uint32        // consecutive failures before the breaker opens
	BreakerCooldown   time.Duration // open state duration before a half-open probe
}

// Transport is the HTTP layer shared by the Gamma and CLOB clients. Every
// request waits on a client-side rate limiter and passes a circuit breaker;
// a 404 counts as a healthy answer.
type Transport struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// NewTransport builds a Transport. Zero values fall back to conservative
// defaults.
func NewTransport(cfg TransportConfig, logger *slog.Logger) *Transport {
	if cfg.Name == "" {
		cfg.Name = "polymarket"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "polymarket_transport"))

	failures := cfg.BreakerFailures
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: healthyAnswer,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &Transport{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// Do sends req and returns the body of a 2xx response. Non-2xx answers map
// onto domain errors by checkHTTPStatus.
func (t *Transport) Do(req *http.Request) ([]byte, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	body, err := t.breaker.Execute(func() ([]byte, error) {
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := checkHTTPStatus(resp.StatusCode, b); err != nil {
			return nil, err
		}
		return b, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCircuitOpen, err)
	}
	return body, err
}

// checkHTTPStatus maps non-2xx status codes to domain errors. The CLOB
// answers "No orderbook exists" for closed markets, which also counts as
// not found.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	msg = strings.TrimSpace(msg)

	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case strings.Contains(strings.ToLower(msg), "no orderbook exists"):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return &StatusError{Code: statusCode, Body: msg}
	}
}

// StatusError is a non-2xx answer without a more specific domain mapping.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// healthyAnswer decides what the breaker counts as a failure: transport
// errors, rate limiting and 5xx answers. Venue-side validation answers and
// not-found mean the venue is up.
func healthyAnswer(err error) bool {
	if err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < 500
	}
	return false
}
