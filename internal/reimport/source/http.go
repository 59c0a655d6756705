package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"basenet/internal/reimport"
	dErrors "basenet/pkg/domain-errors"
	"basenet/pkg/platform/circuit"
)

// maxBody caps one envelope response.
const maxBody = 512 << 20

// HTTP requests each envelope as ?bbox=minX,minY,maxX,maxY and expects a
// GeoJSON feature collection.
type HTTP struct {
	baseURL    string
	client     *http.Client
	idProperty string
	logger     *slog.Logger
	breaker    *circuit.Breaker

	retries       uint64
	retryInterval time.Duration
}

type HTTPOption func(*HTTP)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = c
	}
}

func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTP) {
		h.logger = logger
	}
}

func WithHTTPIDProperty(name string) HTTPOption {
	return func(h *HTTP) {
		h.idProperty = name
	}
}

// WithBreaker rejects fetches without a request while b is open.
func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(h *HTTP) {
		h.breaker = b
	}
}

// WithRetry repeats transport failures, 5xx and 429 answers up to attempts times
// with exponential backoff starting at initial.
func WithRetry(attempts uint64, initial time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.retries = attempts
		if initial > 0 {
			h.retryInterval = initial
		}
	}
}

func NewHTTP(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		idProperty: DefaultIDProperty,
		logger:     slog.Default(),

		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) Fetch(ctx context.Context, envelope orb.Bound) ([]reimport.RawFeature, error) {
	if h.breaker == nil {
		return h.fetch(ctx, envelope)
	}
	if !h.breaker.Allow() {
		return nil, dErrors.Newf(dErrors.CodeUnavailable, "import source circuit %s is open", h.breaker.Name())
	}
	features, err := h.fetch(ctx, envelope)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeUnavailable) {
			return nil, err
		}
		if _, change := h.breaker.RecordFailure(); change.Opened {
			h.logger.WarnContext(ctx, "import_source_circuit_opened", "circuit", h.breaker.Name(), "error", err)
		}
		return nil, err
	}
	if _, change := h.breaker.RecordSuccess(); change.Closed {
		h.logger.InfoContext(ctx, "import_source_circuit_closed", "circuit", h.breaker.Name())
	}
	return features, nil
}

func (h *HTTP) fetch(ctx context.Context, envelope orb.Bound) ([]reimport.RawFeature, error) {
	u, err := url.Parse(h.baseURL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "parse source url")
	}
	q := u.Query()
	q.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", envelope.Min.X(), envelope.Min.Y(), envelope.Max.X(), envelope.Max.Y()))
	u.RawQuery = q.Encode()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.retryInterval

	var (
		features []reimport.RawFeature
		attempt  int
	)
	err = backoff.Retry(func() error {
		attempt++
		fs, transient, err := h.get(ctx, u.String(), envelope)
		if err == nil {
			features = fs
			return nil
		}
		if !transient {
			return backoff.Permanent(err)
		}
		h.logger.DebugContext(ctx, "import_envelope_attempt_failed", "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, h.retries), ctx))
	if err != nil {
		return nil, err
	}
	return features, nil
}

// get performs one request. transient marks failures worth another attempt.
func (h *HTTP) get(ctx context.Context, target string, envelope orb.Bound) (features []reimport.RawFeature, transient bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build source request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	started := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, true, dErrors.Wrap(err, dErrors.CodeUnavailable, "request import source")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		transient = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, transient, dErrors.Newf(dErrors.CodeUnavailable, "import source answered %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, true, dErrors.Wrap(err, dErrors.CodeUnavailable, "read import source response")
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "decode import source response")
	}

	features = filter(Decode(fc, h.idProperty, h.logger), envelope)
	h.logger.DebugContext(ctx, "import_envelope_fetched",
		"features", len(features),
		"duration", time.Since(started),
	)
	return features, false, nil
}
