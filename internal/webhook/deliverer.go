package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/angeloszaimis/backbone/internal/apperr"
	"github.com/angeloszaimis/backbone/internal/circuitbreaker"
	"github.com/angeloszaimis/backbone/pkg/logger"
)

const (
	HeaderEventID   = "X-Webhook-Event-Id"
	HeaderSource    = "X-Webhook-Source"
	HeaderEventType = "X-Webhook-Event-Type"
	HeaderAttempt   = "X-Webhook-Attempt"
)

// Delivery is one event sent to one resolved route target.
type Delivery struct {
	EventID   string
	Source    string
	EventType string
	Attempt   int
	RouteID   string
	Target    string
	URL       string
	Method    string
	Payload   map[string]any
}

// Deliverer sends a delivery with its own timeout. Implementations must
// not panic on a failed call; they report it through the returned error.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// DeliveryError describes a failed delivery. Transient failures make the
// event eligible for a retry.
type DeliveryError struct {
	Target     string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver to %s: status %d", e.Target, e.StatusCode)
	}
	return fmt.Sprintf("deliver to %s: %v", e.Target, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying. Errors that are not
// a DeliveryError are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Transient
	}
	return true
}

// IsPermanent is the breaker success filter: a target that answers with a
// client error is up, so the rejection must not open its circuit.
func IsPermanent(err error) bool {
	return err == nil || !IsTransient(err)
}

// HTTPDeliverer posts event payloads as JSON. Calls to the same target
// share a circuit breaker when breakers is set.
type HTTPDeliverer struct {
	client   *http.Client
	breakers *circuitbreaker.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

func NewHTTPDeliverer(timeout time.Duration, breakers *circuitbreaker.Registry, log *slog.Logger) *HTTPDeliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPDeliverer{
		client:   &http.Client{},
		breakers: breakers,
		timeout:  timeout,
		logger:   logger.Component(log, "deliverer"),
	}
}

func (h *HTTPDeliverer) Deliver(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d.Payload)
	if err != nil {
		return apperr.New(apperr.KindDelivery, "webhook.Deliver", &DeliveryError{Target: d.Target, Err: err})
	}

	send := func() error {
		return h.send(ctx, d, body)
	}

	if h.breakers == nil {
		return send()
	}

	err = h.breakers.Execute(d.Target, send)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return apperr.New(apperr.KindDelivery, "webhook.Deliver", &DeliveryError{Target: d.Target, Transient: true, Err: err})
	}
	return err
}

func (h *HTTPDeliverer) send(ctx context.Context, d Delivery, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var reader io.Reader
	if d.Method != http.MethodGet {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, d.URL, reader)
	if err != nil {
		return apperr.New(apperr.KindDelivery, "webhook.Deliver", &DeliveryError{Target: d.Target, Err: err})
	}

	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderEventID, d.EventID)
	req.Header.Set(HeaderSource, d.Source)
	req.Header.Set(HeaderEventType, d.EventType)
	req.Header.Set(HeaderAttempt, strconv.Itoa(d.Attempt))

	resp, err := h.client.Do(req)
	if err != nil {
		return apperr.New(apperr.KindDelivery, "webhook.Deliver", &DeliveryError{Target: d.Target, Transient: true, Err: err})
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	h.logger.Debug("Delivery answered",
		slog.String("target", d.Target),
		slog.String("url", d.URL),
		slog.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return apperr.New(apperr.KindDelivery, "webhook.Deliver", &DeliveryError{Target: d.Target, StatusCode: resp.StatusCode, Transient: true})
	default:
		return apperr.New(apperr.KindDelivery, "webhook.Deliver", &DeliveryError{Target: d.Target, StatusCode: resp.StatusCode})
	}
}
