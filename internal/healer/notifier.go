package healer

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"workshop/internal/constants"
	"workshop/internal/errors"
	"workshop/internal/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Escalation is sent when a service exhausts every recovery tier
type Escalation struct {
	Source     string    `json:"source"`
	Event      string    `json:"event"`
	ServiceID  string    `json:"app_id"`
	IncidentID string    `json:"incident_id,omitempty"`
	Tier       Tier      `json:"tier"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	At         time.Time `json:"timestamp"`
}

// NewEscalation builds the notification for an exhausted service
func NewEscalation(serviceID, incidentID string, at time.Time) Escalation {
	exhausted := errors.EscalationExhausted(serviceID)
	return Escalation{
		Source:     constants.NotifySource,
		Event:      "escalation",
		ServiceID:  serviceID,
		IncidentID: incidentID,
		Tier:       Exhausted,
		Message:    fmt.Sprintf("%s failed all self-healing tiers. %s.", serviceID, exhausted.Message),
		Code:       string(exhausted.Code),
		At:         at.UTC(),
	}
}

// Notifier delivers escalations to a human
type Notifier interface {
	Notify(ctx context.Context, e Escalation) error
}

// LogNotifier only logs escalations
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, e Escalation) error {
	logger.WithFields(logger.Fields{
		"service":  e.ServiceID,
		"incident": e.IncidentID,
		"code":     e.Code,
	}).Error(e.Message)
	return nil
}

// MultiNotifier fans an escalation out to every notifier
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, e Escalation) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// HTTPNotifier posts escalations to ELAINE's notify endpoint. Repeated
// failures open a circuit breaker so an unreachable ELAINE does not stall
// every escalation for the full timeout.
type HTTPNotifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[interface{}]
}

// NewHTTPNotifier creates a notifier for the ELAINE instance at baseURL
func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = constants.DefaultNotifyTimeout
	}
	url := strings.TrimRight(baseURL, "/") + "/api/notify"

	settings := gobreaker.Settings{
		Name:        "elaine-notify",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logger.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Notifier circuit breaker state changed")
		},
	}

	return &HTTPNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[interface{}](settings),
	}
}

// URL returns the notify endpoint
func (n *HTTPNotifier) URL() string {
	return n.url
}

// Notify posts the escalation
func (n *HTTPNotifier) Notify(ctx context.Context, e Escalation) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, e)
	})
	if err != nil {
		return errors.NotifyFailed(n.url, err)
	}
	return nil
}

func (n *HTTPNotifier) post(ctx context.Context, e Escalation) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notify endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// AMQPNotifier publishes escalations to a fanout exchange. With no URL it
// is a no-op. The connection is opened on first use and reopened after a
// failure.
type AMQPNotifier struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPNotifier creates a publisher for exchange on the broker at url
func NewAMQPNotifier(url, exchange string) *AMQPNotifier {
	if exchange == "" {
		exchange = constants.DefaultNotifyExchange
	}
	return &AMQPNotifier{url: url, exchange: exchange}
}

// Enabled reports whether a broker is configured
func (n *AMQPNotifier) Enabled() bool {
	return n.url != ""
}

// Notify publishes the escalation as JSON
func (n *AMQPNotifier) Notify(ctx context.Context, e Escalation) error {
	if !n.Enabled() {
		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.connectLocked(); err != nil {
		return errors.NotifyFailed(n.exchange, err)
	}

	err = n.ch.PublishWithContext(ctx, n.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At,
		Body:         body,
	})
	if err != nil {
		n.closeLocked()
		return errors.NotifyFailed(n.exchange, err)
	}
	return nil
}

func (n *AMQPNotifier) connectLocked() error {
	if n.ch != nil && !n.ch.IsClosed() {
		return nil
	}
	n.closeLocked()

	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(n.exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	n.conn = conn
	n.ch = ch
	logger.WithField("exchange", n.exchange).Info("Connected escalation publisher")
	return nil
}

func (n *AMQPNotifier) closeLocked() {
	if n.ch != nil {
		n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}

// Close releases the broker connection
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeLocked()
	return nil
}
