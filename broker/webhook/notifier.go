// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/absmach/mqttgate/broker/events"
	"github.com/absmach/mqttgate/config"
	"github.com/absmach/mqttgate/gate"
	"github.com/absmach/mqttgate/topics"
	"github.com/sony/gobreaker"
)

// ErrNoSender is returned by NewNotifier when no sender is provided.
var ErrNoSender = errors.New("webhook: sender cannot be nil")

var (
	_ Notifier              = (*GenericNotifier)(nil)
	_ gate.Observer         = (*GenericNotifier)(nil)
	_ gate.DecisionObserver = (*GenericNotifier)(nil)
)

// GenericNotifier delivers events through a worker pool with a circuit
// breaker per endpoint. It doubles as a gate observer.
type GenericNotifier struct {
	gate.NopObserver

	cfg            config.WebhookConfig
	brokerID       string
	endpoints      []endpointConfig
	eventQueue     chan eventJob
	breakers       map[string]*gobreaker.CircuitBreaker
	sender         Sender
	logger         *slog.Logger
	permitted      gate.TopicsFunc
	wg             sync.WaitGroup
	ctx            context.Context
	cancel         context.CancelFunc
	closeOnce      sync.Once
	includePayload bool
}

type endpointConfig struct {
	name         string
	url          string
	eventFilters map[string]bool
	topicFilters []string
	headers      map[string]string
	timeout      time.Duration
	retryConfig  config.RetryConfig
}

type eventJob struct {
	event    events.Event
	endpoint endpointConfig
	attempt  int
}

// Option configures a GenericNotifier.
type Option func(*GenericNotifier)

// WithPermittedTopics sets the function used to report a connected
// client's topics. Defaults to gate.DefaultUserTopics.
func WithPermittedTopics(fn gate.TopicsFunc) Option {
	return func(n *GenericNotifier) {
		if fn != nil {
			n.permitted = fn
		}
	}
}

// NewNotifier creates a new generic webhook notifier and starts its workers.
func NewNotifier(cfg config.WebhookConfig, brokerID string, sender Sender, logger *slog.Logger, opts ...Option) (*GenericNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		return nil, ErrNoSender
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	endpoints := make([]endpointConfig, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		eventFilters := make(map[string]bool, len(ep.Events))
		for _, eventType := range ep.Events {
			eventFilters[eventType] = true
		}

		timeout := cfg.Defaults.Timeout
		if ep.Timeout > 0 {
			timeout = ep.Timeout
		}

		retryConfig := cfg.Defaults.Retry
		if ep.Retry != nil {
			retryConfig = *ep.Retry
		}

		endpoints = append(endpoints, endpointConfig{
			name:         ep.Name,
			url:          ep.URL,
			eventFilters: eventFilters,
			topicFilters: ep.TopicFilters,
			headers:      ep.Headers,
			timeout:      timeout,
			retryConfig:  retryConfig,
		})
	}

	threshold := uint32(max(cfg.Defaults.CircuitBreaker.FailureThreshold, 1))
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(endpoints))
	for _, ep := range endpoints {
		breakers[ep.name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.name,
			MaxRequests: 1,
			Timeout:     cfg.Defaults.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("webhook circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &GenericNotifier{
		cfg:            cfg,
		brokerID:       brokerID,
		endpoints:      endpoints,
		eventQueue:     make(chan eventJob, max(cfg.QueueSize, 1)),
		breakers:       breakers,
		sender:         sender,
		logger:         logger,
		permitted:      gate.DefaultUserTopics,
		ctx:            ctx,
		cancel:         cancel,
		includePayload: cfg.IncludePayload,
	}
	for _, opt := range opts {
		opt(n)
	}

	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	logger.Info("webhook notifier started",
		slog.Int("workers", workers),
		slog.Int("queue_size", cap(n.eventQueue)),
		slog.Int("endpoints", len(endpoints)))

	return n, nil
}

// Notify queues an event for every matching endpoint.
// It never blocks; when the queue is full the drop policy applies.
func (n *GenericNotifier) Notify(_ context.Context, ev events.Event) error {
	if ev == nil {
		return nil
	}
	if n.ctx.Err() != nil {
		return context.Canceled
	}

	for _, endpoint := range n.endpoints {
		if !shouldNotify(endpoint, ev) {
			continue
		}
		n.enqueue(eventJob{event: ev, endpoint: endpoint})
	}

	return nil
}

func (n *GenericNotifier) enqueue(job eventJob) {
	select {
	case n.eventQueue <- job:
		return
	default:
	}

	if n.cfg.DropPolicy == "oldest" {
		select {
		case <-n.eventQueue:
		default:
		}
		select {
		case n.eventQueue <- job:
			return
		default:
		}
	}

	n.logger.Error("webhook queue full, event dropped",
		slog.String("event_type", job.event.Type()),
		slog.String("endpoint", job.endpoint.name))
}

func shouldNotify(endpoint endpointConfig, ev events.Event) bool {
	if len(endpoint.eventFilters) > 0 && !endpoint.eventFilters[ev.Type()] {
		return false
	}

	// Topic filters only apply to events that carry a topic.
	if ev.Topic() != "" && len(endpoint.topicFilters) > 0 {
		return topics.Matches(ev.Topic(), endpoint.topicFilters)
	}

	return true
}

func (n *GenericNotifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			n.drain()
			return
		case job := <-n.eventQueue:
			n.processJob(job)
		}
	}
}

// drain delivers what is left in the queue once, without retries.
func (n *GenericNotifier) drain() {
	for {
		select {
		case job := <-n.eventQueue:
			job.attempt = job.endpoint.retryConfig.MaxAttempts
			n.processJob(job)
		default:
			return
		}
	}
}

func (n *GenericNotifier) processJob(job eventJob) {
	breaker := n.breakers[job.endpoint.name]

	_, err := breaker.Execute(func() (any, error) {
		return nil, n.sendWebhook(job)
	})
	if err == nil {
		return
	}

	if job.attempt >= job.endpoint.retryConfig.MaxAttempts-1 {
		n.logger.Error("webhook delivery failed after max retries",
			slog.String("endpoint", job.endpoint.name),
			slog.String("event_type", job.event.Type()),
			slog.Int("attempts", job.attempt+1),
			slog.String("error", err.Error()))
		return
	}

	job.attempt++
	delay := retryDelay(job.attempt, job.endpoint.retryConfig)

	n.logger.Debug("webhook delivery failed, retrying",
		slog.String("endpoint", job.endpoint.name),
		slog.String("event_type", job.event.Type()),
		slog.Int("attempt", job.attempt),
		slog.Duration("retry_after", delay),
		slog.String("error", err.Error()))

	time.AfterFunc(delay, func() {
		if n.ctx.Err() != nil {
			return
		}
		select {
		case n.eventQueue <- job:
		default:
			n.logger.Error("failed to requeue event for retry",
				slog.String("endpoint", job.endpoint.name),
				slog.String("event_type", job.event.Type()))
		}
	})
}

func (n *GenericNotifier) sendWebhook(job eventJob) error {
	payload, err := json.Marshal(events.Wrap(job.event, n.brokerID))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), job.endpoint.timeout)
	defer cancel()

	if err := n.sender.Send(ctx, job.endpoint.url, job.endpoint.headers, payload, job.endpoint.timeout); err != nil {
		return err
	}

	n.logger.Debug("webhook delivered",
		slog.String("endpoint", job.endpoint.name),
		slog.String("event_type", job.event.Type()))

	return nil
}

// retryDelay returns the exponential backoff delay for an attempt.
func retryDelay(attempt int, cfg config.RetryConfig) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(cfg.InitialInterval) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxInterval > 0 && delay > float64(cfg.MaxInterval) {
		delay = float64(cfg.MaxInterval)
	}
	return time.Duration(delay)
}

// Close stops the workers, waiting up to the shutdown timeout for the queue
// to drain.
func (n *GenericNotifier) Close() error {
	n.closeOnce.Do(func() {
		n.logger.Info("shutting down webhook notifier")
		n.cancel()

		done := make(chan struct{})
		go func() {
			n.wg.Wait()
			close(done)
		}()

		timeout := n.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}

		select {
		case <-done:
			n.logger.Info("webhook notifier stopped gracefully")
		case <-time.After(timeout):
			n.logger.Warn("webhook notifier shutdown timeout, some events may be lost",
				slog.Int("queue_depth", len(n.eventQueue)))
		}
	})
	return nil
}

// ClientConnected implements gate.Observer.
func (n *GenericNotifier) ClientConnected(s gate.Session) {
	var permitted []string
	if id := s.Identity(); id != nil {
		permitted = n.permitted(id)
	}
	n.notify(events.ClientConnected{
		ClientID:   s.ID(),
		Subject:    s.Identity().Subject(),
		RemoteAddr: s.RemoteAddr(),
		Topics:     permitted,
	})
}

// ClientDisconnected implements gate.Observer.
func (n *GenericNotifier) ClientDisconnected(s gate.Session) {
	n.notify(events.ClientDisconnected{
		ClientID:   s.ID(),
		Subject:    s.Identity().Subject(),
		RemoteAddr: s.RemoteAddr(),
	})
}

// Published implements gate.Observer.
func (n *GenericNotifier) Published(s gate.Session, msg gate.Message) {
	ev := events.MessagePublished{
		ClientID:     s.ID(),
		MessageTopic: msg.Topic,
		QoS:          msg.QoS,
		Retained:     msg.Retain,
		PayloadSize:  len(msg.Payload),
	}
	if n.includePayload {
		ev.Payload = base64.StdEncoding.EncodeToString(msg.Payload)
	}
	n.notify(ev)
}

// Subscribed implements gate.Observer.
func (n *GenericNotifier) Subscribed(s gate.Session, filter string) {
	n.notify(events.SubscriptionCreated{ClientID: s.ID(), TopicFilter: filter})
}

// Unsubscribed implements gate.Observer.
func (n *GenericNotifier) Unsubscribed(s gate.Session, filter string) {
	n.notify(events.SubscriptionRemoved{ClientID: s.ID(), TopicFilter: filter})
}

// AuthenticationFailed implements gate.DecisionObserver.
func (n *GenericNotifier) AuthenticationFailed(s gate.Session, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	n.notify(events.AuthFailed{ClientID: s.ID(), RemoteAddr: s.RemoteAddr(), Reason: reason})
}

// AuthorizationDenied implements gate.DecisionObserver.
func (n *GenericNotifier) AuthorizationDenied(s gate.Session, action gate.Action, topic string) {
	n.notify(events.AuthzDenied{
		ClientID:       s.ID(),
		Subject:        s.Identity().Subject(),
		Action:         string(action),
		RequestedTopic: topic,
	})
}

func (n *GenericNotifier) notify(ev events.Event) {
	if err := n.Notify(n.ctx, ev); err != nil {
		n.logger.Debug("webhook event not queued",
			slog.String("event_type", ev.Type()),
			slog.String("error", err.Error()))
	}
}
