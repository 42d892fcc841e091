// Package bridge consumes citizen onboarding events from the message bus and
// turns each one into a pending registration plus a mailed code.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/smartauth/internal/auth"
	"github.com/nerrad567/smartauth/internal/directory"
	"github.com/nerrad567/smartauth/internal/infrastructure/config"
	"github.com/nerrad567/smartauth/internal/infrastructure/mqtt"
	"github.com/nerrad567/smartauth/internal/mail"
)

// RegistrationEventID is the only event id acted on; everything else is acked and ignored.
const RegistrationEventID = 1001

// Pipeline stages, reported in dead letters and metrics.
const (
	StageDecode    = "decode"
	StagePending   = "pending"
	StageDirectory = "directory"
	StageMail      = "mail"
)

const defaultRetryInterval = 5 * time.Second

var (
	// ErrMalformedEvent is returned for payloads that are not a valid event.
	ErrMalformedEvent = errors.New("malformed onboarding event")

	// ErrNoEmail is returned when the citizen record has no email address.
	ErrNoEmail = errors.New("citizen has no email address")
)

// Event is the onboarding message published by the citizen registry.
type Event struct {
	EventID   int   `json:"event_id"`
	CitizenID int64 `json:"citizen_id"`
}

// StageError records which pipeline step failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// DeadLetter is published for events that failed processing.
type DeadLetter struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
	Payload    string    `json:"payload"`
}

// PendingCreator issues registration codes.
type PendingCreator interface {
	CreatePendingRegistration(ctx context.Context, citizenID int64) (*auth.PendingRegistration, error)
}

// ProfileFetcher looks up citizen records.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, citizenID int64) (*directory.Profile, error)
}

// Subscriber is the broker session the bridge consumes from.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	SetOnDisconnect(callback func(err error))
	Close() error
}

// Connector opens a new broker session.
type Connector func(ctx context.Context) (Subscriber, error)

// Metrics records per-message outcomes. *influxdb.Client satisfies it.
type Metrics interface {
	RecordBridgeEvent(outcome, stage string, elapsed time.Duration)
}

// State is the supervisory loop position.
type State int32

// Bridge states.
const (
	StateIdle State = iota
	StateConnected
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateConsuming:
		return "consuming"
	default:
		return "idle"
	}
}

// Config holds the bridge settings.
type Config struct {
	QueueTopic      string
	DeadLetterTopic string
	RetryInterval   time.Duration
	QoS             byte
	Mail            config.MailConfig
}

// ConfigFrom derives the bridge settings from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		QueueTopic:      cfg.Bridge.QueueTopic,
		DeadLetterTopic: cfg.Bridge.DeadLetterTopic,
		RetryInterval:   cfg.Bridge.RetryDelay(),
		QoS:             byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		Mail:            cfg.Mail,
	}
}

// Deps holds the collaborators of a Bridge.
type Deps struct {
	Connect       Connector
	Registrations PendingCreator
	Directory     ProfileFetcher
	Mailer        mail.Sender
	Metrics       Metrics // optional
	Config        Config
	Logger        *slog.Logger
	Now           func() time.Time
}

// Bridge consumes onboarding events one at a time.
type Bridge struct {
	connect       Connector
	registrations PendingCreator
	directory     ProfileFetcher
	mailer        mail.Sender
	metrics       Metrics
	cfg           Config
	logger        *slog.Logger
	now           func() time.Time

	state atomic.Int32

	// sub is the live session, used for dead-letter publishing.
	subMu sync.RWMutex
	sub   Subscriber
}

// New creates a Bridge. Empty topics and a zero retry interval get defaults.
func New(deps Deps) *Bridge {
	cfg := deps.Config
	if cfg.QueueTopic == "" {
		cfg.QueueTopic = mqtt.Topics{}.RegistrationQueue()
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = mqtt.Topics{}.DeadLetter()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Bridge{
		connect:       deps.Connect,
		registrations: deps.Registrations,
		directory:     deps.Directory,
		mailer:        deps.Mailer,
		metrics:       deps.Metrics,
		cfg:           cfg,
		logger:        logger.With("component", "bridge"),
		now:           now,
	}
}

// State returns the current loop state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// HealthCheck fails unless the bridge is consuming.
func (b *Bridge) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s := b.State(); s != StateConsuming {
		return fmt.Errorf("bridge is %s", s)
	}
	return nil
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

// Run connects, subscribes and consumes until ctx is cancelled. Connection
// failures and lost connections are retried after the retry interval,
// forever. Run returns nil on cancellation.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("bridge starting", "queue", b.cfg.QueueTopic, "dead_letter", b.cfg.DeadLetterTopic)

	for {
		err := b.consume(ctx)
		b.setState(StateIdle)
		if ctx.Err() != nil {
			b.logger.Info("bridge stopped")
			return nil
		}

		b.logger.Warn("bridge session ended, retrying",
			"error", err,
			"retry_in", b.cfg.RetryInterval,
		)

		timer := time.NewTimer(b.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.logger.Info("bridge stopped")
			return nil
		case <-timer.C:
		}
	}
}

// consume runs one broker session and returns when it ends.
func (b *Bridge) consume(ctx context.Context) error {
	sub, err := b.connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() {
		b.setSubscriber(nil)
		if err := sub.Close(); err != nil {
			b.logger.Warn("closing broker session", "error", err)
		}
	}()

	lost := make(chan error, 1)
	sub.SetOnDisconnect(func(err error) {
		select {
		case lost <- err:
		default:
		}
	})
	b.setSubscriber(sub)
	b.setState(StateConnected)

	if err := sub.Subscribe(b.cfg.QueueTopic, b.cfg.QoS, b.deliver(ctx)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.cfg.QueueTopic, err)
	}
	b.setState(StateConsuming)
	b.logger.Info("bridge consuming", "queue", b.cfg.QueueTopic)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-lost:
		return fmt.Errorf("connection lost: %w", err)
	}
}

func (b *Bridge) setSubscriber(sub Subscriber) {
	b.subMu.Lock()
	b.sub = sub
	b.subMu.Unlock()
}

func (b *Bridge) subscriber() Subscriber {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return b.sub
}

// deliver adapts HandleMessage to the ack contract of mqtt.MessageHandler:
// returning nil acks. A failed event is dead-lettered and then acked; if the
// dead letter cannot be published, or the service is shutting down, the
// event stays un-acked for redelivery.
func (b *Bridge) deliver(ctx context.Context) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		received := b.now()
		err := b.HandleMessage(ctx, payload)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if dlErr := b.publishDeadLetter(payload, received, err); dlErr != nil {
			b.logger.Error("dead letter publish failed, leaving event for redelivery",
				"error", err,
				"dead_letter_error", dlErr,
			)
			return errors.Join(err, dlErr)
		}
		return nil
	}
}

// HandleMessage runs the onboarding pipeline for one payload:
// decode, create the pending registration, fetch the profile, mail the code.
// Events other than RegistrationEventID are ignored and return nil.
func (b *Bridge) HandleMessage(ctx context.Context, payload []byte) error {
	start := b.now()

	event, err := decodeEvent(payload)
	if err != nil {
		return b.fail(StageDecode, err, start)
	}
	if event.EventID != RegistrationEventID {
		b.logger.Debug("ignoring event", "event_id", event.EventID)
		b.record("ignored", StageDecode, start)
		return nil
	}

	logger := b.logger.With("citizen_id", event.CitizenID)

	pending, err := b.registrations.CreatePendingRegistration(ctx, event.CitizenID)
	if errors.Is(err, auth.ErrAlreadyRegistered) {
		logger.Info("citizen already registered, no code sent")
		b.record("already_registered", StagePending, start)
		return nil
	}
	if err != nil {
		return b.fail(StagePending, err, start)
	}

	profile, err := b.directory.GetProfile(ctx, event.CitizenID)
	if err != nil {
		return b.fail(StageDirectory, err, start)
	}
	email, ok := profile.EmailAddress()
	if !ok {
		return b.fail(StageDirectory, ErrNoEmail, start)
	}

	msg := mail.RegistrationMessage(b.cfg.Mail, profile.FullName(), email, pending.Code)
	if err := b.mailer.Send(ctx, msg); err != nil {
		return b.fail(StageMail, err, start)
	}

	logger.Info("registration code sent", "pending_id", pending.ID)
	b.record("ok", StageMail, start)
	return nil
}

func decodeEvent(payload []byte) (*Event, error) {
	var raw struct {
		EventID   *int   `json:"event_id"`
		CitizenID *int64 `json:"citizen_id"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if raw.EventID == nil {
		return nil, fmt.Errorf("%w: event_id missing", ErrMalformedEvent)
	}
	event := &Event{EventID: *raw.EventID}
	if event.EventID != RegistrationEventID {
		return event, nil
	}
	if raw.CitizenID == nil || *raw.CitizenID <= 0 {
		return nil, fmt.Errorf("%w: citizen_id missing or not positive", ErrMalformedEvent)
	}
	event.CitizenID = *raw.CitizenID
	return event, nil
}

func (b *Bridge) fail(stage string, err error, start time.Time) error {
	b.logger.Warn("onboarding event failed", "stage", stage, "error", err)
	b.record("failed", stage, start)
	return &StageError{Stage: stage, Err: err}
}

func (b *Bridge) record(outcome, stage string, start time.Time) {
	if b.metrics == nil {
		return
	}
	b.metrics.RecordBridgeEvent(outcome, stage, b.now().Sub(start))
}

func (b *Bridge) publishDeadLetter(payload []byte, received time.Time, cause error) error {
	sub := b.subscriber()
	if sub == nil {
		return mqtt.ErrNotConnected
	}

	stage := StageDecode
	var se *StageError
	if errors.As(cause, &se) {
		stage = se.Stage
	}

	envelope, err := json.Marshal(DeadLetter{
		ID:         uuid.NewString(),
		ReceivedAt: received.UTC(),
		Stage:      stage,
		Error:      cause.Error(),
		Payload:    string(payload),
	})
	if err != nil {
		return fmt.Errorf("encoding dead letter: %w", err)
	}
	if err := sub.Publish(b.cfg.DeadLetterTopic, envelope, b.cfg.QoS, false); err != nil {
		return fmt.Errorf("publishing dead letter: %w", err)
	}
	b.logger.Info("event dead-lettered", "stage", stage, "topic", b.cfg.DeadLetterTopic)
	return nil
}
