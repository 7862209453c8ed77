package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/voxgate/voxgate/internal/provider/health"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

// Operator command names.
const (
	CommandProbeNow         = "probe_now"
	CommandResetBreaker     = "reset_breaker"
	CommandForceOpenBreaker = "force_open_breaker"
	CommandFailoverSession  = "failover_session"
)

// ErrUnknownCommand is returned for a command name the handler does not know.
var ErrUnknownCommand = errors.New("unknown command")

// Command is an operator instruction delivered over Pub/Sub.
type Command struct {
	Command    string `json:"command"`
	ProviderID string `json:"provider_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// BreakerController is the breaker surface driven by commands.
// *orchestrator.Orchestrator implements it.
type BreakerController interface {
	ResetCircuitBreaker(providerID string) error
	ForceOpenCircuitBreaker(providerID string) error
	PerformFailover(ctx context.Context, sessionID string) orchestrator.ProviderSwitchEvent
}

// HealthChecker runs an immediate probe cycle. *health.Monitor implements it.
type HealthChecker interface {
	CheckNow(ctx context.Context) []health.CheckResult
}

// CommandHandler executes operator commands.
type CommandHandler struct {
	breakers BreakerController
	checker  HealthChecker
	logger   zerolog.Logger
}

// NewCommandHandler creates a handler.
func NewCommandHandler(breakers BreakerController, checker HealthChecker, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{
		breakers: breakers,
		checker:  checker,
		logger:   logger,
	}
}

// Handle decodes and executes one command.
func (h *CommandHandler) Handle(ctx context.Context, data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnknownCommand, err)
	}

	switch cmd.Command {
	case CommandProbeNow:
		results := h.checker.CheckNow(ctx)
		h.logger.Info().Int("probed", len(results)).Msg("probe cycle run on command")
		return nil

	case CommandResetBreaker:
		return h.breakers.ResetCircuitBreaker(cmd.ProviderID)

	case CommandForceOpenBreaker:
		return h.breakers.ForceOpenCircuitBreaker(cmd.ProviderID)

	case CommandFailoverSession:
		if cmd.SessionID == "" {
			return fmt.Errorf("%w: failover_session requires session_id", ErrUnknownCommand)
		}
		ev := h.breakers.PerformFailover(ctx, cmd.SessionID)
		if !ev.Success {
			h.logger.Warn().
				Str("session_id", cmd.SessionID).
				Str("error", ev.Error).
				Msg("commanded failover did not switch provider")
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

// CommandSubscriberConfig holds configuration for a CommandSubscriber.
type CommandSubscriberConfig struct {
	Subscription string
	Handler      *CommandHandler
	Logger       zerolog.Logger
}

// CommandSubscriber receives operator commands from a Pub/Sub subscription.
type CommandSubscriber struct {
	subscriber   *pubsub.Subscriber
	subscription string
	handler      *CommandHandler
	logger       zerolog.Logger
}

// NewCommandSubscriber creates a subscriber on an existing client.
func NewCommandSubscriber(client *pubsub.Client, cfg CommandSubscriberConfig) *CommandSubscriber {
	subscriber := client.Subscriber(cfg.Subscription)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 2 * time.Minute

	return &CommandSubscriber{
		subscriber:   subscriber,
		subscription: cfg.Subscription,
		handler:      cfg.Handler,
		logger:       cfg.Logger,
	}
}

// Run receives commands until ctx is done.
func (s *CommandSubscriber) Run(ctx context.Context) error {
	s.logger.Info().
		Str("subscription", s.subscription).
		Msg("starting command subscriber")

	return s.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := s.logger.With().Str("message_id", msg.ID).Logger()

		err := s.handler.Handle(ctx, msg.Data)
		switch {
		case permanent(err):
			logger.Warn().Err(err).Msg("discarding invalid command")
			msg.Ack() // redelivery cannot fix it
		case err != nil:
			logger.Error().Err(err).Msg("command failed")
			msg.Nack()
		default:
			logger.Debug().Msg("command handled")
			msg.Ack()
		}
	})
}

// permanent reports whether redelivering the command cannot change the outcome.
func permanent(err error) bool {
	return errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, orchestrator.ErrUnknownProvider) ||
		errors.Is(err, orchestrator.ErrBreakersDisabled)
}
