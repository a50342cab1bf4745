package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pollbook/internal/adapter/metrics"
	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/ledger"
	"github.com/pscheid92/pollbook/internal/msg"
	apperrors "github.com/pscheid92/pollbook/internal/platform/errors"
	"github.com/pscheid92/pollbook/internal/platform/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/pscheid92/pollbook/internal/app"

const (
	kindInstantiate = "instantiate"
	kindExecute     = "execute"
	kindQuery       = "query"
)

// Service is the application layer. It owns transaction boundaries and
// post-commit side effects.
type Service struct {
	uow       domain.UnitOfWork
	validator domain.AddressValidator
	publisher domain.EventPublisher
	metrics   *metrics.LedgerMetrics
	clock     clockwork.Clock
	tracer    trace.Tracer
	initGroup singleflight.Group
	startedAt time.Time
}

// NewService creates the application service. publisher and m may be nil.
func NewService(uow domain.UnitOfWork, validator domain.AddressValidator, publisher domain.EventPublisher, m *metrics.LedgerMetrics, clock clockwork.Clock) *Service {
	return &Service{
		uow:       uow,
		validator: validator,
		publisher: publisher,
		metrics:   m,
		clock:     clock,
		tracer:    otel.Tracer(tracerName),
		startedAt: clock.Now(),
	}
}

// Instantiate stores the admin config and contract info in one transaction.
func (s *Service) Instantiate(ctx context.Context, m domain.InstantiateMsg) (*domain.Response, error) {
	var resp *domain.Response
	var admin string

	err := s.observe(ctx, kindInstantiate, msg.TagInstantiate, "", func(ctx context.Context) error {
		return s.uow.Run(ctx, func(ctx context.Context, kv domain.KVStore) error {
			var err error
			if resp, err = ledger.Instantiate(ctx, kv, s.validator, m); err != nil {
				return err
			}
			if err := ledger.SetContractInfo(ctx, kv, contractInfo()); err != nil {
				return err
			}
			cfg, err := ledger.GetConfig(ctx, kv)
			admin = cfg.AdminAddress
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.Event{Type: domain.EventInstantiated, AdminAddress: admin})
	return resp, nil
}

// EnsureInstantiated initializes the store with admin unless a config
// already exists. It reports whether a config was written. Concurrent calls
// for the same admin share one check and its result.
func (s *Service) EnsureInstantiated(ctx context.Context, admin string) (bool, error) {
	v, err, shared := s.initGroup.Do(admin, func() (any, error) {
		return s.ensureInstantiated(context.WithoutCancel(ctx), admin)
	})
	if shared && s.metrics != nil {
		s.metrics.Coalesced.Inc()
	}
	if err != nil {
		return false, err
	}
	created, _ := v.(bool)
	return created, nil
}

func (s *Service) ensureInstantiated(ctx context.Context, admin string) (bool, error) {
	created := false

	err := s.observe(ctx, kindInstantiate, "ensure_instantiate", "", func(ctx context.Context) error {
		return s.uow.Run(ctx, func(ctx context.Context, kv domain.KVStore) error {
			_, err := ledger.GetConfig(ctx, kv)
			if err == nil {
				return nil
			}
			if !errors.Is(err, domain.ErrConfigNotFound) {
				return err
			}

			if _, err := ledger.Instantiate(ctx, kv, s.validator, domain.InstantiateMsg{AdminAddress: admin}); err != nil {
				return err
			}
			created = true
			return ledger.SetContractInfo(ctx, kv, contractInfo())
		})
	})
	if err != nil {
		return false, err
	}

	if created {
		s.publish(ctx, domain.Event{Type: domain.EventInstantiated, AdminAddress: admin})
	}
	return created, nil
}

// Execute runs a command and, once committed, publishes what changed.
func (s *Service) Execute(ctx context.Context, cmd domain.Command) (*domain.Response, error) {
	var resp *domain.Response
	var event domain.Event

	err := s.observe(ctx, kindExecute, commandName(cmd), commandQuestion(cmd), func(ctx context.Context) error {
		return s.uow.Run(ctx, func(ctx context.Context, kv domain.KVStore) error {
			var err error
			if resp, err = ledger.Execute(ctx, kv, cmd); err != nil {
				return err
			}
			event, err = eventFor(ctx, kv, cmd)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event)
	return resp, nil
}

func eventFor(ctx context.Context, kv domain.KVStore, cmd domain.Command) (domain.Event, error) {
	switch c := cmd.(type) {
	case domain.CreatePoll:
		return domain.Event{Type: domain.EventPollCreated, Question: c.Question, Poll: &domain.Poll{Question: c.Question}}, nil
	case domain.Vote:
		poll, err := ledger.GetPoll(ctx, kv, c.Question)
		if err != nil {
			return domain.Event{}, err
		}
		return domain.Event{Type: domain.EventVoteCast, Question: c.Question, Choice: domain.Choice(c.Choice), Poll: poll}, nil
	default:
		return domain.Event{}, nil
	}
}

// Query answers a read-only message.
func (s *Service) Query(ctx context.Context, q domain.Query) (any, error) {
	if gp, ok := q.(domain.GetPoll); ok {
		poll, err := s.GetPoll(ctx, gp.Question)
		if err != nil {
			return nil, err
		}
		return domain.GetPollResponse{Poll: poll}, nil
	}

	var result any
	err := s.observe(ctx, kindQuery, queryName(q), "", func(ctx context.Context) error {
		return s.uow.Run(ctx, func(ctx context.Context, kv domain.KVStore) error {
			var err error
			result, err = ledger.Query(ctx, kv, q)
			return err
		})
	})
	return result, err
}

// GetPoll returns the poll for question, or nil if none exists. Each call
// reads the store, so a committed vote is always visible to a later call.
func (s *Service) GetPoll(ctx context.Context, question string) (*domain.Poll, error) {
	var poll *domain.Poll
	err := s.observe(ctx, kindQuery, msg.TagGetPoll, question, func(ctx context.Context) error {
		return s.uow.Run(ctx, func(ctx context.Context, kv domain.KVStore) error {
			var err error
			poll, err = ledger.GetPoll(ctx, kv, question)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return poll, nil
}

func (s *Service) GetConfig(ctx context.Context) (domain.Config, error) {
	cfg, err := s.Query(ctx, domain.GetConfig{})
	if err != nil {
		return domain.Config{}, err
	}
	return cfg.(domain.Config), nil
}

func (s *Service) ContractInfo(ctx context.Context) (domain.ContractInfo, error) {
	info, err := s.Query(ctx, domain.GetContractInfo{})
	if err != nil {
		return domain.ContractInfo{}, err
	}
	return info.(domain.ContractInfo), nil
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.uow.Ping(ctx)
}

func (s *Service) Uptime() time.Duration {
	return s.clock.Since(s.startedAt)
}

func (s *Service) observe(ctx context.Context, kind, message, question string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "ledger."+kind, trace.WithAttributes(
		attribute.String("ledger.message", message),
	))
	defer span.End()
	if question != "" {
		span.SetAttributes(attribute.String("ledger.question", question))
	}

	start := s.clock.Now()
	err := fn(ctx)
	result := resultOf(err)

	if s.metrics != nil {
		s.metrics.Duration.WithLabelValues(kind).Observe(s.clock.Since(start).Seconds())
		s.metrics.Invocations.WithLabelValues(kind, message, result).Inc()
	}

	switch result {
	case metrics.ResultOK:
		if kind != kindQuery {
			slog.InfoContext(ctx, "Ledger invocation committed", "kind", kind, "message", message, "question", question)
		}
	case metrics.ResultRejected:
		span.SetStatus(codes.Error, err.Error())
		slog.InfoContext(ctx, "Ledger invocation rejected", "kind", kind, "message", message, "question", question, "error", err)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "Ledger invocation failed", "kind", kind, "message", message, "question", question, "error", err)
	}

	return err
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.publisher == nil || event.Type == "" {
		return
	}

	event.ID = uuid.New()
	event.OccurredAt = s.clock.Now()

	result := metrics.ResultOK
	if err := s.publisher.Publish(ctx, event); err != nil {
		result = metrics.ResultError
		slog.WarnContext(ctx, "Failed to publish ledger event", "type", string(event.Type), "question", event.Question, "error", err)
	}

	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(string(event.Type), result).Inc()
	}
}

func resultOf(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	if apperrors.FromDomain(err).Type == apperrors.TypeInternal {
		return metrics.ResultError
	}
	return metrics.ResultRejected
}

func contractInfo() domain.ContractInfo {
	return domain.ContractInfo{Contract: version.Name, Version: version.Version}
}

func commandName(cmd domain.Command) string {
	switch cmd.(type) {
	case domain.CreatePoll:
		return msg.TagCreatePoll
	case domain.Vote:
		return msg.TagVote
	default:
		return "unknown"
	}
}

func commandQuestion(cmd domain.Command) string {
	switch c := cmd.(type) {
	case domain.CreatePoll:
		return c.Question
	case domain.Vote:
		return c.Question
	default:
		return ""
	}
}

func queryName(q domain.Query) string {
	switch q.(type) {
	case domain.GetPoll:
		return msg.TagGetPoll
	case domain.GetConfig:
		return msg.TagGetConfig
	case domain.GetContractInfo:
		return msg.TagGetContractInfo
	default:
		return "unknown"
	}
}
