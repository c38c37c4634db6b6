package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

const (
	DefaultSentinelProductID = "EMPTY"
	DefaultMinutesPerCabinet = 10
	DefaultMaxTxRetries      = 3
	DefaultRetryBackoff      = 20 * time.Millisecond
)

type Config struct {
	SentinelProductID string
	MinutesPerCabinet int
	MaxTxRetries      int
	RetryBackoff      time.Duration
}

func DefaultConfig() Config {
	return Config{
		SentinelProductID: DefaultSentinelProductID,
		MinutesPerCabinet: DefaultMinutesPerCabinet,
		MaxTxRetries:      DefaultMaxTxRetries,
		RetryBackoff:      DefaultRetryBackoff,
	}
}

type Clock func() time.Time

// Deps are the collaborators the engine is wired to. Cache, Events, Devices, Logger and
// Clock are optional.
type Deps struct {
	Store   port.Store
	Routes  port.RouteDirectory
	Devices port.DeviceDirectory
	Cache   port.CacheRepository
	Events  Emitter
	Logger  *zap.Logger
	Clock   Clock
}

// Engine bundles the fulfillment components behind one value for the transport layer.
type Engine struct {
	*OrderService
	*Processor
	*SyncCoordinator
	*Projections
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.SentinelProductID == "" {
		cfg.SentinelProductID = DefaultSentinelProductID
	}
	if cfg.MinutesPerCabinet <= 0 {
		cfg.MinutesPerCabinet = DefaultMinutesPerCabinet
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Events == nil {
		deps.Events = noopEmitter{}
	}

	uow := &unitOfWork{
		store:      deps.Store,
		maxRetries: cfg.MaxTxRetries,
		backoff:    cfg.RetryBackoff,
		logger:     deps.Logger,
	}
	now := func() time.Time {
		return deps.Clock().UTC().Truncate(time.Microsecond)
	}
	aggregator := NewAggregator(cfg.SentinelProductID, cfg.MinutesPerCabinet)

	orders := &OrderService{
		uow:        uow,
		routes:     deps.Routes,
		aggregator: aggregator,
		events:     deps.Events,
		logger:     deps.Logger.Named("orders"),
		now:        now,
	}
	processor := &Processor{
		uow:      uow,
		sentinel: cfg.SentinelProductID,
		events:   deps.Events,
		logger:   deps.Logger.Named("execution"),
		now:      now,
	}
	return &Engine{
		OrderService: orders,
		Processor:    processor,
		SyncCoordinator: &SyncCoordinator{
			uow:       uow,
			orders:    orders,
			processor: processor,
			logger:    deps.Logger.Named("sync"),
			now:       now,
		},
		Projections: &Projections{
			uow:        uow,
			devices:    deps.Devices,
			cache:      deps.Cache,
			aggregator: aggregator,
			sentinel:   cfg.SentinelProductID,
			logger:     deps.Logger.Named("projections"),
		},
	}
}

func statusEvent(orderID string, status domain.OrderStatus, actor string, at time.Time) domain.Event {
	return domain.Event{
		ID:         newID(),
		Type:       domain.EventOrderStatusChanged,
		OrderID:    orderID,
		Status:     status,
		ActorID:    actor,
		OccurredAt: at,
	}
}
