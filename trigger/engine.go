// Package trigger is the polling engine that watches payment and savings
// progress and creates delivery orders exactly once per subject when the
// threshold is first crossed.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/josuehernandeztapia/conductores-delivery/estimator"
	"github.com/josuehernandeztapia/conductores-delivery/lifecycle"
	"github.com/josuehernandeztapia/conductores-delivery/metrics"
	"github.com/josuehernandeztapia/conductores-delivery/notifier"
	"github.com/josuehernandeztapia/conductores-delivery/repository/models"
	"github.com/josuehernandeztapia/conductores-delivery/statusgraph"
	"github.com/josuehernandeztapia/conductores-delivery/threshold"
)

// Trigger rule identifiers, stable across deployments so the event history
// stays queryable by rule.
const (
	RuleContractDownPayment = "RULE-CONTRACT-DP-50"
	RuleTandaProjection     = "RULE-TANDA-PROJECTION"

	eventTypePayment = "payment_threshold"
	eventTypeSavings = "savings_projection"
)

// Repository is the persistence surface the engine needs. Claim* flips the
// subject's triggered flag false→true atomically; Release* reverts it after
// a failed creation so the next scan retries.
type Repository interface {
	GetPendingThresholdAnalyses(ctx context.Context) ([]models.Contract, []models.Tanda, error)
	ClaimContract(ctx context.Context, id string) (bool, error)
	ReleaseContract(ctx context.Context, id string) error
	MarkContractTriggered(ctx context.Context, id, deliveryOrderID string) error
	ClaimTanda(ctx context.Context, id string) (bool, error)
	ReleaseTanda(ctx context.Context, id string) error
	MarkTandaTriggered(ctx context.Context, id, deliveryOrderID string) error
	SaveTriggerEvent(ctx context.Context, event *models.TriggerEvent) error
}

// Creator is the lifecycle creation path the engine drives.
type Creator interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*models.DeliveryOrder, error)
}

// Engine runs the recurring scan and the forced one through the same
// processAll routine; a single-flight group guarantees that two scans never
// run concurrently. A second request joins the in-flight result.
type Engine struct {
	repo      Repository
	creator   Creator
	notify    notifier.Notifier
	estimate  estimator.Estimator
	rules     threshold.Rules
	journal   *Journal
	logger    *zap.Logger
	interval  time.Duration
	fanout    int
	scanGroup singleflight.Group
	now       func() time.Time
}

// Config tunes the engine.
type Config struct {
	Interval time.Duration
	// Fanout bounds how many subjects are evaluated concurrently within one
	// scan. Subjects are independent; the claim protocol keeps each one a
	// critical section on its own.
	Fanout int
}

func NewEngine(repo Repository, creator Creator, notify notifier.Notifier, estimate estimator.Estimator, rules threshold.Rules, journal *Journal, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 8
	}
	return &Engine{
		repo:     repo,
		creator:  creator,
		notify:   notify,
		estimate: estimate,
		rules:    rules,
		journal:  journal,
		logger:   logger,
		interval: cfg.Interval,
		fanout:   cfg.Fanout,
		now:      time.Now,
	}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Start runs the recurring scan until ctx is cancelled. Run it in its own
// goroutine; cancelling ctx is the stop control.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("trigger engine started", zap.Duration("interval", e.interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("trigger engine stopped")
			return
		case <-ticker.C:
			if _, err := e.scan(ctx, models.ProcessedBySystem); err != nil {
				e.logger.Error("scan cycle failed", zap.Error(err))
			}
		}
	}
}

// ForceScan runs one scan immediately and returns the trigger events it
// produced. If a scan is already in flight the caller shares its result
// instead of starting another.
func (e *Engine) ForceScan(ctx context.Context) ([]models.TriggerEvent, error) {
	return e.scan(ctx, models.ProcessedByManual)
}

func (e *Engine) scan(ctx context.Context, processor models.TriggerProcessor) ([]models.TriggerEvent, error) {
	v, err, _ := e.scanGroup.Do("scan", func() (any, error) {
		return e.processAll(ctx, processor)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.TriggerEvent), nil
}

// processAll is one full scan cycle: snapshot the pending subjects, evaluate
// each threshold, and fire the creation path for every newly crossed one.
func (e *Engine) processAll(ctx context.Context, processor models.TriggerProcessor) ([]models.TriggerEvent, error) {
	started := e.now()
	metrics.TriggerScansTotal.Inc()

	contracts, tandas, err := e.repo.GetPendingThresholdAnalyses(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching pending analyses: %w", err)
	}

	var (
		mu     sync.Mutex
		events []models.TriggerEvent
	)
	collect := func(ev *models.TriggerEvent) {
		mu.Lock()
		events = append(events, *ev)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fanout)
	for _, c := range contracts {
		g.Go(func() error {
			if ev := e.processContract(gctx, c, processor); ev != nil {
				collect(ev)
			}
			return nil
		})
	}
	for _, t := range tandas {
		g.Go(func() error {
			if ev := e.processTanda(gctx, t, processor); ev != nil {
				collect(ev)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	created, failed := 0, 0
	for _, ev := range events {
		if ev.DeliveryOrderCreated {
			created++
		} else {
			failed++
		}
	}
	elapsed := e.now().Sub(started)
	metrics.TriggerScanDuration.Observe(elapsed.Seconds())

	if err := e.journal.Append(CycleRecord{
		CycleID:     fmt.Sprintf("CYC-%s", uuid.NewString()),
		StartedAt:   started,
		DurationMs:  elapsed.Milliseconds(),
		Contracts:   len(contracts),
		Tandas:      len(tandas),
		Created:     created,
		Failed:      failed,
		ProcessedBy: string(processor),
	}); err != nil {
		e.logger.Warn("scan journal append failed", zap.Error(err))
	}

	e.logger.Info("scan cycle complete",
		zap.Int("contracts", len(contracts)),
		zap.Int("tandas", len(tandas)),
		zap.Int("created", created),
		zap.Int("failed", failed),
		zap.Duration("elapsed", elapsed))
	return events, nil
}

// processContract evaluates one contract and, when its threshold has just
// been crossed, runs the claim → create → mark sequence. Returns nil when
// the subject stays idle.
func (e *Engine) processContract(ctx context.Context, c models.Contract, processor models.TriggerProcessor) *models.TriggerEvent {
	if c.Triggered {
		return nil
	}
	res := threshold.EvaluateContract(e.rules, c)
	if !res.Reached {
		return nil
	}

	claimed, err := e.repo.ClaimContract(ctx, c.ID)
	if err != nil {
		e.logger.Error("contract claim failed", zap.String("contractId", c.ID), zap.Error(err))
		return nil
	}
	if !claimed {
		// Another scan already owns this subject.
		return nil
	}

	event := &models.TriggerEvent{
		ID:                fmt.Sprintf("TRG-%s", uuid.NewString()),
		ContractID:        &c.ID,
		TriggerRuleID:     RuleContractDownPayment,
		EventType:         eventTypePayment,
		TriggerDate:       e.now(),
		ThresholdAmount:   res.ThresholdAmount,
		ActualAmount:      res.ActualAmount,
		TriggerPercentage: res.Percentage,
		ProcessedBy:       processor,
	}

	route := ""
	if c.Client != nil && c.Client.RouteID != nil {
		route = *c.Client.RouteID
	}
	order, err := e.createOrder(ctx, lifecycle.CreateRequest{
		ContractID: c.ID,
		ClientID:   c.ClientID,
		Market:     c.Market,
		RouteID:    optional(route),
		ActorRole:  statusgraph.RoleSystem,
		Notes:      fmt.Sprintf("auto-created by %s at %.0f%% of threshold", RuleContractDownPayment, res.Percentage),
	})
	if err != nil {
		msg := err.Error()
		event.ErrorMessage = &msg
		if relErr := e.repo.ReleaseContract(ctx, c.ID); relErr != nil {
			e.logger.Error("contract claim release failed", zap.String("contractId", c.ID), zap.Error(relErr))
		}
		metrics.TriggerEventsTotal.WithLabelValues("contract", "failed").Inc()
		e.logger.Error("trigger creation failed",
			zap.String("contractId", c.ID), zap.Error(err))
	} else {
		event.DeliveryOrderCreated = true
		event.DeliveryOrderID = &order.ID
		if markErr := e.repo.MarkContractTriggered(ctx, c.ID, order.ID); markErr != nil {
			e.logger.Error("mark contract triggered failed", zap.String("contractId", c.ID), zap.Error(markErr))
		}
		metrics.TriggerEventsTotal.WithLabelValues("contract", "created").Inc()
		e.dispatchNotifications(order, event)
	}

	if err := e.repo.SaveTriggerEvent(ctx, event); err != nil {
		e.logger.Error("saving trigger event failed", zap.String("contractId", c.ID), zap.Error(err))
	}
	return event
}

func (e *Engine) processTanda(ctx context.Context, t models.Tanda, processor models.TriggerProcessor) *models.TriggerEvent {
	if t.Triggered {
		return nil
	}
	// The estimator port owns the projection; stored values are only a cache
	// of its last answer.
	proj := e.estimate.Assess(t)
	t.ProjectedFirstAmount = proj.ProjectedFirstAmount
	t.ConfidenceLevel = proj.ConfidenceLevel

	res := threshold.EvaluateTanda(e.rules, t)
	if !res.Reached {
		return nil
	}

	claimed, err := e.repo.ClaimTanda(ctx, t.ID)
	if err != nil {
		e.logger.Error("tanda claim failed", zap.String("tandaId", t.ID), zap.Error(err))
		return nil
	}
	if !claimed {
		return nil
	}

	event := &models.TriggerEvent{
		ID:                fmt.Sprintf("TRG-%s", uuid.NewString()),
		TandaID:           &t.ID,
		TriggerRuleID:     RuleTandaProjection,
		EventType:         eventTypeSavings,
		TriggerDate:       e.now(),
		ThresholdAmount:   res.ThresholdAmount,
		ActualAmount:      res.ActualAmount,
		TriggerPercentage: res.Percentage,
		ProcessedBy:       processor,
	}

	// The order belongs to the route, not to any single contract; the link
	// back to the tanda lives on the trigger event and the tanda row itself.
	order, err := e.createOrder(ctx, lifecycle.CreateRequest{
		Market:    models.MarketEdoMex,
		RouteID:   &t.RouteID,
		ActorRole: statusgraph.RoleSystem,
		Notes:     fmt.Sprintf("auto-created by %s at confidence %.2f", RuleTandaProjection, t.ConfidenceLevel),
	})
	if err != nil {
		msg := err.Error()
		event.ErrorMessage = &msg
		if relErr := e.repo.ReleaseTanda(ctx, t.ID); relErr != nil {
			e.logger.Error("tanda claim release failed", zap.String("tandaId", t.ID), zap.Error(relErr))
		}
		metrics.TriggerEventsTotal.WithLabelValues("tanda", "failed").Inc()
		e.logger.Error("trigger creation failed",
			zap.String("tandaId", t.ID), zap.Error(err))
	} else {
		event.DeliveryOrderCreated = true
		event.DeliveryOrderID = &order.ID
		if markErr := e.repo.MarkTandaTriggered(ctx, t.ID, order.ID); markErr != nil {
			e.logger.Error("mark tanda triggered failed", zap.String("tandaId", t.ID), zap.Error(markErr))
		}
		metrics.TriggerEventsTotal.WithLabelValues("tanda", "created").Inc()
		e.dispatchNotifications(order, event)
	}

	if err := e.repo.SaveTriggerEvent(ctx, event); err != nil {
		e.logger.Error("saving trigger event failed", zap.String("tandaId", t.ID), zap.Error(err))
	}
	return event
}

func (e *Engine) createOrder(ctx context.Context, req lifecycle.CreateRequest) (*models.DeliveryOrder, error) {
	order, err := e.creator.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.OrdersCreatedTotal.WithLabelValues("trigger").Inc()
	return order, nil
}

// dispatchNotifications fans out fire-and-forget; a notification failure
// never touches the created order.
func (e *Engine) dispatchNotifications(order *models.DeliveryOrder, event *models.TriggerEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.notify.NotifyAdvisor(ctx, order, event)
		e.notify.NotifyClient(ctx, order)
		e.notify.NotifyChannel(ctx, order, event)
	}()
}

// Rule is the descriptor returned by the rules listing surface.
type Rule struct {
	ID          string  `json:"id"`
	EventType   string  `json:"event_type"`
	Description string  `json:"description"`
	Fraction    float64 `json:"fraction"`
	Active      bool    `json:"active"`
}

// Rules describes the active trigger rules under the current configuration.
func (e *Engine) Rules() []Rule {
	return []Rule{
		{
			ID:          RuleContractDownPayment,
			EventType:   eventTypePayment,
			Description: "create a delivery order when payments reach the configured fraction of the required down payment",
			Fraction:    e.rules.ContractFraction,
			Active:      true,
		},
		{
			ID:          RuleTandaProjection,
			EventType:   eventTypeSavings,
			Description: fmt.Sprintf("create a delivery order when a tanda with at least %d active members and %d month(s) of history collects the configured fraction of its projected first unit at confidence >= %.2f", e.rules.MinActiveMembers, e.rules.MinMonthsCollecting, e.rules.MinConfidence),
			Fraction:    e.rules.TandaFraction,
			Active:      true,
		},
	}
}

// JournalTail exposes the scan journal for the debug surface.
func (e *Engine) JournalTail(n int) ([]CycleRecord, error) {
	return e.journal.Tail(n)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
