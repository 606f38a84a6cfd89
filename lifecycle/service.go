// Package lifecycle validates and applies delivery-status transitions and
// creates new delivery orders. Every successful transition mutates the order
// and appends one event-log row as a single unit; a rejected request leaves
// the order untouched.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josuehernandeztapia/conductores-delivery/eta"
	"github.com/josuehernandeztapia/conductores-delivery/repository"
	"github.com/josuehernandeztapia/conductores-delivery/repository/models"
	"github.com/josuehernandeztapia/conductores-delivery/statusgraph"
)

// Repository is the persistence surface the lifecycle needs. The gorm
// repository implements it; tests use an in-memory fake.
type Repository interface {
	GetDeliveryOrder(ctx context.Context, id string) (*models.DeliveryOrder, error)
	// CreateDeliveryOrder persists the order, its creation log row and the
	// initial ETA history row in one transaction.
	CreateDeliveryOrder(ctx context.Context, order *models.DeliveryOrder, logRow *models.DeliveryEventLog, etaRow *models.EtaHistory) error
	// ApplyTransition persists the mutated order together with its log row
	// and ETA history row, conditional on the order not having moved since
	// prevUpdatedAt. A stale write returns a conflict error and writes
	// nothing.
	ApplyTransition(ctx context.Context, order *models.DeliveryOrder, prevUpdatedAt time.Time, logRow *models.DeliveryEventLog, etaRow *models.EtaHistory) error
	AppendEtaHistory(ctx context.Context, row *models.EtaHistory) error
}

// Defaults are the documented fallbacks applied when a create request leaves
// optional fields empty.
type Defaults struct {
	Market      models.Market
	SKU         map[models.Market]string
	Route       map[models.Market]string
	TransitDays int
}

func DefaultDefaults() Defaults {
	return Defaults{
		Market: models.MarketAguascalientes,
		SKU: map[models.Market]string{
			models.MarketAguascalientes: "VAGONETA_H6C",
			models.MarketEdoMex:         "VAGONETA_H6C_VENTANAS",
		},
		Route: map[models.Market]string{
			models.MarketEdoMex: "RUTA-CENTRO-01",
		},
		TransitDays: 77,
	}
}

// Service is the delivery lifecycle core.
type Service struct {
	repo      Repository
	projector *eta.Projector
	defaults  Defaults
	logger    *zap.Logger

	// locks serializes transitions per delivery id; transitions on
	// different deliveries never contend.
	locks sync.Map // map[string]*sync.Mutex

	now func() time.Time
}

func NewService(repo Repository, projector *eta.Projector, defaults Defaults, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		projector: projector,
		defaults:  defaults,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the service clock. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateRequest is a partial order; missing optional fields take the
// documented defaults.
type CreateRequest struct {
	ID         string
	ContractID string
	ClientID   string
	ClientName string
	Market     models.Market
	RouteID    *string
	SKU        string
	Quantity   int
	Status     statusgraph.DeliveryStatus
	Notes      string
	ActorRole  statusgraph.Role
	ActorName  string
}

// Create builds, persists and returns a new delivery order. It never fails
// on missing optional fields; only the persistence itself can fail.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.DeliveryOrder, error) {
	now := s.now()

	order := &models.DeliveryOrder{
		ID:         req.ID,
		ContractID: req.ContractID,
		ClientID:   req.ClientID,
		ClientName: req.ClientName,
		Market:     req.Market,
		RouteID:    req.RouteID,
		SKU:        req.SKU,
		Quantity:   req.Quantity,
		Status:     req.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if order.ID == "" {
		order.ID = fmt.Sprintf("DLV-%s", uuid.NewString())
	}
	if order.Market == "" {
		order.Market = s.defaults.Market
	}
	if order.SKU == "" {
		order.SKU = s.defaults.SKU[order.Market]
	}
	if order.RouteID == nil {
		if route, ok := s.defaults.Route[order.Market]; ok {
			order.RouteID = &route
		}
	}
	if order.Quantity <= 0 {
		order.Quantity = 1
	}
	if order.Status == "" || !statusgraph.Valid(order.Status) {
		order.Status = statusgraph.Initial
	}
	order.EstTransitDays = s.defaults.TransitDays

	projected := s.projector.Project(order.CreatedAt, order.Status)
	order.Eta = &projected

	role := req.ActorRole
	if role == "" {
		role = statusgraph.RoleSystem
	}
	logRow := &models.DeliveryEventLog{
		ID:         fmt.Sprintf("LOG-%s", uuid.NewString()),
		DeliveryID: order.ID,
		At:         now,
		Event:      statusgraph.EventCreateOrder,
		FromStatus: order.Status,
		ToStatus:   order.Status,
		Notes:      req.Notes,
		ActorRole:  role,
	}
	if req.ActorName != "" {
		logRow.ActorName = &req.ActorName
	}
	etaRow := &models.EtaHistory{
		ID:           fmt.Sprintf("ETA-%s", uuid.NewString()),
		DeliveryID:   order.ID,
		NewEta:       projected,
		StatusWhen:   order.Status,
		Method:       models.EtaMethodAutomatic,
		CalculatedAt: now,
		CalculatedBy: string(role),
	}

	if err := s.repo.CreateDeliveryOrder(ctx, order, logRow, etaRow); err != nil {
		return nil, err
	}

	s.logger.Info("delivery order created",
		zap.String("deliveryId", order.ID),
		zap.String("contractId", order.ContractID),
		zap.String("market", string(order.Market)),
		zap.String("status", string(order.Status)),
		zap.Time("eta", projected))
	return order, nil
}

// TransitionRequest asks to apply one event to one delivery.
type TransitionRequest struct {
	DeliveryID string
	Event      statusgraph.DeliveryEvent
	ActorRole  statusgraph.Role
	ActorName  string
	Meta       map[string]string
	Notes      string
}

// Transition validates and applies a single state transition. On success the
// returned order carries the new status and recomputed ETA, and exactly one
// event-log row has been appended. On rejection the order is unmodified and
// the returned error is a *Rejection.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*models.DeliveryOrder, error) {
	mu := s.lockFor(req.DeliveryID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.repo.GetDeliveryOrder(ctx, req.DeliveryID)
	if err != nil {
		return nil, err
	}

	t, ok := statusgraph.Find(order.Status, req.Event)
	if !ok {
		return nil, reject(NoSuchTransition, req.Event, order.Status,
			"event %s is not legal from status %s", req.Event, order.Status)
	}
	if !statusgraph.RoleAllowed(t, req.ActorRole) {
		return nil, reject(RoleNotPermitted, req.Event, order.Status,
			"role %s may not apply %s", req.ActorRole, req.Event)
	}

	now := s.now()
	prevUpdatedAt := order.UpdatedAt
	prevEta := order.Eta

	order.Status = t.To
	order.UpdatedAt = now
	newEta := s.projector.Project(order.CreatedAt, t.To)
	order.Eta = &newEta
	s.applyMeta(order, req.Meta)
	if t.To == statusgraph.Terminal {
		actual := int(now.Sub(order.CreatedAt).Hours() / 24)
		order.ActTransitDays = &actual
	}

	meta := ""
	if len(req.Meta) > 0 {
		raw, merr := json.Marshal(req.Meta)
		if merr == nil {
			meta = string(raw)
		}
	}
	logRow := &models.DeliveryEventLog{
		ID:         fmt.Sprintf("LOG-%s", uuid.NewString()),
		DeliveryID: order.ID,
		At:         now,
		Event:      req.Event,
		FromStatus: t.From,
		ToStatus:   t.To,
		Meta:       meta,
		Notes:      req.Notes,
		ActorRole:  req.ActorRole,
	}
	if req.ActorName != "" {
		logRow.ActorName = &req.ActorName
	}
	etaRow := &models.EtaHistory{
		ID:           fmt.Sprintf("ETA-%s", uuid.NewString()),
		DeliveryID:   order.ID,
		PreviousEta:  prevEta,
		NewEta:       newEta,
		StatusWhen:   t.To,
		Method:       models.EtaMethodAutomatic,
		CalculatedAt: now,
		CalculatedBy: string(req.ActorRole),
	}

	if err := s.repo.ApplyTransition(ctx, order, prevUpdatedAt, logRow, etaRow); err != nil {
		if repository.IsConflict(err) {
			return nil, reject(ConcurrencyConflict, req.Event, t.From,
				"delivery %s changed concurrently, re-read and retry", order.ID)
		}
		return nil, err
	}

	s.logger.Info("delivery transitioned",
		zap.String("deliveryId", order.ID),
		zap.String("event", string(req.Event)),
		zap.String("fromStatus", string(t.From)),
		zap.String("toStatus", string(t.To)),
		zap.String("actorRole", string(req.ActorRole)),
		zap.Time("eta", newEta))
	return order, nil
}

// AdjustEta records a manual ETA change. History is append-only; the previous
// value is captured on the new row, never overwritten.
func (s *Service) AdjustEta(ctx context.Context, deliveryID string, newEta time.Time, reason, actor string, method models.EtaCalculationMethod) (*models.EtaHistory, error) {
	if reason == "" {
		return nil, reject(ValidationRejection, "", "", "an adjustment reason is required")
	}
	if actor == "" {
		return nil, reject(ValidationRejection, "", "", "an adjusting actor is required")
	}
	if method == "" {
		method = models.EtaMethodManual
	}

	mu := s.lockFor(deliveryID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.repo.GetDeliveryOrder(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	prevUpdatedAt := order.UpdatedAt
	prevEta := order.Eta
	order.Eta = &newEta
	order.UpdatedAt = now

	row := &models.EtaHistory{
		ID:           fmt.Sprintf("ETA-%s", uuid.NewString()),
		DeliveryID:   order.ID,
		PreviousEta:  prevEta,
		NewEta:       newEta,
		StatusWhen:   order.Status,
		Method:       method,
		DelayReason:  &reason,
		CalculatedAt: now,
		CalculatedBy: actor,
	}
	if err := s.repo.ApplyTransition(ctx, order, prevUpdatedAt, nil, row); err != nil {
		if repository.IsConflict(err) {
			return nil, reject(ConcurrencyConflict, "", order.Status,
				"delivery %s changed concurrently, re-read and retry", order.ID)
		}
		return nil, err
	}

	s.logger.Info("eta adjusted",
		zap.String("deliveryId", order.ID),
		zap.Time("newEta", newEta),
		zap.String("method", string(method)),
		zap.String("actor", actor))
	return row, nil
}

// CommittedEta returns the risk-buffered date for an order whose nominal ETA
// has already slipped; callers quote it instead of the stale nominal one.
func (s *Service) CommittedEta(order *models.DeliveryOrder) time.Time {
	return s.projector.ProjectBuffered(order.CreatedAt, order.Status)
}

// applyMeta lifts the well-known meta fields onto the order itself.
func (s *Service) applyMeta(order *models.DeliveryOrder, meta map[string]string) {
	if v, ok := meta["containerNumber"]; ok && v != "" {
		order.ContainerNo = &v
	}
	if v, ok := meta["billOfLading"]; ok && v != "" {
		order.BillOfLading = &v
	}
}
