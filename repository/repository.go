// Package repository is the Postgres adapter behind the lifecycle, trigger
// and HTTP layers.
package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/josuehernandeztapia/conductores-delivery/repository/models"
	"github.com/josuehernandeztapia/conductores-delivery/statusgraph"
)

type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRepository(logger *zap.Logger) *Repository {
	return &Repository{logger: logger}
}

// ConnectDB dials Postgres, retrying for slow container start-up.
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := range 10 {
		db, err := gorm.Open(postgres.Open(dsn))
		if err == nil {
			r.db = db
			r.logger.Info("connected to postgres", zap.Int("attempt", i+1))
			return nil
		}
		lastErr = err
		r.logger.Warn("postgres connection attempt failed",
			zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("connecting to postgres: %w", lastErr)
}

// UseDB injects an already-open gorm handle. Tests only.
func (r *Repository) UseDB(db *gorm.DB) { r.db = db }

func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.Client{},
		&models.Contract{},
		&models.Tanda{},
		&models.DeliveryOrder{},
		&models.DeliveryEventLog{},
		&models.EtaHistory{},
		&models.TriggerEvent{},
	)
	if err != nil {
		return wrapDBError(err, "migration")
	}
	r.logger.Info("database migration completed")
	return nil
}

// Seed loads reference clients, contracts and tandas for local bring-up.
// Skips silently when data already exists.
func (r *Repository) Seed() error {
	var clientCount int64
	r.db.Model(&models.Client{}).Count(&clientCount)
	if clientCount > 0 {
		r.logger.Info("seed data already exists, skipping")
		return nil
	}

	routeCentro := "RUTA-CENTRO-01"
	routeNorte := "RUTA-NORTE-02"

	clients := []models.Client{
		{ID: "CLI-001", Name: "Juan Pérez", Market: models.MarketAguascalientes, Phone: "+524491112233"},
		{ID: "CLI-002", Name: "María López", Market: models.MarketAguascalientes, Phone: "+524494445566"},
		{ID: "CLI-003", Name: "Carlos Ramírez", Market: models.MarketEdoMex, Phone: "+525577788899", RouteID: &routeCentro},
		{ID: "CLI-004", Name: "Ana Torres", Market: models.MarketEdoMex, Phone: "+525511122334", RouteID: &routeNorte},
	}
	for _, c := range clients {
		if err := r.db.Create(&c).Error; err != nil {
			r.logger.Error("seeding client failed", zap.String("clientId", c.ID), zap.Error(err))
		}
	}

	contracts := []models.Contract{
		{ID: "CON-001", ClientID: "CLI-001", Market: models.MarketAguascalientes, BusinessFlow: models.FlowVentaPlazo, TotalAmount: 850000, RequiredDownPayment: 170000, AmountPaid: 40000},
		{ID: "CON-002", ClientID: "CLI-002", Market: models.MarketAguascalientes, BusinessFlow: models.FlowAhorroProgramado, TotalAmount: 850000, RequiredDownPayment: 100000, AmountPaid: 49000},
		{ID: "CON-003", ClientID: "CLI-003", Market: models.MarketEdoMex, BusinessFlow: models.FlowVentaPlazo, TotalAmount: 920000, RequiredDownPayment: 184000, AmountPaid: 92000},
	}
	for _, c := range contracts {
		if err := r.db.Create(&c).Error; err != nil {
			r.logger.Error("seeding contract failed", zap.String("contractId", c.ID), zap.Error(err))
		}
	}

	tandas := []models.Tanda{
		{ID: "TAN-001", RouteID: routeCentro, ActiveMembers: 9, MonthsCollecting: 3, TotalCollected: 310000},
		{ID: "TAN-002", RouteID: routeNorte, ActiveMembers: 4, MonthsCollecting: 6, TotalCollected: 260000},
	}
	for _, t := range tandas {
		if err := r.db.Create(&t).Error; err != nil {
			r.logger.Error("seeding tanda failed", zap.String("tandaId", t.ID), zap.Error(err))
		}
	}

	r.logger.Info("database seeding completed")
	return nil
}

// --- Delivery orders ---

func (r *Repository) GetDeliveryOrder(ctx context.Context, id string) (*models.DeliveryOrder, error) {
	var order models.DeliveryOrder
	err := r.db.WithContext(ctx).Where("delivery_id = ?", id).First(&order).Error
	if err != nil {
		return nil, wrapDBError(err, fmt.Sprintf("delivery %s does not exist", id))
	}
	return &order, nil
}

// CreateDeliveryOrder persists a new order with its creation log row and
// initial ETA history row in one transaction.
func (r *Repository) CreateDeliveryOrder(ctx context.Context, order *models.DeliveryOrder, logRow *models.DeliveryEventLog, etaRow *models.EtaHistory) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return wrapDBError(tx.Error, "begin")
	}
	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return wrapDBError(err, order.ID)
	}
	if logRow != nil {
		if err := tx.Create(logRow).Error; err != nil {
			tx.Rollback()
			return wrapDBError(err, logRow.ID)
		}
	}
	if etaRow != nil {
		if err := tx.Create(etaRow).Error; err != nil {
			tx.Rollback()
			return wrapDBError(err, etaRow.ID)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return wrapDBError(err, "commit")
	}
	return nil
}

// ApplyTransition writes the mutated order, its log row and its ETA history
// row as a unit. The order update is conditional on updated_at still being
// prevUpdatedAt; losing that race writes nothing and returns a conflict.
func (r *Repository) ApplyTransition(ctx context.Context, order *models.DeliveryOrder, prevUpdatedAt time.Time, logRow *models.DeliveryEventLog, etaRow *models.EtaHistory) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return wrapDBError(tx.Error, "begin")
	}
	res := tx.Model(&models.DeliveryOrder{}).
		Where("delivery_id = ? AND updated_at = ?", order.ID, prevUpdatedAt).
		Select("status", "eta", "updated_at", "container_number", "bill_of_lading", "actual_transit_days").
		Updates(order)
	if res.Error != nil {
		tx.Rollback()
		return wrapDBError(res.Error, order.ID)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return conflictError(fmt.Sprintf("delivery %s moved since it was read", order.ID))
	}
	if logRow != nil {
		if err := tx.Create(logRow).Error; err != nil {
			tx.Rollback()
			return wrapDBError(err, logRow.ID)
		}
	}
	if etaRow != nil {
		if err := tx.Create(etaRow).Error; err != nil {
			tx.Rollback()
			return wrapDBError(err, etaRow.ID)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return wrapDBError(err, "commit")
	}
	return nil
}

// ListFilter narrows a delivery listing. Cursor is the last delivery id of
// the previous page; ordering is by delivery id.
type ListFilter struct {
	Market   models.Market
	RouteID  string
	ClientID string
	Statuses []statusgraph.DeliveryStatus
	Cursor   string
	Limit    int
}

// ListDeliveries returns one page of orders plus the cursor for the next
// page ("" when exhausted) and the total count matching the filters.
func (r *Repository) ListDeliveries(ctx context.Context, f ListFilter) ([]models.DeliveryOrder, string, int64, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := r.db.WithContext(ctx).Model(&models.DeliveryOrder{})
	if f.Market != "" {
		q = q.Where("market = ?", f.Market)
	}
	if f.RouteID != "" {
		q = q.Where("route_id = ?", f.RouteID)
	}
	if f.ClientID != "" {
		q = q.Where("client_id = ?", f.ClientID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, "", 0, wrapDBError(err, "count")
	}

	if f.Cursor != "" {
		q = q.Where("delivery_id > ?", f.Cursor)
	}
	var orders []models.DeliveryOrder
	if err := q.Order("delivery_id").Limit(limit + 1).Find(&orders).Error; err != nil {
		return nil, "", 0, wrapDBError(err, "list")
	}

	nextCursor := ""
	if len(orders) > limit {
		orders = orders[:limit]
		nextCursor = orders[limit-1].ID
	}
	return orders, nextCursor, total, nil
}

// ListEventLog returns a delivery's event history, oldest first.
func (r *Repository) ListEventLog(ctx context.Context, deliveryID string) ([]models.DeliveryEventLog, error) {
	var rows []models.DeliveryEventLog
	err := r.db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapDBError(err, deliveryID)
	}
	return rows, nil
}

// ListEtaHistory returns a delivery's ETA rows, oldest first.
func (r *Repository) ListEtaHistory(ctx context.Context, deliveryID string) ([]models.EtaHistory, error) {
	var rows []models.EtaHistory
	err := r.db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("calculated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapDBError(err, deliveryID)
	}
	return rows, nil
}

func (r *Repository) AppendEtaHistory(ctx context.Context, row *models.EtaHistory) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return wrapDBError(err, row.ID)
	}
	return nil
}

// Stats is the aggregate view over delivery orders.
type Stats struct {
	Total          int64                                `json:"total"`
	ByStatus       map[statusgraph.DeliveryStatus]int64 `json:"by_status"`
	AvgTransitDays float64                              `json:"avg_transit_days"`
	OnTimeCount    int64                                `json:"on_time_count"`
}

// GetStats aggregates counts per status, average actual transit days and the
// on-time count (delivered no later than eta), optionally filtered.
func (r *Repository) GetStats(ctx context.Context, market models.Market, routeID string) (*Stats, error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&models.DeliveryOrder{})
		if market != "" {
			q = q.Where("market = ?", market)
		}
		if routeID != "" {
			q = q.Where("route_id = ?", routeID)
		}
		return q
	}

	stats := &Stats{ByStatus: make(map[statusgraph.DeliveryStatus]int64)}
	if err := base().Count(&stats.Total).Error; err != nil {
		return nil, wrapDBError(err, "stats total")
	}

	type statusCount struct {
		Status statusgraph.DeliveryStatus
		N      int64
	}
	var counts []statusCount
	if err := base().Select("status, COUNT(*) AS n").Group("status").Scan(&counts).Error; err != nil {
		return nil, wrapDBError(err, "stats by status")
	}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.N
	}

	var avg *float64
	if err := base().Select("AVG(actual_transit_days)").
		Where("actual_transit_days IS NOT NULL").
		Scan(&avg).Error; err != nil {
		return nil, wrapDBError(err, "stats avg transit")
	}
	if avg != nil {
		stats.AvgTransitDays = *avg
	}

	if err := base().
		Where("status = ? AND updated_at <= eta", statusgraph.Terminal).
		Count(&stats.OnTimeCount).Error; err != nil {
		return nil, wrapDBError(err, "stats on-time")
	}
	return stats, nil
}

// --- Threshold subjects ---

// GetPendingThresholdAnalyses returns every contract and tanda not yet
// triggered, the snapshot one scan cycle evaluates. Contracts carry their
// client so the trigger engine can route the created order.
func (r *Repository) GetPendingThresholdAnalyses(ctx context.Context) ([]models.Contract, []models.Tanda, error) {
	var contracts []models.Contract
	if err := r.db.WithContext(ctx).Preload("Client").Where("triggered = ?", false).Find(&contracts).Error; err != nil {
		return nil, nil, wrapDBError(err, "pending contracts")
	}
	var tandas []models.Tanda
	if err := r.db.WithContext(ctx).Where("triggered = ?", false).Find(&tandas).Error; err != nil {
		return nil, nil, wrapDBError(err, "pending tandas")
	}
	return contracts, tandas, nil
}

// ClaimContract flips triggered false→true and reports whether this caller
// won the flip. It is the compare-and-set behind the engine's at-most-once
// guarantee.
func (r *Repository) ClaimContract(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Contract{}).
		Where("contract_id = ? AND triggered = ?", id, false).
		Update("triggered", true)
	if res.Error != nil {
		return false, wrapDBError(res.Error, id)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseContract reverts a claim after a failed creation so the next scan
// retries the subject.
func (r *Repository) ReleaseContract(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Contract{}).
		Where("contract_id = ?", id).
		Update("triggered", false)
	return wrapDBError(res.Error, id)
}

// MarkContractTriggered records the delivery order a claim produced.
func (r *Repository) MarkContractTriggered(ctx context.Context, id, deliveryOrderID string) error {
	res := r.db.WithContext(ctx).Model(&models.Contract{}).
		Where("contract_id = ?", id).
		Updates(map[string]any{"triggered": true, "delivery_order_id": deliveryOrderID})
	return wrapDBError(res.Error, id)
}

func (r *Repository) ClaimTanda(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Tanda{}).
		Where("tanda_id = ? AND triggered = ?", id, false).
		Update("triggered", true)
	if res.Error != nil {
		return false, wrapDBError(res.Error, id)
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) ReleaseTanda(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.Tanda{}).
		Where("tanda_id = ?", id).
		Update("triggered", false)
	return wrapDBError(res.Error, id)
}

func (r *Repository) MarkTandaTriggered(ctx context.Context, id, deliveryOrderID string) error {
	res := r.db.WithContext(ctx).Model(&models.Tanda{}).
		Where("tanda_id = ?", id).
		Updates(map[string]any{"triggered": true, "delivery_order_id": deliveryOrderID})
	return wrapDBError(res.Error, id)
}

// --- Trigger events ---

func (r *Repository) SaveTriggerEvent(ctx context.Context, event *models.TriggerEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return wrapDBError(err, event.ID)
	}
	return nil
}

// ListTriggerEvents returns trigger history, newest first, optionally
// narrowed to one subject.
func (r *Repository) ListTriggerEvents(ctx context.Context, contractID, tandaID string) ([]models.TriggerEvent, error) {
	q := r.db.WithContext(ctx).Model(&models.TriggerEvent{})
	if contractID != "" {
		q = q.Where("contract_id = ?", contractID)
	}
	if tandaID != "" {
		q = q.Where("tanda_id = ?", tandaID)
	}
	var rows []models.TriggerEvent
	if err := q.Order("trigger_date DESC").Limit(200).Find(&rows).Error; err != nil {
		return nil, wrapDBError(err, "trigger events")
	}
	return rows, nil
}
