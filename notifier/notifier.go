// Package notifier is the fire-and-forget notification port. Delivery-order
// creation never waits on, and never rolls back for, a notification failure.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/josuehernandeztapia/conductores-delivery/repository/models"
)

// Notifier announces a freshly triggered delivery order to the people who
// care about it: the advisor who owns the contract, the client who is getting
// a unit, and the operations channel.
type Notifier interface {
	NotifyAdvisor(ctx context.Context, order *models.DeliveryOrder, event *models.TriggerEvent)
	NotifyClient(ctx context.Context, order *models.DeliveryOrder)
	NotifyChannel(ctx context.Context, order *models.DeliveryOrder, event *models.TriggerEvent)
}

// Log writes notifications to the structured log. It is the default wiring;
// production swaps in the messaging gateway behind the same interface.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (n *Log) NotifyAdvisor(_ context.Context, order *models.DeliveryOrder, event *models.TriggerEvent) {
	n.logger.Info("notify advisor: unit released",
		zap.String("deliveryId", order.ID),
		zap.String("contractId", order.ContractID),
		zap.String("triggerEventId", event.ID),
		zap.Float64("triggerPercentage", event.TriggerPercentage))
}

func (n *Log) NotifyClient(_ context.Context, order *models.DeliveryOrder) {
	n.logger.Info("notify client: your unit is on its way",
		zap.String("deliveryId", order.ID),
		zap.String("clientId", order.ClientID),
		zap.String("sku", order.SKU))
}

func (n *Log) NotifyChannel(_ context.Context, order *models.DeliveryOrder, event *models.TriggerEvent) {
	n.logger.Info("notify ops channel: delivery order auto-created",
		zap.String("deliveryId", order.ID),
		zap.String("subjectId", event.SubjectID()),
		zap.String("ruleId", event.TriggerRuleID))
}

// Noop discards every notification. Tests only.
type Noop struct{}

func (Noop) NotifyAdvisor(context.Context, *models.DeliveryOrder, *models.TriggerEvent) {}
func (Noop) NotifyClient(context.Context, *models.DeliveryOrder)                        {}
func (Noop) NotifyChannel(context.Context, *models.DeliveryOrder, *models.TriggerEvent) {}
