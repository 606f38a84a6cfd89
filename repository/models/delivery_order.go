package models

import (
	"time"

	"github.com/josuehernandeztapia/conductores-delivery/statusgraph"
)

// Market identifies the operating market of an order. The two markets differ
// in default SKU and route semantics: Aguascalientes sells to individual
// drivers, Estado de México assigns units to collective routes.
type Market string

const (
	MarketAguascalientes Market = "aguascalientes"
	MarketEdoMex         Market = "edomex"
)

// DeliveryOrder tracks one vehicle from purchase order to client handover.
// Status only ever changes through the lifecycle service; rows are never
// deleted, a delivered order is kept for audit.
type DeliveryOrder struct {
	ID             string                     `gorm:"column:delivery_id;primaryKey;type:varchar(50)" json:"id"`
	ContractID     string                     `gorm:"column:contract_id;type:varchar(50);index" json:"contract_id"`
	ClientID       string                     `gorm:"column:client_id;type:varchar(50);index" json:"client_id"`
	ClientName     string                     `gorm:"column:client_name;type:varchar(100)" json:"client_name"`
	Market         Market                     `gorm:"column:market;type:varchar(20);index" json:"market"`
	RouteID        *string                    `gorm:"column:route_id;type:varchar(50);index" json:"route_id,omitempty"`
	SKU            string                     `gorm:"column:sku;type:varchar(50)" json:"sku"`
	Quantity       int                        `gorm:"column:qty;not null;default:1" json:"quantity"`
	Status         statusgraph.DeliveryStatus `gorm:"column:status;type:varchar(30);index;not null" json:"status"`
	Eta            *time.Time                 `gorm:"column:eta" json:"eta,omitempty"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	ContainerNo    *string                    `gorm:"column:container_number;type:varchar(30)" json:"container_number,omitempty"`
	BillOfLading   *string                    `gorm:"column:bill_of_lading;type:varchar(30)" json:"bill_of_lading,omitempty"`
	EstTransitDays int                        `gorm:"column:estimated_transit_days;default:77" json:"estimated_transit_days"`
	ActTransitDays *int                       `gorm:"column:actual_transit_days" json:"actual_transit_days,omitempty"`

	// Relationships
	Events     []DeliveryEventLog `gorm:"foreignKey:DeliveryID" json:"events,omitempty"`
	EtaHistory []EtaHistory       `gorm:"foreignKey:DeliveryID" json:"eta_history,omitempty"`
}

// DeliveryEventLog is one append-only row per applied event. Meta carries
// event-specific fields (container number, port name, vessel name, customs
// reference, warehouse location) serialized as JSON.
type DeliveryEventLog struct {
	ID         string                     `gorm:"column:event_log_id;primaryKey;type:varchar(50)" json:"id"`
	DeliveryID string                     `gorm:"column:delivery_id;type:varchar(50);index;not null" json:"delivery_id"`
	At         time.Time                  `gorm:"column:at;autoCreateTime;index" json:"at"`
	Event      statusgraph.DeliveryEvent  `gorm:"column:event;type:varchar(30);not null" json:"event"`
	FromStatus statusgraph.DeliveryStatus `gorm:"column:from_status;type:varchar(30)" json:"from_status"`
	ToStatus   statusgraph.DeliveryStatus `gorm:"column:to_status;type:varchar(30)" json:"to_status"`
	Meta       string                     `gorm:"column:meta;type:text" json:"meta,omitempty"`
	Notes      string                     `gorm:"column:notes;type:text" json:"notes,omitempty"`
	ActorRole  statusgraph.Role           `gorm:"column:actor_role;type:varchar(20)" json:"actor_role"`
	ActorName  *string                    `gorm:"column:actor_name;type:varchar(100)" json:"actor_name,omitempty"`
}

// EtaCalculationMethod records how an EtaHistory row came to be.
type EtaCalculationMethod string

const (
	EtaMethodAutomatic       EtaCalculationMethod = "automatic"
	EtaMethodManual          EtaCalculationMethod = "manual"
	EtaMethodDelayAdjustment EtaCalculationMethod = "delay_adjustment"
)

// EtaHistory is one append-only row per ETA change, automatic or manual.
// Adjustments never overwrite earlier rows.
type EtaHistory struct {
	ID           string                     `gorm:"column:eta_history_id;primaryKey;type:varchar(50)" json:"id"`
	DeliveryID   string                     `gorm:"column:delivery_id;type:varchar(50);index;not null" json:"delivery_id"`
	PreviousEta  *time.Time                 `gorm:"column:previous_eta" json:"previous_eta,omitempty"`
	NewEta       time.Time                  `gorm:"column:new_eta;not null" json:"new_eta"`
	StatusWhen   statusgraph.DeliveryStatus `gorm:"column:status_when_calculated;type:varchar(30)" json:"status_when_calculated"`
	Method       EtaCalculationMethod       `gorm:"column:calculation_method;type:varchar(20);not null" json:"calculation_method"`
	DelayReason  *string                    `gorm:"column:delay_reason;type:text" json:"delay_reason,omitempty"`
	CalculatedAt time.Time                  `gorm:"column:calculated_at;autoCreateTime" json:"calculated_at"`
	CalculatedBy string                     `gorm:"column:calculated_by;type:varchar(100)" json:"calculated_by"`
}
