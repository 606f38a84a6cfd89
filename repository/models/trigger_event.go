package models

import "time"

// TriggerProcessor records whether a trigger event came from the recurring
// scan or from a manually forced one.
type TriggerProcessor string

const (
	ProcessedBySystem TriggerProcessor = "system"
	ProcessedByManual TriggerProcessor = "manual"
)

// TriggerEvent is the audit record of one trigger attempt for one subject.
// Exactly one row with DeliveryOrderCreated=true may exist per subject; the
// engine's claim protocol enforces it. Failed attempts accumulate until a
// scan succeeds.
type TriggerEvent struct {
	ID                   string           `gorm:"column:trigger_event_id;primaryKey;type:varchar(50)" json:"id"`
	ContractID           *string          `gorm:"column:contract_id;type:varchar(50);index" json:"contract_id,omitempty"`
	TandaID              *string          `gorm:"column:tanda_id;type:varchar(50);index" json:"tanda_id,omitempty"`
	TriggerRuleID        string           `gorm:"column:trigger_rule_id;type:varchar(50)" json:"trigger_rule_id"`
	EventType            string           `gorm:"column:event_type;type:varchar(50)" json:"event_type"`
	TriggerDate          time.Time        `gorm:"column:trigger_date;autoCreateTime;index" json:"trigger_date"`
	ThresholdAmount      float64          `gorm:"column:threshold_amount;type:decimal(14,2)" json:"threshold_amount"`
	ActualAmount         float64          `gorm:"column:actual_amount;type:decimal(14,2)" json:"actual_amount"`
	TriggerPercentage    float64          `gorm:"column:trigger_percentage;type:decimal(7,2)" json:"trigger_percentage"`
	DeliveryOrderCreated bool             `gorm:"column:delivery_order_created;default:false" json:"delivery_order_created"`
	DeliveryOrderID      *string          `gorm:"column:delivery_order_id;type:varchar(50)" json:"delivery_order_id,omitempty"`
	ErrorMessage         *string          `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	ProcessedBy          TriggerProcessor `gorm:"column:processed_by;type:varchar(10)" json:"processed_by"`
}

// SubjectID returns whichever subject reference is set.
func (e *TriggerEvent) SubjectID() string {
	if e.ContractID != nil {
		return *e.ContractID
	}
	if e.TandaID != nil {
		return *e.TandaID
	}
	return ""
}
