package models

import "time"

// BusinessFlow is the commercial modality a contract was sold under.
type BusinessFlow string

const (
	FlowVentaPlazo       BusinessFlow = "venta_plazo"
	FlowAhorroProgramado BusinessFlow = "ahorro_programado"
	FlowCreditoColectivo BusinessFlow = "credito_colectivo"
)

// Client is a buyer, individual or tanda member.
type Client struct {
	ID     string  `gorm:"column:client_id;primaryKey;type:varchar(50)" json:"id"`
	Name   string  `gorm:"column:name;type:varchar(100);not null" json:"name"`
	Market Market  `gorm:"column:market;type:varchar(20);index" json:"market"`
	Phone  string  `gorm:"column:phone;type:varchar(30)" json:"phone"`
	RouteID *string `gorm:"column:route_id;type:varchar(50);index" json:"route_id,omitempty"`
}

// Contract is an individual payment contract being watched for the delivery
// trigger. Triggered is the claim flag flipped exactly once by the trigger
// engine; the threshold itself is always derived from the amounts, never
// stored, so the two cannot drift.
type Contract struct {
	ID                  string       `gorm:"column:contract_id;primaryKey;type:varchar(50)" json:"id"`
	ClientID            string       `gorm:"column:client_id;type:varchar(50);index;not null" json:"client_id"`
	Client              *Client      `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Market              Market       `gorm:"column:market;type:varchar(20);index" json:"market"`
	BusinessFlow        BusinessFlow `gorm:"column:business_flow;type:varchar(30)" json:"business_flow"`
	TotalAmount         float64      `gorm:"column:total_amount;type:decimal(14,2)" json:"total_amount"`
	RequiredDownPayment float64      `gorm:"column:required_down_payment;type:decimal(14,2)" json:"required_down_payment"`
	AmountPaid          float64      `gorm:"column:amount_paid;type:decimal(14,2)" json:"amount_paid"`
	Triggered           bool         `gorm:"column:triggered;default:false;index" json:"triggered"`
	DeliveryOrderID     *string      `gorm:"column:delivery_order_id;type:varchar(50)" json:"delivery_order_id,omitempty"`
	CreatedAt           time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// Tanda is a collective-savings group saving toward its first unit. The
// projected first required amount and the confidence level come from the
// estimator port, not from the group's own records.
type Tanda struct {
	ID                  string    `gorm:"column:tanda_id;primaryKey;type:varchar(50)" json:"id"`
	RouteID             string    `gorm:"column:route_id;type:varchar(50);index;not null" json:"route_id"`
	ActiveMembers       int       `gorm:"column:active_members;not null" json:"active_members"`
	MonthsCollecting    int       `gorm:"column:months_collecting;not null" json:"months_collecting"`
	TotalCollected      float64   `gorm:"column:total_collected;type:decimal(14,2)" json:"total_collected"`
	ProjectedFirstAmount float64  `gorm:"column:projected_first_amount;type:decimal(14,2)" json:"projected_first_amount"`
	ConfidenceLevel     float64   `gorm:"column:confidence_level;type:decimal(4,3)" json:"confidence_level"`
	Triggered           bool      `gorm:"column:triggered;default:false;index" json:"triggered"`
	DeliveryOrderID     *string   `gorm:"column:delivery_order_id;type:varchar(50)" json:"delivery_order_id,omitempty"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
