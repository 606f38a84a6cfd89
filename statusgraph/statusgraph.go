// Package statusgraph defines the legal delivery-status transitions for a
// vehicle import order, from purchase order to client handover. The graph is
// a single linear chain: every status except the first is the target of
// exactly one transition, and no two transitions share a (from, event) pair.
package statusgraph

// DeliveryStatus is the stage a delivery order is currently in. Order is
// significant: progress and ETA math depend on the stage index.
type DeliveryStatus string

const (
	StatusPOIssued         DeliveryStatus = "PO_ISSUED"
	StatusInProduction     DeliveryStatus = "IN_PRODUCTION"
	StatusReadyAtFactory   DeliveryStatus = "READY_AT_FACTORY"
	StatusAtOriginPort     DeliveryStatus = "AT_ORIGIN_PORT"
	StatusOceanTransit     DeliveryStatus = "OCEAN_TRANSIT"
	StatusAtDestPort       DeliveryStatus = "AT_DESTINATION_PORT"
	StatusCustomsClearance DeliveryStatus = "CUSTOMS_CLEARANCE"
	StatusInWarehouse      DeliveryStatus = "IN_WAREHOUSE"
	StatusReadyForHandover DeliveryStatus = "READY_FOR_HANDOVER"
	StatusOutForDelivery   DeliveryStatus = "OUT_FOR_DELIVERY"
	StatusDelivered        DeliveryStatus = "DELIVERED"
)

// DeliveryEvent names the action that moves an order between statuses.
// EventCreateOrder is not a transition; it names the creation of the order
// itself and produces the first event-log row.
type DeliveryEvent string

const (
	EventCreateOrder        DeliveryEvent = "CREATE_ORDER"
	EventStartProduction    DeliveryEvent = "START_PRODUCTION"
	EventCompleteProduction DeliveryEvent = "COMPLETE_PRODUCTION"
	EventDispatchToPort     DeliveryEvent = "DISPATCH_TO_PORT"
	EventLoadVessel         DeliveryEvent = "LOAD_VESSEL"
	EventVesselArrived      DeliveryEvent = "VESSEL_ARRIVED"
	EventStartCustoms       DeliveryEvent = "START_CUSTOMS"
	EventCustomsRelease     DeliveryEvent = "CUSTOMS_RELEASE"
	EventScheduleHandover   DeliveryEvent = "SCHEDULE_HANDOVER"
	EventDispatchLastMile   DeliveryEvent = "DISPATCH_LAST_MILE"
	EventConfirmDelivery    DeliveryEvent = "CONFIRM_DELIVERY"
)

// Role identifies the kind of actor requesting a transition.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleOps       Role = "ops"
	RoleLogistics Role = "logistics"
	RoleWarehouse Role = "warehouse"
	RoleAdvisor   Role = "asesor"
	RoleSystem    Role = "system"
)

// Transition is one legal edge of the status graph. NominalDays is the
// expected duration of the phase that ends at To.
type Transition struct {
	From        DeliveryStatus
	To          DeliveryStatus
	Event       DeliveryEvent
	Roles       []Role // empty means any role
	NominalDays int
}

// chain is the canonical transition table. Read top to bottom it is the one
// path from StatusPOIssued to StatusDelivered. Nominal days sum to 77.
var chain = []Transition{
	{From: StatusPOIssued, To: StatusInProduction, Event: EventStartProduction, Roles: []Role{RoleAdmin, RoleOps}, NominalDays: 0},
	{From: StatusInProduction, To: StatusReadyAtFactory, Event: EventCompleteProduction, Roles: []Role{RoleAdmin, RoleOps}, NominalDays: 30},
	{From: StatusReadyAtFactory, To: StatusAtOriginPort, Event: EventDispatchToPort, Roles: []Role{RoleAdmin, RoleOps, RoleLogistics}, NominalDays: 5},
	{From: StatusAtOriginPort, To: StatusOceanTransit, Event: EventLoadVessel, Roles: []Role{RoleAdmin, RoleLogistics}, NominalDays: 0},
	{From: StatusOceanTransit, To: StatusAtDestPort, Event: EventVesselArrived, Roles: []Role{RoleAdmin, RoleLogistics}, NominalDays: 30},
	{From: StatusAtDestPort, To: StatusCustomsClearance, Event: EventStartCustoms, Roles: []Role{RoleAdmin, RoleLogistics}, NominalDays: 0},
	{From: StatusCustomsClearance, To: StatusInWarehouse, Event: EventCustomsRelease, Roles: []Role{RoleAdmin, RoleLogistics}, NominalDays: 10},
	{From: StatusInWarehouse, To: StatusReadyForHandover, Event: EventScheduleHandover, Roles: []Role{RoleAdmin, RoleOps, RoleWarehouse}, NominalDays: 0},
	{From: StatusReadyForHandover, To: StatusOutForDelivery, Event: EventDispatchLastMile, Roles: []Role{RoleAdmin, RoleOps, RoleWarehouse}, NominalDays: 0},
	{From: StatusOutForDelivery, To: StatusDelivered, Event: EventConfirmDelivery, Roles: []Role{RoleAdmin, RoleOps, RoleAdvisor}, NominalDays: 2},
}

// Initial is the status every new delivery order starts in.
const Initial = StatusPOIssued

// Terminal is the final status of the chain. Orders are never deleted once
// they reach it; the record is kept for audit.
const Terminal = StatusDelivered

// Chain returns the canonical transition table in order.
func Chain() []Transition {
	out := make([]Transition, len(chain))
	copy(out, chain)
	return out
}

// TransitionsFrom returns every legal transition out of status. An unknown
// status yields an empty slice, never an error.
func TransitionsFrom(status DeliveryStatus) []Transition {
	var out []Transition
	for _, t := range chain {
		if t.From == status {
			out = append(out, t)
		}
	}
	return out
}

// Find returns the transition for (from, event), if any.
func Find(from DeliveryStatus, event DeliveryEvent) (Transition, bool) {
	for _, t := range chain {
		if t.From == from && t.Event == event {
			return t, true
		}
	}
	return Transition{}, false
}

// IsLegal reports whether (from, to, event) is an edge of the graph.
func IsLegal(from, to DeliveryStatus, event DeliveryEvent) bool {
	t, ok := Find(from, event)
	return ok && t.To == to
}

// RequiredRoles returns the role set allowed to apply (from, to, event), or
// nil when the edge does not exist or is open to any role.
func RequiredRoles(from, to DeliveryStatus, event DeliveryEvent) []Role {
	t, ok := Find(from, event)
	if !ok || t.To != to {
		return nil
	}
	if len(t.Roles) == 0 {
		return nil
	}
	out := make([]Role, len(t.Roles))
	copy(out, t.Roles)
	return out
}

// RoleAllowed reports whether role may apply t. An empty role set on the
// transition admits anyone. RoleSystem and RoleAdmin are always admitted.
func RoleAllowed(t Transition, role Role) bool {
	if len(t.Roles) == 0 || role == RoleSystem || role == RoleAdmin {
		return true
	}
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Index returns the zero-based position of status along the chain, counting
// StatusPOIssued as 0. Unknown statuses return -1.
func Index(status DeliveryStatus) int {
	if status == Initial {
		return 0
	}
	for i, t := range chain {
		if t.To == status {
			return i + 1
		}
	}
	return -1
}

// Valid reports whether status is one of the eleven chain statuses.
func Valid(status DeliveryStatus) bool {
	return Index(status) >= 0
}

// ValidEvent reports whether event is one of the eleven event names.
func ValidEvent(event DeliveryEvent) bool {
	if event == EventCreateOrder {
		return true
	}
	for _, t := range chain {
		if t.Event == event {
			return true
		}
	}
	return false
}

// LegalEvents lists the events that may be applied from status, in chain
// order. For the terminal status it returns nil.
func LegalEvents(status DeliveryStatus) []DeliveryEvent {
	var out []DeliveryEvent
	for _, t := range TransitionsFrom(status) {
		out = append(out, t.Event)
	}
	return out
}

// Statuses returns all eleven statuses in chain order.
func Statuses() []DeliveryStatus {
	out := []DeliveryStatus{Initial}
	for _, t := range chain {
		out = append(out, t.To)
	}
	return out
}
