package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/josuehernandeztapia/conductores-delivery/lifecycle"
	"github.com/josuehernandeztapia/conductores-delivery/metrics"
	"github.com/josuehernandeztapia/conductores-delivery/repository"
	"github.com/josuehernandeztapia/conductores-delivery/repository/models"
	"github.com/josuehernandeztapia/conductores-delivery/statusgraph"
)

// ClientStatus is the coarse buyer-facing projection of the granular chain.
type ClientStatus string

const (
	ClientStatusPreparing ClientStatus = "preparing"
	ClientStatusInTransit ClientStatus = "in_transit"
	ClientStatusArriving  ClientStatus = "arriving"
	ClientStatusDelivered ClientStatus = "delivered"
)

// clientStatusFor maps the eleven granular statuses to the four labels the
// client app shows. Pure projection; the core never sees these.
func clientStatusFor(status statusgraph.DeliveryStatus) ClientStatus {
	switch status {
	case statusgraph.StatusPOIssued, statusgraph.StatusInProduction, statusgraph.StatusReadyAtFactory:
		return ClientStatusPreparing
	case statusgraph.StatusAtOriginPort, statusgraph.StatusOceanTransit, statusgraph.StatusAtDestPort, statusgraph.StatusCustomsClearance:
		return ClientStatusInTransit
	case statusgraph.StatusDelivered:
		return ClientStatusDelivered
	default:
		return ClientStatusArriving
	}
}

// deliveryView decorates an order with the derived presentation fields.
type deliveryView struct {
	models.DeliveryOrder
	ClientStatus    ClientStatus `json:"client_status"`
	ProgressPercent int          `json:"progress_percent"`
	CommittedEta    *time.Time   `json:"committed_eta,omitempty"`
}

func (ws *WebServer) viewOf(order *models.DeliveryOrder) deliveryView {
	view := deliveryView{
		DeliveryOrder:   *order,
		ClientStatus:    clientStatusFor(order.Status),
		ProgressPercent: statusgraph.Index(order.Status) * 100 / statusgraph.Index(statusgraph.Terminal),
	}
	// Once the nominal date has slipped, quote the risk-buffered one too.
	if order.Eta != nil && order.Eta.Before(time.Now()) && order.Status != statusgraph.Terminal {
		committed := ws.lifecycle.CommittedEta(order)
		view.CommittedEta = &committed
	}
	return view
}

// handleDeliveries serves GET (list) and POST (create) on /deliveries.
func (ws *WebServer) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ws.listDeliveries(w, r)
	case http.MethodPost:
		ws.createDelivery(w, r)
	default:
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (ws *WebServer) listDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ListFilter{
		Market:   models.Market(q.Get("market")),
		RouteID:  q.Get("route_id"),
		ClientID: q.Get("client_id"),
		Cursor:   q.Get("cursor"),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := statusgraph.DeliveryStatus(strings.TrimSpace(s))
			if !statusgraph.Valid(status) {
				JSONError(w, "unknown status: "+string(status), http.StatusBadRequest)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			JSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	orders, nextCursor, total, err := ws.repo.ListDeliveries(r.Context(), filter)
	if err != nil {
		ws.repoError(w, err)
		return
	}
	views := make([]deliveryView, 0, len(orders))
	for i := range orders {
		views = append(views, ws.viewOf(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       views,
		"next_cursor": nextCursor,
		"total":       total,
	})
}

type createDeliveryBody struct {
	ID         string  `json:"id"`
	ContractID string  `json:"contract_id"`
	ClientID   string  `json:"client_id"`
	ClientName string  `json:"client_name"`
	Market     string  `json:"market"`
	RouteID    *string `json:"route_id"`
	SKU        string  `json:"sku"`
	Quantity   int     `json:"quantity"`
	Status     string  `json:"status"`
	Notes      string  `json:"notes"`
	ActorRole  string  `json:"actor_role"`
	ActorName  string  `json:"actor_name"`
}

func (ws *WebServer) createDelivery(w http.ResponseWriter, r *http.Request) {
	var body createDeliveryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "Invalid body format: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if body.ContractID == "" {
		JSONError(w, "contract_id is required", http.StatusBadRequest)
		return
	}
	if body.Status != "" && !statusgraph.Valid(statusgraph.DeliveryStatus(body.Status)) {
		JSONError(w, "unknown status: "+body.Status, http.StatusBadRequest)
		return
	}

	order, err := ws.lifecycle.Create(r.Context(), lifecycle.CreateRequest{
		ID:         body.ID,
		ContractID: body.ContractID,
		ClientID:   body.ClientID,
		ClientName: body.ClientName,
		Market:     models.Market(body.Market),
		RouteID:    body.RouteID,
		SKU:        body.SKU,
		Quantity:   body.Quantity,
		Status:     statusgraph.DeliveryStatus(body.Status),
		Notes:      body.Notes,
		ActorRole:  statusgraph.Role(body.ActorRole),
		ActorName:  body.ActorName,
	})
	if err != nil {
		ws.repoError(w, err)
		return
	}
	metrics.OrdersCreatedTotal.WithLabelValues("manual").Inc()
	writeJSON(w, http.StatusCreated, ws.viewOf(order))
}

// handleDeliveryAPI routes /deliveries/{id}[/transition|/events|/eta].
func (ws *WebServer) handleDeliveryAPI(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// parts[0] == "deliveries"
	switch {
	case len(parts) == 2:
		if r.Method != http.MethodGet {
			JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws.getDelivery(w, r, parts[1])
	case len(parts) == 3 && parts[2] == "transition":
		if r.Method != http.MethodPost {
			JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws.transitionDelivery(w, r, parts[1])
	case len(parts) == 3 && parts[2] == "events":
		if r.Method != http.MethodGet {
			JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws.listEvents(w, r, parts[1])
	case len(parts) == 3 && parts[2] == "eta":
		switch r.Method {
		case http.MethodGet:
			ws.listEtaHistory(w, r, parts[1])
		case http.MethodPost:
			ws.adjustEta(w, r, parts[1])
		default:
			JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		JSONError(w, "Not found", http.StatusNotFound)
	}
}

func (ws *WebServer) getDelivery(w http.ResponseWriter, r *http.Request, id string) {
	order, err := ws.repo.GetDeliveryOrder(r.Context(), id)
	if err != nil {
		ws.repoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.viewOf(order))
}

type transitionBody struct {
	Event     string            `json:"event"`
	Meta      map[string]string `json:"meta"`
	Notes     string            `json:"notes"`
	ActorRole string            `json:"actor_role"`
	ActorName string            `json:"actor_name"`
}

type transitionResponse struct {
	Success          bool                        `json:"success"`
	NewStatus        statusgraph.DeliveryStatus  `json:"new_status,omitempty"`
	NewEta           *time.Time                  `json:"new_eta,omitempty"`
	Message          string                      `json:"message"`
	ValidationErrors []string                    `json:"validation_errors,omitempty"`
	LegalEvents      []statusgraph.DeliveryEvent `json:"legal_events,omitempty"`
}

func (ws *WebServer) transitionDelivery(w http.ResponseWriter, r *http.Request, id string) {
	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "Invalid body format: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	var validationErrors []string
	if body.Event == "" {
		validationErrors = append(validationErrors, "event is required")
	} else if !statusgraph.ValidEvent(statusgraph.DeliveryEvent(body.Event)) {
		validationErrors = append(validationErrors, "unknown event: "+body.Event)
	}
	if body.ActorRole == "" {
		validationErrors = append(validationErrors, "actor_role is required")
	}
	if len(validationErrors) > 0 {
		writeJSON(w, http.StatusBadRequest, transitionResponse{
			Success:          false,
			Message:          "invalid transition request",
			ValidationErrors: validationErrors,
		})
		return
	}

	order, err := ws.lifecycle.Transition(r.Context(), lifecycle.TransitionRequest{
		DeliveryID: id,
		Event:      statusgraph.DeliveryEvent(body.Event),
		ActorRole:  statusgraph.Role(body.ActorRole),
		ActorName:  body.ActorName,
		Meta:       body.Meta,
		Notes:      body.Notes,
	})
	if err != nil {
		if rej, ok := lifecycle.AsRejection(err); ok {
			metrics.TransitionRejectionsTotal.WithLabelValues(string(rej.Kind)).Inc()
			writeJSON(w, rejectionStatus(rej), transitionResponse{
				Success:     false,
				Message:     rej.Message,
				LegalEvents: rej.LegalEvents,
			})
			return
		}
		ws.repoError(w, err)
		return
	}

	metrics.TransitionsTotal.WithLabelValues(body.Event).Inc()
	writeJSON(w, http.StatusOK, transitionResponse{
		Success:   true,
		NewStatus: order.Status,
		NewEta:    order.Eta,
		Message:   "transition applied",
	})
}

func rejectionStatus(rej *lifecycle.Rejection) int {
	switch rej.Kind {
	case lifecycle.RoleNotPermitted:
		return http.StatusForbidden
	case lifecycle.ValidationRejection:
		return http.StatusBadRequest
	case lifecycle.ConcurrencyConflict, lifecycle.NoSuchTransition:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (ws *WebServer) listEvents(w http.ResponseWriter, r *http.Request, id string) {
	rows, err := ws.repo.ListEventLog(r.Context(), id)
	if err != nil {
		ws.repoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (ws *WebServer) listEtaHistory(w http.ResponseWriter, r *http.Request, id string) {
	rows, err := ws.repo.ListEtaHistory(r.Context(), id)
	if err != nil {
		ws.repoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

type adjustEtaBody struct {
	NewEta time.Time `json:"new_eta"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
	Method string    `json:"method"`
}

func (ws *WebServer) adjustEta(w http.ResponseWriter, r *http.Request, id string) {
	var body adjustEtaBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, "Invalid body format: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if body.NewEta.IsZero() {
		JSONError(w, "new_eta is required", http.StatusBadRequest)
		return
	}
	method := models.EtaCalculationMethod(body.Method)
	if method != "" && method != models.EtaMethodManual && method != models.EtaMethodDelayAdjustment {
		JSONError(w, "method must be manual or delay_adjustment", http.StatusBadRequest)
		return
	}

	row, err := ws.lifecycle.AdjustEta(r.Context(), id, body.NewEta, body.Reason, body.Actor, method)
	if err != nil {
		if rej, ok := lifecycle.AsRejection(err); ok {
			writeJSON(w, rejectionStatus(rej), map[string]any{"error": rej.Message})
			return
		}
		ws.repoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := ws.repo.GetStats(r.Context(), models.Market(r.URL.Query().Get("market")), r.URL.Query().Get("route_id"))
	if err != nil {
		ws.repoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (ws *WebServer) handleForceScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	events, err := ws.engine.ForceScan(r.Context())
	if err != nil {
		ws.logger.Error("forced scan failed", zap.Error(err))
		JSONError(w, "scan failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (ws *WebServer) handleTriggerRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": ws.engine.Rules()})
}

func (ws *WebServer) handleTriggerEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rows, err := ws.repo.ListTriggerEvents(r.Context(), r.URL.Query().Get("contract_id"), r.URL.Query().Get("tanda_id"))
	if err != nil {
		ws.repoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

// repoError maps repository error codes onto HTTP statuses.
func (ws *WebServer) repoError(w http.ResponseWriter, err error) {
	switch repository.Code(err) {
	case repository.CodeNotFound:
		JSONError(w, err.Error(), http.StatusNotFound)
	case repository.CodeConflict, repository.PgErrUniqueViolation:
		JSONError(w, err.Error(), http.StatusConflict)
	case repository.PgErrForeignKeyViolation, repository.PgErrNotNullViolation, repository.PgErrCheckViolation:
		JSONError(w, err.Error(), http.StatusBadRequest)
	default:
		ws.logger.Error("internal error", zap.Error(err))
		JSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}
