package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/josuehernandeztapia/conductores-delivery/estimator"
	"github.com/josuehernandeztapia/conductores-delivery/lifecycle"
	"github.com/josuehernandeztapia/conductores-delivery/notifier"
	"github.com/josuehernandeztapia/conductores-delivery/repository/models"
	"github.com/josuehernandeztapia/conductores-delivery/threshold"
)

// fakeAnalysisRepo holds contracts and tandas in memory with the same claim
// semantics as the gorm repository: Claim* flips triggered false→true exactly
// once, Release* reverts it.
type fakeAnalysisRepo struct {
	mu        sync.Mutex
	contracts map[string]*models.Contract
	tandas    map[string]*models.Tanda
	events    []models.TriggerEvent
	denyClaim bool
}

func newFakeAnalysisRepo() *fakeAnalysisRepo {
	return &fakeAnalysisRepo{
		contracts: make(map[string]*models.Contract),
		tandas:    make(map[string]*models.Tanda),
	}
}

func (f *fakeAnalysisRepo) GetPendingThresholdAnalyses(context.Context) ([]models.Contract, []models.Tanda, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cs []models.Contract
	for _, c := range f.contracts {
		if !c.Triggered {
			cs = append(cs, *c)
		}
	}
	var ts []models.Tanda
	for _, t := range f.tandas {
		if !t.Triggered {
			ts = append(ts, *t)
		}
	}
	return cs, ts, nil
}

func (f *fakeAnalysisRepo) ClaimContract(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyClaim {
		return false, nil
	}
	c, ok := f.contracts[id]
	if !ok || c.Triggered {
		return false, nil
	}
	c.Triggered = true
	return true, nil
}

func (f *fakeAnalysisRepo) ReleaseContract(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contracts[id]; ok {
		c.Triggered = false
	}
	return nil
}

func (f *fakeAnalysisRepo) MarkContractTriggered(_ context.Context, id, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contracts[id]; ok {
		c.Triggered = true
		c.DeliveryOrderID = &orderID
	}
	return nil
}

func (f *fakeAnalysisRepo) ClaimTanda(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyClaim {
		return false, nil
	}
	t, ok := f.tandas[id]
	if !ok || t.Triggered {
		return false, nil
	}
	t.Triggered = true
	return true, nil
}

func (f *fakeAnalysisRepo) ReleaseTanda(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tandas[id]; ok {
		t.Triggered = false
	}
	return nil
}

func (f *fakeAnalysisRepo) MarkTandaTriggered(_ context.Context, id, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tandas[id]; ok {
		t.Triggered = true
		t.DeliveryOrderID = &orderID
	}
	return nil
}

func (f *fakeAnalysisRepo) SaveTriggerEvent(_ context.Context, event *models.TriggerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

// fakeCreator counts created orders; failNext makes the next Create fail.
type fakeCreator struct {
	mu       sync.Mutex
	created  []lifecycle.CreateRequest
	failNext error
}

func (f *fakeCreator) Create(_ context.Context, req lifecycle.CreateRequest) (*models.DeliveryOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	f.created = append(f.created, req)
	return &models.DeliveryOrder{
		ID:         fmt.Sprintf("DLV-test-%d", len(f.created)),
		ContractID: req.ContractID,
	}, nil
}

func (f *fakeCreator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func newTestEngine(repo Repository, creator Creator, est estimator.Estimator) *Engine {
	if est == nil {
		est = estimator.Static{}
	}
	return NewEngine(repo, creator, notifier.Noop{}, est, threshold.DefaultRules(), nil, Config{}, zap.NewNop())
}

func TestScanIdleBelowThreshold(t *testing.T) {
	repo := newFakeAnalysisRepo()
	repo.contracts["CON-001"] = &models.Contract{
		ID:                  "CON-001",
		ClientID:            "CLI-001",
		RequiredDownPayment: 100000,
		AmountPaid:          49000,
	}
	creator := &fakeCreator{}
	engine := newTestEngine(repo, creator, nil)

	events, err := engine.ForceScan(context.Background())
	if err != nil {
		t.Fatalf("ForceScan: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
	if creator.count() != 0 {
		t.Errorf("orders created = %d, want 0", creator.count())
	}
	if repo.contracts["CON-001"].Triggered {
		t.Error("an idle contract must not be claimed")
	}
}

func TestScanTriggersContractOnce(t *testing.T) {
	repo := newFakeAnalysisRepo()
	repo.contracts["CON-001"] = &models.Contract{
		ID:                  "CON-001",
		ClientID:            "CLI-001",
		Market:              models.MarketAguascalientes,
		RequiredDownPayment: 100000,
		AmountPaid:          50000,
	}
	creator := &fakeCreator{}
	engine := newTestEngine(repo, creator, nil)

	events, err := engine.ForceScan(context.Background())
	if err != nil {
		t.Fatalf("ForceScan: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if !ev.DeliveryOrderCreated {
		t.Error("DeliveryOrderCreated = false, want true")
	}
	if ev.ContractID == nil || *ev.ContractID != "CON-001" {
		t.Errorf("ContractID = %v, want CON-001", ev.ContractID)
	}
	if ev.TriggerRuleID != RuleContractDownPayment {
		t.Errorf("TriggerRuleID = %q, want %q", ev.TriggerRuleID, RuleContractDownPayment)
	}
	if ev.ProcessedBy != models.ProcessedByManual {
		t.Errorf("ProcessedBy = %q, want manual", ev.ProcessedBy)
	}
	if ev.TriggerPercentage != 100 {
		t.Errorf("TriggerPercentage = %v, want 100", ev.TriggerPercentage)
	}
	if creator.count() != 1 {
		t.Fatalf("orders created = %d, want 1", creator.count())
	}

	c := repo.contracts["CON-001"]
	if !c.Triggered || c.DeliveryOrderID == nil {
		t.Errorf("contract after trigger: Triggered=%v DeliveryOrderID=%v", c.Triggered, c.DeliveryOrderID)
	}

	// A second scan finds nothing pending; the order is created exactly once.
	events, err = engine.ForceScan(context.Background())
	if err != nil {
		t.Fatalf("second ForceScan: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("second scan events = %d, want 0", len(events))
	}
	if creator.count() != 1 {
		t.Errorf("orders created after second scan = %d, want 1", creator.count())
	}
}

func TestContractOrderRoutedByClient(t *testing.T) {
	route := "RUTA-CENTRO-01"
	repo := newFakeAnalysisRepo()
	repo.contracts["CON-001"] = &models.Contract{
		ID:       "CON-001",
		ClientID: "CLI-001",
		Client: &models.Client{
			ID:      "CLI-001",
			Name:    "Ruta 25 SA de CV",
			Market:  models.MarketEdoMex,
			RouteID: &route,
		},
		Market:              models.MarketEdoMex,
		RequiredDownPayment: 100000,
		AmountPaid:          55000,
	}
	creator := &fakeCreator{}
	engine := newTestEngine(repo, creator, nil)

	if _, err := engine.ForceScan(context.Background()); err != nil {
		t.Fatalf("ForceScan: %v", err)
	}
	if creator.count() != 1 {
		t.Fatalf("orders created = %d, want 1", creator.count())
	}
	req := creator.created[0]
	if req.RouteID == nil || *req.RouteID != route {
		t.Errorf("order route = %v, want %s from the contract's client", req.RouteID, route)
	}
}

func TestContractOrderWithoutClientRoute(t *testing.T) {
	repo := newFakeAnalysisRepo()
	repo.contracts["CON-002"] = &models.Contract{
		ID:                  "CON-002",
		ClientID:            "CLI-002",
		RequiredDownPayment: 100000,
		AmountPaid:          55000,
	}
	creator := &fakeCreator{}
	engine := newTestEngine(repo, creator, nil)

	if _, err := engine.ForceScan(context.Background()); err != nil {
		t.Fatalf("ForceScan: %v", err)
	}
	if creator.count() != 1 {
		t.Fatalf("orders created = %d, want 1", creator.count())
	}
	if req := creator.created[0]; req.RouteID != nil {
		t.Errorf("order route = %v, want nil so the market default applies", req.RouteID)
	}
}

func TestScanReleasesClaimOnFailure(t *testing.T) {
	repo := newFakeAnalysisRepo()
	repo.contracts["CON-001"] = &models.Contract{
		ID:                  "CON-001",
		ClientID:            "CLI-001",
		RequiredDownPayment: 100000,
		AmountPaid:          75000,
	}
	creator := &fakeCreator{failNext: errors.New("database unavailable")}
	engine := newTestEngine(repo, creator, nil)

	events, err := engine.ForceScan(context.Background())
	if err != nil {
		t.Fatalf("ForceScan: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.DeliveryOrderCreated {
		t.Error("DeliveryOrderCreated = true after failed creation")
	}
	if ev.ErrorMessage == nil || *ev.ErrorMessage != "database unavailable" {
		t.Errorf("ErrorMessage = %v, want database unavailable", ev.ErrorMessage)
	}
	if repo.contracts["CON-001"].Triggered {
		t.Error("claim must be released after a failed creation")
	}

	// Next scan retries and succeeds.
	events, err = engine.ForceScan(context.Background())
	if err != nil {
		t.Fatalf("retry ForceScan: %v", err)
	}
	if len(events) != 1 || !events[0].DeliveryOrderCreated {
		t.Fatalf("retry events = %+v, want one successful", events)
	}
	if creator.count() != 1 {
		t.Errorf("orders created = %d, want 1", creator.count())
	}
	if !repo.contracts["CON-001"].Triggered {
		t.Error("contract must stay triggered after the successful retry")
	}
}

func TestScanLostClaimProducesNothing(t *testing.T) {
	repo := newFakeAnalysisRepo()
	repo.contracts["CON-001"] = &models.Contract{
		ID:                  "CON-001",
		ClientID:            "CLI-001",
		RequiredDownPayment: 100000,
		AmountPaid:          60000,
	}
	repo.denyClaim = true
	creator := &fakeCreator{}
	engine := newTestEngine(repo, creator, nil)

	events, err := engine.ForceScan(context.Background())
	if err != nil {
		t.Fatalf("ForceScan: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 when the claim is lost", len(events))
	}
	if creator.count() != 0 {
		t.Errorf("orders created = %d, want 0", creator.count())
	}
}

func TestScanTriggersTanda(t *testing.T) {
	repo := newFakeAnalysisRepo()
	repo.tandas["TAN-001"] = &models.Tanda{
		ID:               "TAN-001",
		RouteID:          "RUTA-CENTRO-01",
		ActiveMembers:    9,
		MonthsCollecting: 3,
		TotalCollected:   80000,
	}
	creator := &fakeCreator{}
	// The estimator's projection, not the stored row, decides the outcome.
	engine := newTestEngine(repo, creator, estimator.Static{Amount: 150000, Confidence: 0.85})

	events, err := engine.ForceScan(context.Background())
	if err != nil {
		t.Fatalf("ForceScan: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.TandaID == nil || *ev.TandaID != "TAN-001" {
		t.Errorf("TandaID = %v, want TAN-001", ev.TandaID)
	}
	if ev.TriggerRuleID != RuleTandaProjection {
		t.Errorf("TriggerRuleID = %q, want %q", ev.TriggerRuleID, RuleTandaProjection)
	}
	if ev.ThresholdAmount != 75000 {
		t.Errorf("ThresholdAmount = %v, want 75000", ev.ThresholdAmount)
	}
	if creator.count() != 1 {
		t.Fatalf("orders created = %d, want 1", creator.count())
	}
	req := creator.created[0]
	if req.Market != models.MarketEdoMex {
		t.Errorf("order market = %q, want edomex", req.Market)
	}
	if req.RouteID == nil || *req.RouteID != "RUTA-CENTRO-01" {
		t.Errorf("order route = %v, want RUTA-CENTRO-01", req.RouteID)
	}
	// The unit belongs to the route; the tanda link lives on the trigger
	// event, not on the order's contract reference.
	if req.ContractID != "" {
		t.Errorf("order contract = %q, want empty for a tanda-originated order", req.ContractID)
	}
}

func TestScanSkipsIneligibleTanda(t *testing.T) {
	repo := newFakeAnalysisRepo()
	repo.tandas["TAN-002"] = &models.Tanda{
		ID:               "TAN-002",
		RouteID:          "RUTA-ORIENTE-02",
		ActiveMembers:    4,
		MonthsCollecting: 8,
		TotalCollected:   500000,
	}
	creator := &fakeCreator{}
	engine := newTestEngine(repo, creator, estimator.Static{Amount: 150000, Confidence: 0.95})

	events, err := engine.ForceScan(context.Background())
	if err != nil {
		t.Fatalf("ForceScan: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 for a 4-member tanda", len(events))
	}
	if creator.count() != 0 {
		t.Errorf("orders created = %d, want 0", creator.count())
	}
}

func TestScanLowConfidenceDefersTanda(t *testing.T) {
	repo := newFakeAnalysisRepo()
	repo.tandas["TAN-003"] = &models.Tanda{
		ID:               "TAN-003",
		RouteID:          "RUTA-NORTE-03",
		ActiveMembers:    10,
		MonthsCollecting: 2,
		TotalCollected:   90000,
	}
	creator := &fakeCreator{}
	engine := newTestEngine(repo, creator, estimator.Static{Amount: 150000, Confidence: 0.55})

	events, err := engine.ForceScan(context.Background())
	if err != nil {
		t.Fatalf("ForceScan: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 below the confidence floor", len(events))
	}
}

func TestConcurrentScansCreateOnce(t *testing.T) {
	repo := newFakeAnalysisRepo()
	for i := range 20 {
		id := fmt.Sprintf("CON-%03d", i)
		repo.contracts[id] = &models.Contract{
			ID:                  id,
			ClientID:            fmt.Sprintf("CLI-%03d", i),
			RequiredDownPayment: 100000,
			AmountPaid:          60000,
		}
	}
	creator := &fakeCreator{}
	engine := newTestEngine(repo, creator, nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.ForceScan(context.Background()); err != nil {
				t.Errorf("ForceScan: %v", err)
			}
		}()
	}
	wg.Wait()

	if creator.count() != 20 {
		t.Errorf("orders created = %d, want exactly 20", creator.count())
	}
	repo.mu.Lock()
	saved := len(repo.events)
	repo.mu.Unlock()
	if saved != 20 {
		t.Errorf("trigger events saved = %d, want 20", saved)
	}
}

func TestRulesReflectConfiguration(t *testing.T) {
	engine := newTestEngine(newFakeAnalysisRepo(), &fakeCreator{}, nil)
	rules := engine.Rules()
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	byID := map[string]Rule{}
	for _, r := range rules {
		byID[r.ID] = r
	}
	if r := byID[RuleContractDownPayment]; r.Fraction != 0.5 || !r.Active {
		t.Errorf("contract rule = %+v", r)
	}
	if r := byID[RuleTandaProjection]; r.Fraction != 0.5 || !r.Active {
		t.Errorf("tanda rule = %+v", r)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	engine := newTestEngine(newFakeAnalysisRepo(), &fakeCreator{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		engine.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on context cancellation")
	}
}
