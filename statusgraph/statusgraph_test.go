package statusgraph

import "testing"

func TestChainIsDeterministic(t *testing.T) {
	seen := make(map[string]bool)
	for _, tr := range Chain() {
		key := string(tr.From) + "/" + string(tr.Event)
		if seen[key] {
			t.Errorf("duplicate transition for (%s, %s)", tr.From, tr.Event)
		}
		seen[key] = true
	}
}

func TestChainIsLinear(t *testing.T) {
	chain := Chain()
	if len(chain) != 10 {
		t.Fatalf("expected 10 transitions, got %d", len(chain))
	}
	if chain[0].From != Initial {
		t.Errorf("chain starts at %s, want %s", chain[0].From, Initial)
	}
	if chain[len(chain)-1].To != Terminal {
		t.Errorf("chain ends at %s, want %s", chain[len(chain)-1].To, Terminal)
	}
	for i := 1; i < len(chain); i++ {
		if chain[i].From != chain[i-1].To {
			t.Errorf("chain broken between %s and %s", chain[i-1].To, chain[i].From)
		}
	}
	// No status is targeted twice and none branches.
	targets := make(map[DeliveryStatus]bool)
	for _, tr := range chain {
		if targets[tr.To] {
			t.Errorf("status %s is the target of two transitions", tr.To)
		}
		targets[tr.To] = true
		if got := len(TransitionsFrom(tr.From)); got != 1 {
			t.Errorf("status %s has %d outgoing transitions, want 1", tr.From, got)
		}
	}
}

func TestNominalDaysSum(t *testing.T) {
	total := 0
	for _, tr := range Chain() {
		total += tr.NominalDays
	}
	if total != 77 {
		t.Errorf("nominal chain days sum to %d, want 77", total)
	}
}

func TestElevenStatusesAndEvents(t *testing.T) {
	if got := len(Statuses()); got != 11 {
		t.Errorf("got %d statuses, want 11", got)
	}
	events := map[DeliveryEvent]bool{EventCreateOrder: true}
	for _, tr := range Chain() {
		events[tr.Event] = true
	}
	if len(events) != 11 {
		t.Errorf("got %d distinct events, want 11", len(events))
	}
}

func TestFind(t *testing.T) {
	tests := []struct {
		from  DeliveryStatus
		event DeliveryEvent
		to    DeliveryStatus
		ok    bool
	}{
		{StatusPOIssued, EventStartProduction, StatusInProduction, true},
		{StatusOutForDelivery, EventConfirmDelivery, StatusDelivered, true},
		{StatusInProduction, EventConfirmDelivery, "", false},
		{StatusDelivered, EventStartProduction, "", false},
		{"BOGUS", EventStartProduction, "", false},
	}
	for _, tt := range tests {
		tr, ok := Find(tt.from, tt.event)
		if ok != tt.ok {
			t.Errorf("Find(%s, %s): ok = %v, want %v", tt.from, tt.event, ok, tt.ok)
			continue
		}
		if ok && tr.To != tt.to {
			t.Errorf("Find(%s, %s): to = %s, want %s", tt.from, tt.event, tr.To, tt.to)
		}
	}
}

func TestTransitionsFromUnknownStatus(t *testing.T) {
	if got := TransitionsFrom("NOT_A_STATUS"); len(got) != 0 {
		t.Errorf("unknown status yielded %d transitions, want 0", len(got))
	}
	if got := TransitionsFrom(Terminal); len(got) != 0 {
		t.Errorf("terminal status yielded %d transitions, want 0", len(got))
	}
}

func TestIndexOrdering(t *testing.T) {
	statuses := Statuses()
	for i, s := range statuses {
		if got := Index(s); got != i {
			t.Errorf("Index(%s) = %d, want %d", s, got, i)
		}
	}
	if Index("BOGUS") != -1 {
		t.Errorf("Index of unknown status should be -1")
	}
}

func TestRoleAllowed(t *testing.T) {
	tr, _ := Find(StatusOceanTransit, EventVesselArrived)
	tests := []struct {
		role Role
		want bool
	}{
		{RoleLogistics, true},
		{RoleAdmin, true},
		{RoleSystem, true},
		{RoleWarehouse, false},
		{RoleAdvisor, false},
	}
	for _, tt := range tests {
		if got := RoleAllowed(tr, tt.role); got != tt.want {
			t.Errorf("RoleAllowed(VESSEL_ARRIVED, %s) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestRequiredRoles(t *testing.T) {
	roles := RequiredRoles(StatusPOIssued, StatusInProduction, EventStartProduction)
	if len(roles) == 0 {
		t.Fatal("expected a role set for START_PRODUCTION")
	}
	if RequiredRoles(StatusPOIssued, StatusDelivered, EventStartProduction) != nil {
		t.Error("mismatched edge should have no role set")
	}
}

func TestLegalEvents(t *testing.T) {
	got := LegalEvents(StatusInProduction)
	if len(got) != 1 || got[0] != EventCompleteProduction {
		t.Errorf("LegalEvents(IN_PRODUCTION) = %v, want [COMPLETE_PRODUCTION]", got)
	}
	if LegalEvents(Terminal) != nil {
		t.Error("terminal status should have no legal events")
	}
}
