package definition

import (
	"sync"
	"testing"

	"github.com/pitabwire/concierge/model"
)

func testDefs() []model.DomainDefinition {
	return []model.DomainDefinition{
		{
			Domain:   "hotel",
			Version:  "1.0.0",
			Checksum: "abc123",
			Tables: []model.TableDefinition{
				{ID: "hotels", Title: "Hotels", DataSource: model.DataSourceDefinition{OperationID: "listHotels"}},
				{ID: "rooms", Title: "Rooms", DataSource: model.DataSourceDefinition{ServiceID: "rooms-svc", OperationID: "listRooms"}},
			},
		},
		{
			Domain:   "vendor",
			Version:  "1.0.0",
			Checksum: "def456",
			Tables: []model.TableDefinition{
				{ID: "vendors", Title: "Vendors", DataSource: model.DataSourceDefinition{Path: "https://vendors.internal/vendors"}},
			},
		},
	}
}

func TestRegistry_GetDomain(t *testing.T) {
	r := NewRegistry(testDefs())

	d, ok := r.GetDomain("hotel")
	if !ok {
		t.Fatal("GetDomain(hotel) not found")
	}
	if len(d.Tables) != 2 {
		t.Errorf("Tables = %d, want 2", len(d.Tables))
	}
	if _, ok := r.GetDomain("unknown"); ok {
		t.Error("GetDomain(unknown) should return false")
	}
}

func TestRegistry_GetTable(t *testing.T) {
	r := NewRegistry(testDefs())

	e, ok := r.GetTable("hotels")
	if !ok {
		t.Fatal("GetTable(hotels) not found")
	}
	if e.Domain != "hotel" || e.Table.Title != "Hotels" {
		t.Errorf("GetTable(hotels) = %+v", e)
	}
	if _, ok := r.GetTable("nonexistent"); ok {
		t.Error("GetTable(nonexistent) should return false")
	}
}

func TestEntry_ServiceID(t *testing.T) {
	r := NewRegistry(testDefs())

	hotels, _ := r.GetTable("hotels")
	if got := hotels.ServiceID(); got != "hotel-svc" {
		t.Errorf("default ServiceID() = %q, want hotel-svc", got)
	}
	rooms, _ := r.GetTable("rooms")
	if got := rooms.ServiceID(); got != "rooms-svc" {
		t.Errorf("explicit ServiceID() = %q, want rooms-svc", got)
	}
}

func TestRegistry_AllTables_sorted(t *testing.T) {
	r := NewRegistry(testDefs())
	all := r.AllTables()
	want := []string{"hotels", "rooms", "vendors"}
	if len(all) != len(want) {
		t.Fatalf("AllTables() returned %d, want %d", len(all), len(want))
	}
	for i, e := range all {
		if e.Table.ID != want[i] {
			t.Errorf("AllTables()[%d] = %q, want %q", i, e.Table.ID, want[i])
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRegistry_AllDomains(t *testing.T) {
	all := NewRegistry(testDefs()).AllDomains()
	if len(all) != 2 || all[0].Domain != "hotel" || all[1].Domain != "vendor" {
		t.Errorf("AllDomains() = %+v", all)
	}
}

func TestRegistry_Checksum(t *testing.T) {
	a := NewRegistry(testDefs())
	if a.Checksum() == "" {
		t.Fatal("Checksum should not be empty")
	}

	// Order of definitions does not matter.
	defs := testDefs()
	defs[0], defs[1] = defs[1], defs[0]
	if b := NewRegistry(defs); a.Checksum() != b.Checksum() {
		t.Error("Checksum should not depend on definition order")
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry(testDefs())
	if _, ok := r.GetTable("hotels"); !ok {
		t.Fatal("before replace: hotels not found")
	}

	r.Replace(nil)

	if _, ok := r.GetTable("hotels"); ok {
		t.Error("after replace with nil: hotels should not be found")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_ConcurrentReadWrite(t *testing.T) {
	r := NewRegistry(testDefs())

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				r.GetTable("hotels")
				r.AllTables()
				r.Checksum()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 10 {
			r.Replace(testDefs())
		}
	}()

	wg.Wait()
}
