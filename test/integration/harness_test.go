package integration

import (
	"net/http"
	"testing"
)

func TestHarness_HealthEndpoints(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("health", func(t *testing.T) {
		var body map[string]any
		h.AssertJSON(t, h.GET("/ui/health", ""), http.StatusOK, &body)
		if body["status"] != "ok" {
			t.Errorf("health status = %v, want ok", body["status"])
		}
	})

	t.Run("ready", func(t *testing.T) {
		h.AssertStatus(t, h.GET("/ui/ready", ""), http.StatusOK)
	})
}

func TestHarness_DefinitionsLoadedFromDisk(t *testing.T) {
	h := NewTestHarness(t)

	if got := h.Registry.Len(); got != 2 {
		t.Errorf("registry has %d tables, want 2", got)
	}
	if _, ok := h.OAIndex.GetOperation(hotelsService, "listHotels"); !ok {
		t.Error("listHotels should be indexed")
	}
	url, ok := h.OAIndex.ResolveURL(hotelsService, "listHotels")
	if !ok || url != h.Hotels().URL()+"/hotels" {
		t.Errorf("listHotels resolves to %q, want the mock backend", url)
	}
}

func TestHarness_ListTables(t *testing.T) {
	h := NewTestHarness(t)

	tests := []struct {
		name   string
		claims TestClaims
		want   []string
	}{
		{"manager", ManagerClaims(), []string{"hotels"}},
		{"revenue", RevenueClaims(), []string{"rates"}},
		{"no role", HousekeepingClaims(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Tables []struct {
					ID    string `json:"id"`
					Title string `json:"title"`
				} `json:"tables"`
			}
			h.AssertJSON(t, h.GET("/ui/tables", h.GenerateToken(tt.claims)), http.StatusOK, &body)

			var ids []string
			for _, tbl := range body.Tables {
				ids = append(ids, tbl.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("tables = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("tables[%d] = %q, want %q", i, ids[i], tt.want[i])
				}
			}
		})
	}
}

func TestHarness_DescriptorLocalized(t *testing.T) {
	h := NewTestHarness(t)
	claims := ManagerClaims()
	claims.Locale = "fr"

	var desc struct {
		Title   string `json:"title"`
		Columns []struct {
			Key   string `json:"key"`
			Label string `json:"label"`
		} `json:"columns"`
	}
	h.AssertJSON(t, h.GET("/ui/tables/hotels", h.GenerateToken(claims)), http.StatusOK, &desc)

	if desc.Title != "Hôtels" {
		t.Errorf("title = %q, want Hôtels", desc.Title)
	}
	if len(desc.Columns) != 4 || desc.Columns[1].Label != "Ville" {
		t.Errorf("columns = %s", FormatJSON(desc.Columns))
	}
}
