package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryState_ActiveFiltersDropsEmpty(t *testing.T) {
	q := QueryState{Page: 1, Limit: 10, Filters: map[string]string{
		"name":   "foo",
		"status": "",
		"":       "orphan",
	}}
	assert.Equal(t, map[string]string{"name": "foo"}, q.ActiveFilters())
}

func TestQueryState_ActiveFiltersTrims(t *testing.T) {
	q := QueryState{Filters: map[string]string{"name": " foo ", "city": "   "}}
	assert.Equal(t, map[string]string{"name": "foo"}, q.ActiveFilters())
	assert.True(t, q.Equal(QueryState{Filters: map[string]string{"name": "foo"}}))
}

func TestQueryState_CloneIsDeep(t *testing.T) {
	q := QueryState{Page: 2, Limit: 10, Filters: map[string]string{"city": "Bali"}}
	cp := q.Clone()
	cp.Filters["city"] = "Jakarta"
	assert.Equal(t, "Bali", q.Filters["city"])

	empty := QueryState{Page: 1, Limit: 10}.Clone()
	assert.NotNil(t, empty.Filters)
}

func TestQueryState_Equal(t *testing.T) {
	a := QueryState{Page: 1, Limit: 10, SortField: "price", SortOrder: SortAsc}
	b := QueryState{Page: 1, Limit: 10, SortField: "price", SortOrder: SortAsc,
		Filters: map[string]string{"name": ""}}
	assert.True(t, a.Equal(b))

	b.Filters["name"] = "x"
	assert.False(t, a.Equal(b))

	c := a
	c.SortOrder = SortDesc
	assert.False(t, a.Equal(c))
}

func TestSortOrder_Valid(t *testing.T) {
	assert.True(t, SortAsc.Valid())
	assert.True(t, SortDesc.Valid())
	assert.False(t, SortOrder("up").Valid())
	assert.False(t, SortOrder("").Valid())
}

func TestLifecycleState_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		S LifecycleState `json:"s"`
	}{S: Failure})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"failure"}`, string(b))
	assert.Equal(t, "unknown", LifecycleState(42).String())
}

func TestSnapshot_Empty(t *testing.T) {
	assert.True(t, Snapshot[int]{Lifecycle: Success}.Empty())
	assert.False(t, Snapshot[int]{Lifecycle: Loading}.Empty())
	assert.False(t, Snapshot[int]{Lifecycle: Success, Rows: []int{1}}.Empty())
}

func TestTableDefinition_Schema(t *testing.T) {
	def := TableDefinition{
		ID: "orders",
		Columns: []ColumnDefinition{
			{Key: "id", Sortable: true},
			{Key: "guest"},
			{Key: "price", Sortable: true},
		},
		Filters: []FilterDefinition{
			{Key: "status", Type: FilterSelect, Options: []StaticOption{
				{Label: "Pending", Value: "pending"},
				{Label: "Served", Value: "served"},
			}},
			{Key: "guest", Type: FilterText},
		},
	}
	s := def.Schema()
	assert.Equal(t, "orders", s.Entity)
	assert.True(t, s.IsSortable("price"))
	assert.False(t, s.IsSortable("guest"))

	status, ok := s.Filter("status")
	require.True(t, ok)
	assert.True(t, status.Allows("served"))
	assert.False(t, status.Allows("lost"))

	_, ok = s.Filter("vendor")
	assert.False(t, ok)
}

func TestSession_HasAnyRole(t *testing.T) {
	s := Session{Roles: []string{"vendor"}}
	assert.True(t, s.HasAnyRole())
	assert.True(t, s.HasAnyRole("admin", "vendor"))
	assert.False(t, s.HasAnyRole("admin"))
}

func TestSession_Validate(t *testing.T) {
	assert.Error(t, Session{}.Validate())
	assert.NoError(t, Session{SubjectID: "u1", TenantID: "hotel-1"}.Validate())
}
