package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/blockvault/internal/cas"
	"github.com/vonshlovens/blockvault/internal/localstore"
)

func date(s string) DateValue {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return DateValue{Start: t}
}

type taskDB struct {
	engine *Engine
	id     string
}

func newTaskDB(t *testing.T) *taskDB {
	t.Helper()
	e := NewEngine(Options{Manifests: NewMemoryManifests(), Rows: cas.NewMemoryStore()})

	m, err := e.CreateDatabase(context.Background(), "Tasks", []PropertyDef{
		{ID: "name", Name: "Name", Type: TypeText},
		{ID: "status", Name: "Status", Type: TypeSelect, Options: []SelectOption{
			{ID: "todo", Name: "To do"},
			{ID: "doing", Name: "Doing"},
			{ID: "done", Name: "Done"},
		}},
		{ID: "dueDate", Name: "Due", Type: TypeDate},
		{ID: "points", Name: "Points", Type: TypeNumber},
		{ID: "urgent", Name: "Urgent", Type: TypeCheckbox},
	})
	require.NoError(t, err)
	return &taskDB{engine: e, id: m.ID}
}

func (db *taskDB) add(t *testing.T, values Values) *Row {
	t.Helper()
	row, err := db.engine.CreateRow(context.Background(), db.id, values)
	require.NoError(t, err)
	return row
}

func names(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Properties["name"].(TextValue).Text
	}
	return out
}

func TestQueryRows_FilterAndSort(t *testing.T) {
	db := newTaskDB(t)
	db.add(t, Values{"name": TextValue{"write docs"}, "status": SelectValue{"done"}, "dueDate": date("2026-03-10")})
	db.add(t, Values{"name": TextValue{"fix bug"}, "status": SelectValue{"doing"}, "dueDate": date("2026-03-01")})
	db.add(t, Values{"name": TextValue{"ship"}, "status": SelectValue{"done"}, "dueDate": date("2026-02-20")})
	db.add(t, Values{"name": TextValue{"plan"}, "status": SelectValue{"todo"}, "dueDate": date("2026-01-05")})
	db.add(t, Values{"name": TextValue{"review"}, "status": SelectValue{"todo"}})

	res, err := db.engine.QueryRows(context.Background(), Query{
		DatabaseID: db.id,
		Filter:     Where("status", OpEquals, "done"),
		Sorts:      []SortRule{{Property: "dueDate", Direction: Ascending}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.False(t, res.HasMore)
	assert.Equal(t, []string{"ship", "write docs"}, names(res.Rows))
}

func TestQueryRows_OptionName(t *testing.T) {
	db := newTaskDB(t)
	db.add(t, Values{"name": TextValue{"a"}, "status": SelectValue{"Done"}})

	row := db.add(t, Values{"name": TextValue{"b"}, "status": SelectValue{"done"}})
	assert.Equal(t, SelectValue{"done"}, row.Properties["status"])

	res, err := db.engine.QueryRows(context.Background(), Query{DatabaseID: db.id, Filter: Where("status", OpEquals, "Done")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestQueryRows_StableSortMissingLast(t *testing.T) {
	db := newTaskDB(t)
	db.add(t, Values{"name": TextValue{"p3-first"}, "points": NumberValue{3}})
	db.add(t, Values{"name": TextValue{"none-first"}})
	db.add(t, Values{"name": TextValue{"p1"}, "points": NumberValue{1}})
	db.add(t, Values{"name": TextValue{"p3-second"}, "points": NumberValue{3}})
	db.add(t, Values{"name": TextValue{"none-second"}})

	for _, dir := range []SortDirection{Ascending, Descending} {
		res, err := db.engine.QueryRows(context.Background(), Query{
			DatabaseID: db.id,
			Sorts:      []SortRule{{Property: "points", Direction: dir}},
		})
		require.NoError(t, err)

		want := []string{"p1", "p3-first", "p3-second", "none-first", "none-second"}
		if dir == Descending {
			want = []string{"p3-first", "p3-second", "p1", "none-first", "none-second"}
		}
		assert.Equal(t, want, names(res.Rows), "direction %s", dir)
	}
}

func TestQueryRows_SecondarySort(t *testing.T) {
	db := newTaskDB(t)
	db.add(t, Values{"name": TextValue{"b"}, "status": SelectValue{"done"}})
	db.add(t, Values{"name": TextValue{"c"}, "status": SelectValue{"todo"}})
	db.add(t, Values{"name": TextValue{"a"}, "status": SelectValue{"done"}})

	res, err := db.engine.QueryRows(context.Background(), Query{
		DatabaseID: db.id,
		Sorts: []SortRule{
			{Property: "status", Direction: Ascending},
			{Property: "name", Direction: Descending},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, names(res.Rows))
}

func TestQueryRows_Pagination(t *testing.T) {
	db := newTaskDB(t)
	for i := 0; i < 7; i++ {
		db.add(t, Values{"name": TextValue{fmt.Sprintf("row-%d", i)}, "points": NumberValue{float64(i)}})
	}

	q := Query{DatabaseID: db.id, Sorts: []SortRule{{Property: "points"}}, Limit: 3}
	res, err := db.engine.QueryRows(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"row-0", "row-1", "row-2"}, names(res.Rows))
	assert.Equal(t, 7, res.Total)
	assert.True(t, res.HasMore)

	q.Offset = 6
	res, err = db.engine.QueryRows(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"row-6"}, names(res.Rows))
	assert.False(t, res.HasMore)

	q.Offset = 20
	res, err = db.engine.QueryRows(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestQueryRows_NestedFilter(t *testing.T) {
	db := newTaskDB(t)
	db.add(t, Values{"name": TextValue{"a"}, "points": NumberValue{8}, "urgent": CheckboxValue{true}})
	db.add(t, Values{"name": TextValue{"b"}, "points": NumberValue{2}, "urgent": CheckboxValue{true}})
	db.add(t, Values{"name": TextValue{"c"}, "points": NumberValue{9}})
	db.add(t, Values{"name": TextValue{"d"}, "points": NumberValue{1}})

	filter := &Filter{Or: []Filter{
		{And: []Filter{*Where("urgent", OpIsChecked, nil), *Where("points", OpGreaterThan, 5)}},
		{Condition: &Condition{Property: "urgent", Operator: OpIsNotChecked}},
	}}
	res, err := db.engine.QueryRows(context.Background(), Query{DatabaseID: db.id, Filter: filter})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, names(res.Rows))
}

func TestQueryRows_InvalidFilter(t *testing.T) {
	db := newTaskDB(t)

	tests := []struct {
		name   string
		filter *Filter
	}{
		{"unknown property", Where("owner", OpEquals, "x")},
		{"operator not valid for type", Where("urgent", OpContains, "x")},
		{"missing operand", Where("points", OpGreaterThan, nil)},
		{"bad date", Where("dueDate", OpBefore, "tomorrow")},
		{"mixed node", &Filter{And: []Filter{}, Condition: &Condition{Property: "name", Operator: OpIsEmpty}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.engine.QueryRows(context.Background(), Query{DatabaseID: db.id, Filter: tt.filter})
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestUpdateRow_TypeMismatch(t *testing.T) {
	ctx := context.Background()
	db := newTaskDB(t)
	row := db.add(t, Values{"name": TextValue{"a"}, "points": NumberValue{1}})

	_, err := db.engine.UpdateRow(ctx, db.id, row.ID, Values{
		"name":   TextValue{"renamed"},
		"points": TextValue{"three"},
	})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	got, err := db.engine.GetRow(ctx, db.id, row.ID)
	require.NoError(t, err)
	assert.Equal(t, TextValue{"a"}, got.Properties["name"], "nothing applied on mismatch")

	updated, err := db.engine.UpdateRow(ctx, db.id, row.ID, Values{"points": NumberValue{3}, "name": nil})
	require.NoError(t, err)
	assert.Equal(t, NumberValue{3}, updated.Properties["points"])
	assert.NotContains(t, updated.Properties, "name")

	_, err = db.engine.UpdateRow(ctx, db.id, row.ID, Values{"status": SelectValue{"blocked"}})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = db.engine.UpdateRow(ctx, db.id, row.ID, Values{"owner": TextValue{"x"}})
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = db.engine.UpdateRow(ctx, db.id, "missing", Values{})
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestGetGroupedRows(t *testing.T) {
	db := newTaskDB(t)
	db.add(t, Values{"name": TextValue{"a"}, "status": SelectValue{"done"}})
	db.add(t, Values{"name": TextValue{"b"}})
	db.add(t, Values{"name": TextValue{"c"}, "status": SelectValue{"todo"}})
	db.add(t, Values{"name": TextValue{"d"}, "status": SelectValue{"done"}})

	groups, err := db.engine.GetGroupedRows(context.Background(), db.id, "status", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, names(groups["done"]))
	assert.Equal(t, []string{"c"}, names(groups["todo"]))
	assert.Equal(t, []string{"b"}, names(groups[NoneGroup]))
	assert.NotContains(t, groups, "doing")

	_, err = db.engine.GetGroupedRows(context.Background(), db.id, "points", nil)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestRowsInRange(t *testing.T) {
	db := newTaskDB(t)
	end := date("2026-03-03").Start
	db.add(t, Values{"name": TextValue{"spans"}, "dueDate": DateValue{Start: date("2026-02-27").Start, End: &end}})
	db.add(t, Values{"name": TextValue{"inside"}, "dueDate": date("2026-03-15")})
	db.add(t, Values{"name": TextValue{"after"}, "dueDate": date("2026-04-01")})
	db.add(t, Values{"name": TextValue{"undated"}})

	rows, err := db.engine.RowsInRange(context.Background(), db.id, "dueDate", date("2026-03-01").Start, date("2026-04-01").Start)
	require.NoError(t, err)
	assert.Equal(t, []string{"spans", "inside"}, names(rows))
}

func TestAddPropertyAndView(t *testing.T) {
	ctx := context.Background()
	db := newTaskDB(t)

	def, err := db.engine.AddProperty(ctx, db.id, PropertyDef{Name: "Tags", Type: TypeMultiSelect, Options: []SelectOption{{Name: "ops"}}})
	require.NoError(t, err)
	assert.NotEmpty(t, def.ID)
	assert.NotEmpty(t, def.Options[0].ID)

	_, err = db.engine.AddProperty(ctx, db.id, PropertyDef{Name: "Bad", Type: "money"})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	view, err := db.engine.AddView(ctx, db.id, View{Name: "Board", Type: ViewBoard, GroupBy: "status"})
	require.NoError(t, err)

	_, err = db.engine.AddView(ctx, db.id, View{Name: "Calendar", Type: ViewCalendar, DateProperty: "points"})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	m, err := db.engine.GetManifest(ctx, db.id)
	require.NoError(t, err)
	assert.Len(t, m.Schema.Views, 2)
	assert.Equal(t, view.ID, m.Schema.Views[1].ID)
	assert.NotNil(t, m.Schema.Property(def.ID))
}

func TestDeleteRow(t *testing.T) {
	ctx := context.Background()
	db := newTaskDB(t)
	row := db.add(t, Values{"name": TextValue{"a"}})

	require.NoError(t, db.engine.DeleteRow(ctx, db.id, row.ID))
	_, err := db.engine.GetRow(ctx, db.id, row.ID)
	assert.ErrorIs(t, err, ErrRowNotFound)
	assert.ErrorIs(t, db.engine.DeleteRow(ctx, db.id, row.ID), ErrRowNotFound)

	_, err = db.engine.GetManifest(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngineWithLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	defer store.Close()

	var stored []string
	e := NewEngine(Options{
		Manifests:   NewStoreManifests(store),
		Rows:        store,
		OnRowStored: func(databaseID, rowID, contentID string) { stored = append(stored, contentID) },
	})

	m, err := e.CreateDatabase(ctx, "Reading", []PropertyDef{
		{ID: "title", Name: "Title", Type: TypeText},
		{ID: "read", Name: "Read", Type: TypeCheckbox},
	})
	require.NoError(t, err)

	row, err := e.CreateRow(ctx, m.ID, Values{"title": TextValue{"SICP"}, "read": CheckboxValue{true}})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	reopened := NewEngine(Options{Manifests: NewStoreManifests(store), Rows: store})
	got, err := reopened.GetRow(ctx, m.ID, row.ID)
	require.NoError(t, err)
	assert.Equal(t, TextValue{"SICP"}, got.Properties["title"])

	all, err := reopened.ListDatabases(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Reading", all[0].Title)
}
