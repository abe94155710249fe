package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/blockvault/internal/cas"
)

// NoneGroup collects rows without a value for the grouping property
const NoneGroup = "_none"

// Options configures an Engine
type Options struct {
	Manifests ManifestStore
	// Rows holds row bodies
	Rows cas.Store
	// OnRowStored is called with the content id of every written row body
	OnRowStored func(databaseID, rowID, contentID string)
	Logger      *slog.Logger
}

// Engine manages databases and evaluates queries
type Engine struct {
	mu          sync.Mutex
	manifests   ManifestStore
	rows        cas.Store
	onRowStored func(string, string, string)
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// NewEngine creates a database engine
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		manifests:   opts.Manifests,
		rows:        opts.Rows,
		onRowStored: opts.OnRowStored,
		logger:      opts.Logger,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

func (e *Engine) validateProperty(def *PropertyDef, existing []PropertyDef) error {
	if !def.Type.Valid() {
		return fmt.Errorf("%w: unknown property type %q", ErrInvalidSchema, def.Type)
	}
	if def.Name == "" {
		return fmt.Errorf("%w: property name is required", ErrInvalidSchema)
	}
	for _, p := range existing {
		if p.ID == def.ID {
			return fmt.Errorf("%w: duplicate property id %q", ErrInvalidSchema, def.ID)
		}
	}
	if def.Type != TypeSelect && def.Type != TypeMultiSelect && len(def.Options) > 0 {
		return fmt.Errorf("%w: %s property %q cannot have options", ErrInvalidSchema, def.Type, def.Name)
	}
	for i := range def.Options {
		if def.Options[i].ID == "" {
			def.Options[i].ID = e.newID()
		}
	}
	return nil
}

// CreateDatabase creates a database with the given properties and a default
// table view. Property ids are generated when empty.
func (e *Engine) CreateDatabase(ctx context.Context, title string, properties []PropertyDef) (*Manifest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()
	m := &Manifest{
		ID:         e.newID(),
		Title:      title,
		Version:    1,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	for _, def := range properties {
		def.Options = slices.Clone(def.Options)
		if def.ID == "" {
			def.ID = e.newID()
		}
		if err := e.validateProperty(&def, m.Schema.Properties); err != nil {
			return nil, err
		}
		m.Schema.Properties = append(m.Schema.Properties, def)
	}
	m.Schema.Views = []View{{ID: e.newID(), Name: "Table", Type: ViewTable}}

	if err := e.manifests.SaveManifest(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save database %s: %w", m.ID, err)
	}
	e.logger.Info("database created", "id", m.ID, "title", title, "properties", len(m.Schema.Properties))
	return m, nil
}

// GetManifest returns the manifest of a database
func (e *Engine) GetManifest(ctx context.Context, databaseID string) (*Manifest, error) {
	m, err := e.manifests.LoadManifest(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("database %s: %w", databaseID, err)
	}
	return m, nil
}

// ListDatabases returns every manifest
func (e *Engine) ListDatabases(ctx context.Context) ([]*Manifest, error) {
	return e.manifests.ListManifests(ctx)
}

// update loads, mutates and saves a manifest under the engine lock
func (e *Engine) update(ctx context.Context, databaseID string, fn func(m *Manifest) error) (*Manifest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.manifests.LoadManifest(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("database %s: %w", databaseID, err)
	}
	if err := fn(m); err != nil {
		return nil, err
	}

	m.Version++
	m.ModifiedAt = e.now().UTC()
	if err := e.manifests.SaveManifest(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save database %s: %w", databaseID, err)
	}
	return m, nil
}

// AddProperty adds a column to a database
func (e *Engine) AddProperty(ctx context.Context, databaseID string, def PropertyDef) (*PropertyDef, error) {
	def.Options = slices.Clone(def.Options)
	if def.ID == "" {
		def.ID = e.newID()
	}
	_, err := e.update(ctx, databaseID, func(m *Manifest) error {
		if err := e.validateProperty(&def, m.Schema.Properties); err != nil {
			return err
		}
		m.Schema.Properties = append(m.Schema.Properties, def)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// AddView adds a saved view after validating its filter, sorts and grouping
func (e *Engine) AddView(ctx context.Context, databaseID string, view View) (*View, error) {
	if view.ID == "" {
		view.ID = e.newID()
	}
	_, err := e.update(ctx, databaseID, func(m *Manifest) error {
		if err := view.Filter.Validate(&m.Schema); err != nil {
			return err
		}
		for _, s := range view.Sorts {
			if m.Schema.Property(s.Property) == nil {
				return fmt.Errorf("%w: sort by %w %q", ErrInvalidSchema, ErrUnknownProperty, s.Property)
			}
		}
		switch view.Type {
		case ViewTable, ViewGallery:
		case ViewBoard:
			if err := checkGroupable(&m.Schema, view.GroupBy); err != nil {
				return err
			}
		case ViewCalendar:
			def := m.Schema.Property(view.DateProperty)
			if def == nil || def.Type != TypeDate {
				return fmt.Errorf("%w: calendar view needs a date property", ErrInvalidSchema)
			}
		default:
			return fmt.Errorf("%w: unknown view type %q", ErrInvalidSchema, view.Type)
		}
		m.Schema.Views = append(m.Schema.Views, view)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func checkGroupable(s *Schema, propertyID string) error {
	def := s.Property(propertyID)
	if def == nil {
		return fmt.Errorf("%w: group by %w %q", ErrInvalidSchema, ErrUnknownProperty, propertyID)
	}
	switch def.Type {
	case TypeSelect, TypeMultiSelect, TypeCheckbox:
		return nil
	}
	return fmt.Errorf("%w: cannot group by %s property %q", ErrInvalidSchema, def.Type, def.Name)
}

// checkValues type-checks values against the schema. A nil value clears the
// property.
func checkValues(s *Schema, values Values) error {
	for id, v := range values {
		def := s.Property(id)
		if def == nil {
			return fmt.Errorf("%w %q", ErrUnknownProperty, id)
		}
		if v == nil {
			continue
		}
		if v.Type() != def.Type {
			return fmt.Errorf("property %q is %s, got %s: %w", def.Name, def.Type, v.Type(), ErrTypeMismatch)
		}

		switch v := v.(type) {
		case SelectValue:
			if _, ok := def.option(v.OptionID); !ok && v.OptionID != "" {
				return fmt.Errorf("%w: %q is not an option of %q", ErrInvalidValue, v.OptionID, def.Name)
			}
		case MultiSelectValue:
			for _, id := range v.OptionIDs {
				if _, ok := def.option(id); !ok {
					return fmt.Errorf("%w: %q is not an option of %q", ErrInvalidValue, id, def.Name)
				}
			}
		}
	}
	return nil
}

// canonical replaces option names with option ids
func canonical(s *Schema, values Values) Values {
	out := values.clone()
	for id, v := range out {
		def := s.Property(id)
		switch v := v.(type) {
		case SelectValue:
			if i, ok := def.option(v.OptionID); ok {
				out[id] = SelectValue{OptionID: def.Options[i].ID}
			}
		case MultiSelectValue:
			ids := make([]string, 0, len(v.OptionIDs))
			for _, key := range v.OptionIDs {
				i, _ := def.option(key)
				ids = append(ids, def.Options[i].ID)
			}
			out[id] = MultiSelectValue{OptionIDs: ids}
		}
	}
	return out
}

func (e *Engine) storeRow(ctx context.Context, row *Row) (string, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("failed to encode row %s: %w", row.ID, err)
	}
	id, err := e.rows.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to store row %s: %w", row.ID, err)
	}
	return id, nil
}

func (e *Engine) rowStored(databaseID, rowID, contentID string) {
	if e.onRowStored != nil {
		e.onRowStored(databaseID, rowID, contentID)
	}
}

// CreateRow adds a row. Values are type-checked against the schema.
func (e *Engine) CreateRow(ctx context.Context, databaseID string, values Values) (*Row, error) {
	var row *Row
	var contentID string
	_, err := e.update(ctx, databaseID, func(m *Manifest) error {
		if err := checkValues(&m.Schema, values); err != nil {
			return err
		}

		now := e.now().UTC()
		row = &Row{
			ID:         e.newID(),
			DatabaseID: databaseID,
			Properties: dropNil(canonical(&m.Schema, values)),
			CreatedAt:  now,
			ModifiedAt: now,
		}

		id, err := e.storeRow(ctx, row)
		if err != nil {
			return err
		}
		contentID = id
		m.RowIndex = append(m.RowIndex, RowRef{
			ID:         row.ID,
			ContentID:  id,
			Fields:     row.Properties.clone(),
			CreatedAt:  now,
			ModifiedAt: now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.rowStored(databaseID, row.ID, contentID)
	return row, nil
}

func dropNil(values Values) Values {
	for k, v := range values {
		if v == nil {
			delete(values, k)
		}
	}
	return values
}

// UpdateRow merges values into a row. A value whose type differs from its
// property's declared type fails the whole update with ErrTypeMismatch.
func (e *Engine) UpdateRow(ctx context.Context, databaseID, rowID string, values Values) (*Row, error) {
	var row *Row
	var contentID string
	_, err := e.update(ctx, databaseID, func(m *Manifest) error {
		i := m.rowIndex(rowID)
		if i < 0 {
			return fmt.Errorf("%s: %w", rowID, ErrRowNotFound)
		}
		if err := checkValues(&m.Schema, values); err != nil {
			return err
		}

		current, err := e.loadRow(ctx, m.RowIndex[i])
		if err != nil {
			return err
		}
		merged := current.Properties.clone()
		for k, v := range canonical(&m.Schema, values) {
			merged[k] = v
		}
		current.Properties = dropNil(merged)
		current.ModifiedAt = e.now().UTC()

		id, err := e.storeRow(ctx, current)
		if err != nil {
			return err
		}
		contentID = id
		m.RowIndex[i].ContentID = id
		m.RowIndex[i].Fields = current.Properties.clone()
		m.RowIndex[i].ModifiedAt = current.ModifiedAt
		row = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.rowStored(databaseID, row.ID, contentID)
	return row, nil
}

func (e *Engine) loadRow(ctx context.Context, ref RowRef) (*Row, error) {
	data, err := e.rows.Get(ctx, ref.ContentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load row %s: %w", ref.ID, err)
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to parse row %s: %w", ref.ID, err)
	}
	if row.Properties == nil {
		row.Properties = Values{}
	}
	return &row, nil
}

// GetRow returns the full body of a row
func (e *Engine) GetRow(ctx context.Context, databaseID, rowID string) (*Row, error) {
	m, err := e.GetManifest(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	i := m.rowIndex(rowID)
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", rowID, ErrRowNotFound)
	}
	return e.loadRow(ctx, m.RowIndex[i])
}

// DeleteRow removes a row from the index. Its body stays in the content
// store for version history.
func (e *Engine) DeleteRow(ctx context.Context, databaseID, rowID string) error {
	_, err := e.update(ctx, databaseID, func(m *Manifest) error {
		i := m.rowIndex(rowID)
		if i < 0 {
			return fmt.Errorf("%s: %w", rowID, ErrRowNotFound)
		}
		m.RowIndex = append(m.RowIndex[:i], m.RowIndex[i+1:]...)
		return nil
	})
	return err
}

// Query selects rows of a database
type Query struct {
	DatabaseID string
	Filter     *Filter
	Sorts      []SortRule
	Offset     int
	// Limit of zero returns every row
	Limit int
}

// QueryResult is one page of a query. Total counts every matching row.
type QueryResult struct {
	Rows    []Row
	Total   int
	HasMore bool
}

// matching filters and sorts the row index without loading bodies
func (e *Engine) matching(ctx context.Context, databaseID string, filter *Filter, sorts []SortRule) (*Manifest, []RowRef, error) {
	m, err := e.GetManifest(ctx, databaseID)
	if err != nil {
		return nil, nil, err
	}
	if err := filter.Validate(&m.Schema); err != nil {
		return nil, nil, err
	}
	for _, s := range sorts {
		if m.Schema.Property(s.Property) == nil {
			return nil, nil, fmt.Errorf("sort by %w %q", ErrUnknownProperty, s.Property)
		}
	}

	var refs []RowRef
	for _, ref := range m.RowIndex {
		if filter.Match(&m.Schema, ref.Fields) {
			refs = append(refs, ref)
		}
	}
	sortRefs(&m.Schema, refs, sorts)
	return m, refs, nil
}

func (e *Engine) loadRows(ctx context.Context, refs []RowRef) ([]Row, error) {
	rows := make([]Row, 0, len(refs))
	for _, ref := range refs {
		row, err := e.loadRow(ctx, ref)
		if err != nil {
			return nil, err
		}
		rows = append(rows, *row)
	}
	return rows, nil
}

// QueryRows filters, sorts and paginates rows. Only the returned page of
// row bodies is loaded.
func (e *Engine) QueryRows(ctx context.Context, q Query) (*QueryResult, error) {
	_, refs, err := e.matching(ctx, q.DatabaseID, q.Filter, q.Sorts)
	if err != nil {
		return nil, err
	}

	total := len(refs)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}

	rows, err := e.loadRows(ctx, refs[start:end])
	if err != nil {
		return nil, err
	}
	return &QueryResult{Rows: rows, Total: total, HasMore: end < total}, nil
}

// GetGroupedRows groups matching rows by a select, multi-select or checkbox
// property. Select groups are keyed by option id, checkbox groups by "true"
// and "false"; rows without a value go to NoneGroup. A multi-select row
// appears in the group of each of its options.
func (e *Engine) GetGroupedRows(ctx context.Context, databaseID, groupBy string, filter *Filter, sorts ...SortRule) (map[string][]Row, error) {
	m, refs, err := e.matching(ctx, databaseID, filter, sorts)
	if err != nil {
		return nil, err
	}
	if err := checkGroupable(&m.Schema, groupBy); err != nil {
		return nil, err
	}

	groups := make(map[string][]Row)
	for _, ref := range refs {
		row, err := e.loadRow(ctx, ref)
		if err != nil {
			return nil, err
		}
		for _, key := range groupKeys(ref.Fields[groupBy]) {
			groups[key] = append(groups[key], *row)
		}
	}
	return groups, nil
}

func groupKeys(v Value) []string {
	if isEmpty(v) {
		return []string{NoneGroup}
	}
	switch v := v.(type) {
	case SelectValue:
		return []string{v.OptionID}
	case MultiSelectValue:
		return v.OptionIDs
	case CheckboxValue:
		return []string{fmt.Sprint(v.Checked)}
	}
	return []string{NoneGroup}
}

// RowsInRange returns rows whose date property overlaps [from, to), ordered
// by start date. Used by calendar views.
func (e *Engine) RowsInRange(ctx context.Context, databaseID, dateProperty string, from, to time.Time) ([]Row, error) {
	m, err := e.GetManifest(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	def := m.Schema.Property(dateProperty)
	if def == nil || def.Type != TypeDate {
		return nil, fmt.Errorf("%w: %q is not a date property", ErrInvalidFilter, dateProperty)
	}

	var refs []RowRef
	for _, ref := range m.RowIndex {
		d, ok := ref.Fields[dateProperty].(DateValue)
		if !ok || d.Start.IsZero() {
			continue
		}
		end := d.Start
		if d.End != nil {
			end = *d.End
		}
		if d.Start.Before(to) && !end.Before(from) {
			refs = append(refs, ref)
		}
	}
	sortRefs(&m.Schema, refs, []SortRule{{Property: dateProperty, Direction: Ascending}})
	return e.loadRows(ctx, refs)
}
