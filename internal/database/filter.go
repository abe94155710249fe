package database

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Operator compares a property value with a condition operand
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "notEquals"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "notContains"
	OpStartsWith     Operator = "startsWith"
	OpEndsWith       Operator = "endsWith"
	OpIsEmpty        Operator = "isEmpty"
	OpIsNotEmpty     Operator = "isNotEmpty"
	OpGreaterThan    Operator = "greaterThan"
	OpLessThan       Operator = "lessThan"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLessOrEqual    Operator = "lessOrEqual"
	OpBefore         Operator = "before"
	OpAfter          Operator = "after"
	OpOnOrBefore     Operator = "onOrBefore"
	OpOnOrAfter      Operator = "onOrAfter"
	OpIsChecked      Operator = "isChecked"
	OpIsNotChecked   Operator = "isNotChecked"
)

var (
	textOperators   = []Operator{OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpIsEmpty, OpIsNotEmpty}
	numberOperators = []Operator{OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpIsEmpty, OpIsNotEmpty}
	dateOperators   = []Operator{OpEquals, OpBefore, OpAfter, OpOnOrBefore, OpOnOrAfter, OpIsEmpty, OpIsNotEmpty}
	listOperators   = []Operator{OpContains, OpNotContains, OpIsEmpty, OpIsNotEmpty}
)

// ValidOperators returns the operators applicable to a property type
func ValidOperators(t PropertyType) []Operator {
	switch t {
	case TypeText, TypeURL, TypeFormula, TypeUser:
		return textOperators
	case TypeNumber, TypeRollup:
		return numberOperators
	case TypeDate, TypeTimestamp:
		return dateOperators
	case TypeCheckbox:
		return []Operator{OpIsChecked, OpIsNotChecked}
	case TypeSelect:
		return []Operator{OpEquals, OpNotEquals, OpIsEmpty, OpIsNotEmpty}
	case TypeMultiSelect, TypeRelation, TypeFiles, TypePerson:
		return listOperators
	default:
		return nil
	}
}

// Condition tests one property. Value is a string, number, bool or
// time.Time depending on the property type; unary operators ignore it.
type Condition struct {
	Property string   `json:"property"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// Filter is a boolean tree. A node is either an And group, an Or group or a
// single Condition; an empty node matches every row.
type Filter struct {
	And       []Filter   `json:"and,omitempty"`
	Or        []Filter   `json:"or,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
}

// Where builds a single-condition filter
func Where(property string, op Operator, value any) *Filter {
	return &Filter{Condition: &Condition{Property: property, Operator: op, Value: value}}
}

// Validate checks the filter against a schema
func (f *Filter) Validate(s *Schema) error {
	if f == nil {
		return nil
	}

	set := 0
	if f.And != nil {
		set++
	}
	if f.Or != nil {
		set++
	}
	if f.Condition != nil {
		set++
	}
	if set > 1 {
		return fmt.Errorf("%w: node mixes and, or and condition", ErrInvalidFilter)
	}

	for i := range f.And {
		if err := f.And[i].Validate(s); err != nil {
			return err
		}
	}
	for i := range f.Or {
		if err := f.Or[i].Validate(s); err != nil {
			return err
		}
	}

	if c := f.Condition; c != nil {
		def := s.Property(c.Property)
		if def == nil {
			return fmt.Errorf("%w: %w %q", ErrInvalidFilter, ErrUnknownProperty, c.Property)
		}
		if !slices.Contains(ValidOperators(def.Type), c.Operator) {
			return fmt.Errorf("%w: operator %s does not apply to %s property %q", ErrInvalidFilter, c.Operator, def.Type, def.Name)
		}
		if !unary(c.Operator) && c.Value == nil {
			return fmt.Errorf("%w: operator %s needs a value", ErrInvalidFilter, c.Operator)
		}
		if def.Type == TypeDate || def.Type == TypeTimestamp {
			if _, ok := toTime(c.Value); !ok && !unary(c.Operator) {
				return fmt.Errorf("%w: %v is not a date", ErrInvalidFilter, c.Value)
			}
		}
		if def.Type == TypeNumber || def.Type == TypeRollup {
			if _, ok := toFloat(c.Value); !ok && !unary(c.Operator) {
				return fmt.Errorf("%w: %v is not a number", ErrInvalidFilter, c.Value)
			}
		}
	}
	return nil
}

func unary(op Operator) bool {
	switch op {
	case OpIsEmpty, OpIsNotEmpty, OpIsChecked, OpIsNotChecked:
		return true
	}
	return false
}

// Match evaluates the filter against row values. The filter must have been
// validated against s.
func (f *Filter) Match(s *Schema, values Values) bool {
	if f == nil {
		return true
	}
	if f.And != nil {
		for i := range f.And {
			if !f.And[i].Match(s, values) {
				return false
			}
		}
		return true
	}
	if f.Or != nil {
		for i := range f.Or {
			if f.Or[i].Match(s, values) {
				return true
			}
		}
		return false
	}
	if f.Condition != nil {
		return f.Condition.match(s, values)
	}
	return true
}

func (c *Condition) match(s *Schema, values Values) bool {
	def := s.Property(c.Property)
	if def == nil {
		return false
	}
	v := values[c.Property]

	switch c.Operator {
	case OpIsEmpty:
		return isEmpty(v)
	case OpIsNotEmpty:
		return !isEmpty(v)
	}

	switch v := v.(type) {
	case nil:
		// Missing values only satisfy negative operators
		return c.Operator == OpNotEquals || c.Operator == OpNotContains || c.Operator == OpIsNotChecked
	case TextValue:
		return matchText(c.Operator, v.Text, c.Value)
	case URLValue:
		return matchText(c.Operator, v.URL, c.Value)
	case FormulaValue:
		return matchText(c.Operator, v.Result, c.Value)
	case UserValue:
		return matchText(c.Operator, v.UserID, c.Value)
	case NumberValue:
		return matchNumber(c.Operator, v.Number, c.Value)
	case RollupValue:
		return matchNumber(c.Operator, v.Number, c.Value)
	case DateValue:
		return matchTime(c.Operator, v.Start, c.Value)
	case TimestampValue:
		return matchTime(c.Operator, v.Time, c.Value)
	case CheckboxValue:
		return (c.Operator == OpIsChecked) == v.Checked
	case SelectValue:
		same := sameOption(def, v.OptionID, c.Value)
		if c.Operator == OpNotEquals {
			return !same
		}
		return same
	case MultiSelectValue:
		return matchList(c.Operator, v.OptionIDs, func(id string) bool { return sameOption(def, id, c.Value) })
	case RelationValue:
		return matchList(c.Operator, v.RowIDs, func(id string) bool { return id == fmt.Sprint(c.Value) })
	case PersonValue:
		return matchList(c.Operator, v.DIDs, func(did string) bool { return did == fmt.Sprint(c.Value) })
	case FilesValue:
		names := make([]string, len(v.Files))
		for i, f := range v.Files {
			names[i] = f.Name
		}
		return matchList(c.Operator, names, func(name string) bool {
			return strings.Contains(strings.ToLower(name), strings.ToLower(fmt.Sprint(c.Value)))
		})
	default:
		panic(fmt.Sprintf("database: unhandled value %T", v))
	}
}

// sameOption matches a stored option id against an operand naming the
// option by id or by name
func sameOption(def *PropertyDef, optionID string, operand any) bool {
	key := fmt.Sprint(operand)
	if optionID == key {
		return true
	}
	i, ok := def.option(key)
	return ok && def.Options[i].ID == optionID
}

func matchText(op Operator, s string, operand any) bool {
	want := fmt.Sprint(operand)
	ls, lw := strings.ToLower(s), strings.ToLower(want)
	switch op {
	case OpEquals:
		return s == want
	case OpNotEquals:
		return s != want
	case OpContains:
		return strings.Contains(ls, lw)
	case OpNotContains:
		return !strings.Contains(ls, lw)
	case OpStartsWith:
		return strings.HasPrefix(ls, lw)
	case OpEndsWith:
		return strings.HasSuffix(ls, lw)
	}
	return false
}

func matchNumber(op Operator, n float64, operand any) bool {
	want, ok := toFloat(operand)
	if !ok {
		return false
	}
	switch op {
	case OpEquals:
		return n == want
	case OpNotEquals:
		return n != want
	case OpGreaterThan:
		return n > want
	case OpLessThan:
		return n < want
	case OpGreaterOrEqual:
		return n >= want
	case OpLessOrEqual:
		return n <= want
	}
	return false
}

// matchTime compares at day granularity
func matchTime(op Operator, t time.Time, operand any) bool {
	want, ok := toTime(operand)
	if !ok {
		return false
	}
	c := cmp.Compare(day(t), day(want))
	switch op {
	case OpEquals:
		return c == 0
	case OpBefore:
		return c < 0
	case OpAfter:
		return c > 0
	case OpOnOrBefore:
		return c <= 0
	case OpOnOrAfter:
		return c >= 0
	}
	return false
}

func day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func matchList(op Operator, items []string, eq func(string) bool) bool {
	found := slices.ContainsFunc(items, eq)
	switch op {
	case OpContains:
		return found
	case OpNotContains:
		return !found
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
