package database

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
)

// sortRefs orders refs by rules. Rows missing a value sort after rows that
// have one in either direction, and ties keep index order.
func sortRefs(s *Schema, refs []RowRef, rules []SortRule) {
	if len(rules) == 0 {
		return
	}
	sort.SliceStable(refs, func(i, j int) bool {
		for _, rule := range rules {
			def := s.Property(rule.Property)
			if def == nil {
				continue
			}
			a, b := refs[i].Fields[rule.Property], refs[j].Fields[rule.Property]
			aEmpty, bEmpty := isEmpty(a), isEmpty(b)
			switch {
			case aEmpty && bEmpty:
				continue
			case aEmpty:
				return false
			case bEmpty:
				return true
			}

			c := compareValues(def, a, b)
			if c == 0 {
				continue
			}
			if rule.Direction == Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues orders two non-empty values of the same property
func compareValues(def *PropertyDef, a, b Value) int {
	switch a := a.(type) {
	case TextValue:
		return compareText(a.Text, b.(TextValue).Text)
	case URLValue:
		return compareText(a.URL, b.(URLValue).URL)
	case FormulaValue:
		return compareText(a.Result, b.(FormulaValue).Result)
	case UserValue:
		return compareText(a.UserID, b.(UserValue).UserID)
	case NumberValue:
		return cmp.Compare(a.Number, b.(NumberValue).Number)
	case RollupValue:
		return cmp.Compare(a.Number, b.(RollupValue).Number)
	case DateValue:
		return a.Start.Compare(b.(DateValue).Start)
	case TimestampValue:
		return a.Time.Compare(b.(TimestampValue).Time)
	case CheckboxValue:
		return compareBool(a.Checked, b.(CheckboxValue).Checked)
	case SelectValue:
		// Options sort in their declared order
		ai, _ := def.option(a.OptionID)
		bi, _ := def.option(b.(SelectValue).OptionID)
		return cmp.Compare(ai, bi)
	case MultiSelectValue:
		return cmp.Compare(len(a.OptionIDs), len(b.(MultiSelectValue).OptionIDs))
	case RelationValue:
		return cmp.Compare(len(a.RowIDs), len(b.(RelationValue).RowIDs))
	case FilesValue:
		return cmp.Compare(len(a.Files), len(b.(FilesValue).Files))
	case PersonValue:
		return cmp.Compare(len(a.DIDs), len(b.(PersonValue).DIDs))
	default:
		panic(fmt.Sprintf("database: unhandled value %T", a))
	}
}

func compareText(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
