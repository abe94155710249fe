package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// PropertyType is the declared type of a database property
type PropertyType string

const (
	TypeText        PropertyType = "text"
	TypeNumber      PropertyType = "number"
	TypeDate        PropertyType = "date"
	TypeCheckbox    PropertyType = "checkbox"
	TypeSelect      PropertyType = "select"
	TypeMultiSelect PropertyType = "multiSelect"
	TypeURL         PropertyType = "url"
	TypeRelation    PropertyType = "relation"
	TypeRollup      PropertyType = "rollup"
	TypeFormula     PropertyType = "formula"
	TypeTimestamp   PropertyType = "timestamp"
	TypeUser        PropertyType = "user"
	TypeFiles       PropertyType = "files"
	TypePerson      PropertyType = "person"
)

// AllPropertyTypes lists every property type
var AllPropertyTypes = []PropertyType{
	TypeText, TypeNumber, TypeDate, TypeCheckbox, TypeSelect, TypeMultiSelect, TypeURL,
	TypeRelation, TypeRollup, TypeFormula, TypeTimestamp, TypeUser, TypeFiles, TypePerson,
}

// Valid reports whether t is a known property type
func (t PropertyType) Valid() bool {
	for _, known := range AllPropertyTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Value is a typed property value. The set of implementations is closed.
type Value interface {
	Type() PropertyType
	sealed()
}

type TextValue struct{ Text string }
type NumberValue struct{ Number float64 }
type CheckboxValue struct{ Checked bool }
type SelectValue struct{ OptionID string }
type MultiSelectValue struct{ OptionIDs []string }
type URLValue struct{ URL string }
type RelationValue struct{ RowIDs []string }
type RollupValue struct{ Number float64 }
type FormulaValue struct{ Result string }
type TimestampValue struct{ Time time.Time }
type UserValue struct{ UserID string }
type PersonValue struct{ DIDs []string }

// DateValue is a date or a date range when End is set
type DateValue struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// FileRef is one attached file
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type FilesValue struct{ Files []FileRef }

func (TextValue) Type() PropertyType        { return TypeText }
func (NumberValue) Type() PropertyType      { return TypeNumber }
func (DateValue) Type() PropertyType        { return TypeDate }
func (CheckboxValue) Type() PropertyType    { return TypeCheckbox }
func (SelectValue) Type() PropertyType      { return TypeSelect }
func (MultiSelectValue) Type() PropertyType { return TypeMultiSelect }
func (URLValue) Type() PropertyType         { return TypeURL }
func (RelationValue) Type() PropertyType    { return TypeRelation }
func (RollupValue) Type() PropertyType      { return TypeRollup }
func (FormulaValue) Type() PropertyType     { return TypeFormula }
func (TimestampValue) Type() PropertyType   { return TypeTimestamp }
func (UserValue) Type() PropertyType        { return TypeUser }
func (FilesValue) Type() PropertyType       { return TypeFiles }
func (PersonValue) Type() PropertyType      { return TypePerson }

func (TextValue) sealed()        {}
func (NumberValue) sealed()      {}
func (DateValue) sealed()        {}
func (CheckboxValue) sealed()    {}
func (SelectValue) sealed()      {}
func (MultiSelectValue) sealed() {}
func (URLValue) sealed()         {}
func (RelationValue) sealed()    {}
func (RollupValue) sealed()      {}
func (FormulaValue) sealed()     {}
func (TimestampValue) sealed()   {}
func (UserValue) sealed()        {}
func (FilesValue) sealed()       {}
func (PersonValue) sealed()      {}

type wireValue struct {
	Type  PropertyType    `json:"type"`
	Value json.RawMessage `json:"value"`
}

// payload returns the wire payload of v
func payload(v Value) any {
	switch v := v.(type) {
	case TextValue:
		return v.Text
	case NumberValue:
		return v.Number
	case DateValue:
		return v
	case CheckboxValue:
		return v.Checked
	case SelectValue:
		return v.OptionID
	case MultiSelectValue:
		return nonNil(v.OptionIDs)
	case URLValue:
		return v.URL
	case RelationValue:
		return nonNil(v.RowIDs)
	case RollupValue:
		return v.Number
	case FormulaValue:
		return v.Result
	case TimestampValue:
		return v.Time
	case UserValue:
		return v.UserID
	case FilesValue:
		if v.Files == nil {
			return []FileRef{}
		}
		return v.Files
	case PersonValue:
		return nonNil(v.DIDs)
	default:
		panic(fmt.Sprintf("database: unhandled value %T", v))
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// MarshalValue encodes v as {"type": ..., "value": ...}
func MarshalValue(v Value) ([]byte, error) {
	raw, err := json.Marshal(payload(v))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s value: %w", v.Type(), err)
	}
	return json.Marshal(wireValue{Type: v.Type(), Value: raw})
}

// UnmarshalValue decodes the output of MarshalValue
func UnmarshalValue(data []byte) (Value, error) {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse value: %w", err)
	}
	return decodeValue(w)
}

func decodeValue(w wireValue) (Value, error) {
	var (
		v   Value
		err error
	)
	switch w.Type {
	case TypeText:
		var s string
		err = json.Unmarshal(w.Value, &s)
		v = TextValue{Text: s}
	case TypeNumber:
		var n float64
		err = json.Unmarshal(w.Value, &n)
		v = NumberValue{Number: n}
	case TypeDate:
		var d DateValue
		err = json.Unmarshal(w.Value, &d)
		v = d
	case TypeCheckbox:
		var b bool
		err = json.Unmarshal(w.Value, &b)
		v = CheckboxValue{Checked: b}
	case TypeSelect:
		var s string
		err = json.Unmarshal(w.Value, &s)
		v = SelectValue{OptionID: s}
	case TypeMultiSelect:
		var ids []string
		err = json.Unmarshal(w.Value, &ids)
		v = MultiSelectValue{OptionIDs: ids}
	case TypeURL:
		var s string
		err = json.Unmarshal(w.Value, &s)
		v = URLValue{URL: s}
	case TypeRelation:
		var ids []string
		err = json.Unmarshal(w.Value, &ids)
		v = RelationValue{RowIDs: ids}
	case TypeRollup:
		var n float64
		err = json.Unmarshal(w.Value, &n)
		v = RollupValue{Number: n}
	case TypeFormula:
		var s string
		err = json.Unmarshal(w.Value, &s)
		v = FormulaValue{Result: s}
	case TypeTimestamp:
		var t time.Time
		err = json.Unmarshal(w.Value, &t)
		v = TimestampValue{Time: t}
	case TypeUser:
		var s string
		err = json.Unmarshal(w.Value, &s)
		v = UserValue{UserID: s}
	case TypeFiles:
		var files []FileRef
		err = json.Unmarshal(w.Value, &files)
		v = FilesValue{Files: files}
	case TypePerson:
		var dids []string
		err = json.Unmarshal(w.Value, &dids)
		v = PersonValue{DIDs: dids}
	default:
		return nil, fmt.Errorf("unknown value type %q", w.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s value: %w", w.Type, err)
	}
	return v, nil
}

// Values maps property ids to values
type Values map[string]Value

func (vs Values) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(vs))
	for id, v := range vs {
		data, err := MarshalValue(v)
		if err != nil {
			return nil, err
		}
		out[id] = data
	}
	return json.Marshal(out)
}

func (vs *Values) UnmarshalJSON(data []byte) error {
	var raw map[string]wireValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Values, len(raw))
	for id, w := range raw {
		v, err := decodeValue(w)
		if err != nil {
			return fmt.Errorf("property %s: %w", id, err)
		}
		out[id] = v
	}
	*vs = out
	return nil
}

func (vs Values) clone() Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

// isEmpty reports whether v carries no data
func isEmpty(v Value) bool {
	switch v := v.(type) {
	case nil:
		return true
	case TextValue:
		return v.Text == ""
	case NumberValue, RollupValue, CheckboxValue:
		return false
	case DateValue:
		return v.Start.IsZero()
	case SelectValue:
		return v.OptionID == ""
	case MultiSelectValue:
		return len(v.OptionIDs) == 0
	case URLValue:
		return v.URL == ""
	case RelationValue:
		return len(v.RowIDs) == 0
	case FormulaValue:
		return v.Result == ""
	case TimestampValue:
		return v.Time.IsZero()
	case UserValue:
		return v.UserID == ""
	case FilesValue:
		return len(v.Files) == 0
	case PersonValue:
		return len(v.DIDs) == 0
	default:
		panic(fmt.Sprintf("database: unhandled value %T", v))
	}
}
