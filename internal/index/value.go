package index

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ValueKind is the runtime kind of an index value.
type ValueKind uint8

// Kinds are ordered; values of different kinds compare by kind.
const (
	ValueNull ValueKind = iota
	ValueBool
	ValueNumber
	ValueDuration
	ValueTime
	ValueString
)

// Value is a typed field value of an index entry.
type Value struct {
	kind   ValueKind
	str    string
	num    float64
	dur    time.Duration
	tm     time.Time
	b      bool
	tokens []string
}

// NullValue returns the null value.
func NullValue() Value { return Value{} }

// StringValue returns a not-analyzed string value.
func StringValue(s string) Value { return Value{kind: ValueString, str: s} }

// NumberValue returns a numeric value.
func NumberValue(n float64) Value { return Value{kind: ValueNumber, num: n} }

// DurationValue returns a duration value.
func DurationValue(d time.Duration) Value { return Value{kind: ValueDuration, dur: d} }

// TimeValue returns a time value.
func TimeValue(t time.Time) Value { return Value{kind: ValueTime, tm: t} }

// BoolValue returns a boolean value.
func BoolValue(b bool) Value { return Value{kind: ValueBool, b: b} }

// Kind returns the value kind.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == ValueNull }

// Str returns the string of a string value.
func (v Value) Str() string { return v.str }

// Num returns the number of a numeric value.
func (v Value) Num() float64 { return v.num }

// Duration returns the duration of a duration value.
func (v Value) Duration() time.Duration { return v.dur }

// Time returns the time of a time value.
func (v Value) Time() time.Time { return v.tm }

// Bool returns the boolean of a bool value.
func (v Value) Bool() bool { return v.b }

// Tokens returns the analyzed tokens of a string value, if any.
func (v Value) Tokens() []string { return v.tokens }

// Interface returns v as a plain Go value; nil for null.
func (v Value) Interface() any {
	switch v.kind {
	case ValueBool:
		return v.b
	case ValueNumber:
		return v.num
	case ValueDuration:
		return v.dur
	case ValueTime:
		return v.tm
	case ValueString:
		return v.str
	default:
		return nil
	}
}

// String renders v for display. Durations use the time span form.
func (v Value) String() string {
	switch v.kind {
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case ValueDuration:
		return FormatTimeSpan(v.dur)
	case ValueTime:
		return v.tm.Format(time.RFC3339Nano)
	case ValueString:
		return v.str
	default:
		return "null"
	}
}

// MarshalJSON encodes durations as time span strings and null as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueNull:
		return []byte("null"), nil
	case ValueDuration:
		return json.Marshal(FormatTimeSpan(v.dur))
	default:
		return json.Marshal(v.Interface())
	}
}

// Compare orders two values. Null sorts before every non-null value,
// durations compare by elapsed time, strings compare ordinally.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch a.kind {
	case ValueBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case ValueNumber:
		return cmp.Compare(a.num, b.num)
	case ValueDuration:
		return cmp.Compare(a.dur, b.dur)
	case ValueTime:
		return a.tm.Compare(b.tm)
	case ValueString:
		return strings.Compare(a.str, b.str)
	default:
		return 0
	}
}

// Coerce converts a raw draft or query value to the declared kind of field.
// Analyzed string values carry their tokens when an analyzer is given.
func Coerce(raw any, field Field, an *Analyzer) (Value, error) {
	raw = deref(raw)
	if raw == nil {
		return NullValue(), nil
	}
	if v, ok := raw.(Value); ok {
		return coerceValue(v, field, an)
	}

	switch field.Kind {
	case FieldString:
		s, err := toString(raw)
		if err != nil {
			return Value{}, fieldError(field, raw, err)
		}
		v := StringValue(s)
		if field.Analysis == Analyzed && an != nil {
			v.tokens = an.Tokens(s)
		}
		return v, nil

	case FieldNumber:
		n, err := toNumber(raw)
		if err != nil {
			return Value{}, fieldError(field, raw, err)
		}
		return NumberValue(n), nil

	case FieldDuration:
		d, err := toDuration(raw)
		if err != nil {
			return Value{}, fieldError(field, raw, err)
		}
		return DurationValue(d), nil

	case FieldTime:
		switch t := raw.(type) {
		case time.Time:
			return TimeValue(t), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return Value{}, fieldError(field, raw, err)
			}
			return TimeValue(parsed), nil
		default:
			return Value{}, fieldError(field, raw, fmt.Errorf("unsupported type %T", raw))
		}

	case FieldBool:
		switch b := raw.(type) {
		case bool:
			return BoolValue(b), nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return Value{}, fieldError(field, raw, err)
			}
			return BoolValue(parsed), nil
		default:
			return Value{}, fieldError(field, raw, fmt.Errorf("unsupported type %T", raw))
		}
	}
	return Value{}, fieldError(field, raw, fmt.Errorf("unknown field kind %d", field.Kind))
}

func coerceValue(v Value, field Field, an *Analyzer) (Value, error) {
	if v.IsNull() {
		return v, nil
	}
	want := map[FieldKind]ValueKind{
		FieldString:   ValueString,
		FieldNumber:   ValueNumber,
		FieldDuration: ValueDuration,
		FieldTime:     ValueTime,
		FieldBool:     ValueBool,
	}[field.Kind]
	if v.kind != want {
		return Coerce(v.Interface(), field, an)
	}
	if v.kind == ValueString && field.Analysis == Analyzed && v.tokens == nil && an != nil {
		v.tokens = an.Tokens(v.str)
	}
	return v, nil
}

// deref unwraps non-nil pointers and maps nil pointers to nil.
func deref(raw any) any {
	if raw == nil {
		return nil
	}
	rv := reflect.ValueOf(raw)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func toString(raw any) (string, error) {
	switch s := raw.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(s), nil
	default:
		return "", fmt.Errorf("unsupported type %T", raw)
	}
}

func toNumber(raw any) (float64, error) {
	var n float64
	switch x := raw.(type) {
	case int:
		n = float64(x)
	case int8:
		n = float64(x)
	case int16:
		n = float64(x)
	case int32:
		n = float64(x)
	case int64:
		n = float64(x)
	case uint:
		n = float64(x)
	case uint8:
		n = float64(x)
	case uint16:
		n = float64(x)
	case uint32:
		n = float64(x)
	case uint64:
		n = float64(x)
	case float32:
		n = float64(x)
	case float64:
		n = x
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, err
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, err
		}
		n = f
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
	if math.IsNaN(n) {
		return 0, fmt.Errorf("NaN is not comparable")
	}
	return n, nil
}

// toDuration accepts time.Duration, duration strings and numbers of
// nanoseconds.
func toDuration(raw any) (time.Duration, error) {
	switch x := raw.(type) {
	case time.Duration:
		return x, nil
	case string:
		return ParseDuration(x)
	}
	n, err := toNumber(raw)
	if err != nil {
		return 0, err
	}
	if n >= math.MaxInt64 || n < math.MinInt64 {
		return 0, fmt.Errorf("duration %v out of range", n)
	}
	return time.Duration(n), nil
}

func fieldError(field Field, raw any, cause error) error {
	return fmt.Errorf("field %q: cannot use %v as %s: %w", field.Name, raw, field.Kind, cause)
}
