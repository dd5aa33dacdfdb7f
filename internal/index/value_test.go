package index

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_OrdersNullFirst(t *testing.T) {
	values := []Value{
		StringValue("a"),
		NumberValue(-5),
		NullValue(),
		DurationValue(time.Second),
		BoolValue(true),
	}
	for _, v := range values[1:] {
		if v.IsNull() {
			continue
		}
		assert.Negative(t, Compare(NullValue(), v), v.String())
		assert.Positive(t, Compare(v, NullValue()), v.String())
	}
	assert.Zero(t, Compare(NullValue(), NullValue()))
}

func TestCompare_SameKind(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"numbers", NumberValue(1), NumberValue(2), -1},
		{"negative duration", DurationValue(-time.Hour), DurationValue(time.Second), -1},
		{"days vs hours", DurationValue(25 * time.Hour), DurationValue(23 * time.Hour), 1},
		{"strings ordinal", StringValue("B"), StringValue("a"), -1},
		{"times", TimeValue(now), TimeValue(now.Add(time.Millisecond)), -1},
		{"bools", BoolValue(false), BoolValue(true), -1},
		{"equal", StringValue("x"), StringValue("x"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.want, Compare(tt.b, tt.a))
		})
	}
}

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := "hello"
	var nilString *string

	tests := []struct {
		name string
		raw  any
		kind FieldKind
		want Value
	}{
		{"nil is null", nil, FieldNumber, NullValue()},
		{"nil pointer is null", nilString, FieldString, NullValue()},
		{"pointer is dereferenced", &s, FieldString, StringValue("hello")},
		{"int", 42, FieldNumber, NumberValue(42)},
		{"uint8", uint8(7), FieldNumber, NumberValue(7)},
		{"numeric string", "12.5", FieldNumber, NumberValue(12.5)},
		{"json number", json.Number("3"), FieldNumber, NumberValue(3)},
		{"duration", 90 * time.Second, FieldDuration, DurationValue(90 * time.Second)},
		{"time span string", "1.00:00:00", FieldDuration, DurationValue(24 * time.Hour)},
		{"nanoseconds", float64(time.Millisecond), FieldDuration, DurationValue(time.Millisecond)},
		{"rfc3339", ts.Format(time.RFC3339Nano), FieldTime, TimeValue(ts)},
		{"time", ts, FieldTime, TimeValue(ts)},
		{"bool string", "true", FieldBool, BoolValue(true)},
		{"number to string", 5, FieldString, StringValue("5")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.raw, Field{Name: "f", Kind: tt.kind}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Kind(), got.Kind())
			assert.Zero(t, Compare(tt.want, got), "got %s", got)
		})
	}
}

func TestCoerce_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		kind FieldKind
	}{
		{"NaN", math.NaN(), FieldNumber},
		{"text as number", "abc", FieldNumber},
		{"text as duration", "later", FieldDuration},
		{"int as time", 3, FieldTime},
		{"struct as string", struct{}{}, FieldString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coerce(tt.raw, Field{Name: "f", Kind: tt.kind}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), `field "f"`)
		})
	}
}

func TestCoerce_AnalyzedStringCarriesTokens(t *testing.T) {
	an, err := NewAnalyzer()
	require.NoError(t, err)

	v, err := Coerce("Quick Brown fox", Field{Name: "Body", Analysis: Analyzed}, an)
	require.NoError(t, err)
	assert.Equal(t, "Quick Brown fox", v.Str())
	assert.Equal(t, []string{"quick", "brown", "fox"}, v.Tokens())

	plain, err := Coerce("Quick Brown fox", Field{Name: "Title"}, an)
	require.NoError(t, err)
	assert.Nil(t, plain.Tokens())
}

func TestValue_MarshalJSON(t *testing.T) {
	out, err := json.Marshal([]Value{NullValue(), DurationValue(-time.Second), NumberValue(1.5), StringValue("x")})
	require.NoError(t, err)
	assert.JSONEq(t, `[null, "-00:00:01", 1.5, "x"]`, string(out))
}
