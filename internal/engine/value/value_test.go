package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromJSONPreservesIntegers(t *testing.T) {
	v, err := FromJSON([]byte(`{"amount": 125000, "rate": 4.25, "active": true, "name": "acme", "tags": ["a", "b"], "missing": null}`))
	require.NoError(t, err)
	require.Equal(t, KindObject, v.Kind())

	amount, ok := v.Field("amount")
	require.True(t, ok)
	require.Equal(t, KindInt, amount.Kind())

	rate, ok := v.Field("rate")
	require.True(t, ok)
	require.Equal(t, KindFloat, rate.Kind())

	tags, ok := v.Field("tags")
	require.True(t, ok)
	require.Equal(t, 2, tags.Len())

	missing, ok := v.Field("missing")
	require.True(t, ok)
	require.True(t, missing.IsNull())
}

func TestNumberCoercion(t *testing.T) {
	cases := []struct {
		in   Value
		want float64
		ok   bool
	}{
		{Int(42), 42, true},
		{Float(4.5), 4.5, true},
		{String("150.25"), 150.25, true},
		{String(" 10 "), 10, true},
		{String("abc"), 0, false},
		{Bool(true), 0, false},
		{Null(), 0, false},
	}
	for _, tc := range cases {
		got, ok := tc.in.Number()
		require.Equal(t, tc.ok, ok, "input %v", tc.in.Interface())
		if ok {
			require.Equal(t, tc.want, got)
		}
	}
}

func TestTextRendersScalars(t *testing.T) {
	text, ok := Bool(false).Text()
	require.True(t, ok)
	require.Equal(t, "false", text)

	text, ok = Int(7).Text()
	require.True(t, ok)
	require.Equal(t, "7", text)

	text, ok = Float(2.5).Text()
	require.True(t, ok)
	require.Equal(t, "2.5", text)

	_, ok = Array(Int(1)).Text()
	require.False(t, ok)

	_, ok = Null().Text()
	require.False(t, ok)
}

func TestLooseEqual(t *testing.T) {
	require.True(t, Int(5).Equal(Float(5)))
	require.True(t, String("5").Equal(Int(5)))
	require.True(t, String("ok").Equal(String("ok")))
	require.False(t, String("5.1").Equal(Int(5)))
	require.False(t, Bool(true).Equal(String("yes")))
	require.True(t, Bool(true).Equal(String("true")))
	require.True(t, Null().Equal(Null()))
	require.False(t, Null().Equal(String("")))
}

func TestMarshalRoundTrip(t *testing.T) {
	v := Object(map[string]Value{
		"id":    Int(9),
		"items": Array(String("x"), Float(1.5)),
	})
	data, err := json.Marshal(v)
	require.NoError(t, err)

	back, err := FromJSON(data)
	require.NoError(t, err)
	id, ok := back.Field("id")
	require.True(t, ok)
	n, ok := id.Number()
	require.True(t, ok)
	require.Equal(t, float64(9), n)
}
