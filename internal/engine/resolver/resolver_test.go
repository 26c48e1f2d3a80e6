package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wildfire-lending/guardrail/internal/engine/value"
)

func testBag() Bag {
	return Bag{
		"application": value.Object(map[string]value.Value{
			"deal": value.Object(map[string]value.Value{
				"amount_financed": value.Float(125000.50),
			}),
			"status": value.String("open"),
		}),
		"test": value.Object(map[string]value.Value{
			"field_A": value.String("abc"),
			"date_A":  value.String("2023-01-01"),
			"date_B":  value.String("2023-01-05"),
		}),
	}
}

func TestDecodeDescriptor(t *testing.T) {
	paths, err := DecodeDescriptor(`["test.field_A"]`)
	require.NoError(t, err)
	require.Equal(t, []string{"test.field_A"}, paths)

	paths, err = DecodeDescriptor(`["test.date_A", "test.date_B"]`)
	require.NoError(t, err)
	require.Equal(t, []string{"test.date_A", "test.date_B"}, paths)

	_, err = DecodeDescriptor(`[]`)
	require.Error(t, err)

	_, err = DecodeDescriptor(`"test.field_A"`)
	require.Error(t, err)

	_, err = DecodeDescriptor(`[""]`)
	require.Error(t, err)
}

func TestResolveSingleWalksNestedFields(t *testing.T) {
	r := New(testBag())

	v, err := r.ResolveSingle([]string{"application.deal.amount_financed"})
	require.NoError(t, err)
	n, ok := v.Number()
	require.True(t, ok)
	require.Equal(t, 125000.50, n)

	_, err = r.ResolveSingle([]string{"a.b", "c.d"})
	require.Error(t, err, "single resolution requires exactly one path")
}

func TestResolveSingleErrors(t *testing.T) {
	r := New(testBag())

	_, err := r.ResolveSingle([]string{"missing_source.field"})
	require.ErrorIs(t, err, ErrUnknownSource)

	_, err = r.ResolveSingle([]string{"application.deal.nope"})
	require.ErrorIs(t, err, ErrMissingField)
	require.Contains(t, err.Error(), "nope", "error should name the failing segment")
}

func TestResolveManyPreservesOrder(t *testing.T) {
	r := New(testBag())

	resolved, err := r.ResolveMany([]string{"test.date_A", "test.date_B"})
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	require.Equal(t, "test.date_A", resolved[0].Path)
	require.Equal(t, "test.date_B", resolved[1].Path)

	// Reversed descriptor order must be preserved as-is.
	resolved, err = r.ResolveMany([]string{"test.date_B", "test.date_A"})
	require.NoError(t, err)
	require.Equal(t, "test.date_B", resolved[0].Path)

	_, err = r.ResolveMany([]string{"test.date_A"})
	require.Error(t, err, "many resolution requires at least two paths")

	_, err = r.ResolveMany([]string{"test.date_A", "test.missing"})
	require.ErrorIs(t, err, ErrMissingField)
}
