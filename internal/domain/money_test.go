package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{name: "whole amount", input: "600", expected: "600.00"},
		{name: "fractional amount", input: "199.5", expected: "199.50"},
		{name: "negative amount", input: "-400", expected: "-400.00"},
		{name: "trailing zeros beyond cents", input: "10.500", expected: "10.50"},
		{name: "largest amount", input: "999999999999.99", expected: "999999999999.99"},
		{name: "sub-cent amount", input: "0.004", expectError: true},
		{name: "sub-cent fraction", input: "10.005", expectError: true},
		{name: "one trillion", input: "1000000000000", expectError: true},
		{name: "beyond decimal128 precision", input: "1234567890123456789012345678901234567890.12", expectError: true},
		{name: "garbage", input: "abc", expectError: true},
		{name: "empty", input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMoney(tt.input)
			if tt.expectError {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m.String())
		})
	}
}

func TestMoney_CheckAmount(t *testing.T) {
	assert.NoError(t, MoneyFromInt(-500).CheckAmount())
	assert.NoError(t, Zero.CheckAmount())
	assert.ErrorIs(t, NewMoney(decimal.RequireFromString("-0.001")).CheckAmount(), ErrInvalidAmount)
	assert.ErrorIs(t, NewMoney(decimal.New(-1, 12)).CheckAmount(), ErrInvalidAmount)
}

func TestMoney_Arithmetic(t *testing.T) {
	a := MustParseMoney("0.10")
	b := MustParseMoney("0.20")

	assert.True(t, a.Add(b).Equal(MustParseMoney("0.30")))
	assert.True(t, b.Sub(a).Equal(a))
	assert.True(t, a.Sub(b).IsNegative())
	assert.True(t, a.MulInt(3).Equal(MustParseMoney("0.3")))
	assert.Equal(t, 1, b.Cmp(a))
	assert.True(t, a.Neg().Abs().Equal(a))
}

func TestMoney_JSON(t *testing.T) {
	data, err := json.Marshal(MustParseMoney("12.5"))
	require.NoError(t, err)
	assert.Equal(t, `"12.50"`, string(data))

	var fromString, fromNumber Money
	require.NoError(t, json.Unmarshal([]byte(`"99.99"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`42`), &fromNumber))
	assert.Equal(t, "99.99", fromString.String())
	assert.Equal(t, "42.00", fromNumber.String())
}

func TestMoney_BSONRoundTrip(t *testing.T) {
	type doc struct {
		Amount Money `bson:"amount"`
	}

	data, err := bson.Marshal(doc{Amount: MustParseMoney("1234.56")})
	require.NoError(t, err)

	raw := bson.Raw(data)
	assert.Equal(t, "1234.56", raw.Lookup("amount").Decimal128().String())

	var out doc
	require.NoError(t, bson.Unmarshal(data, &out))
	assert.True(t, out.Amount.Equal(MustParseMoney("1234.56")))
}

func TestMoney_BSONLegacyEncodings(t *testing.T) {
	type doc struct {
		Amount Money `bson:"amount"`
	}

	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{name: "double", value: 12.5, expected: "12.50"},
		{name: "int32", value: int32(7), expected: "7.00"},
		{name: "int64", value: int64(1000), expected: "1000.00"},
		{name: "string", value: "3.25", expected: "3.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := bson.Marshal(bson.M{"amount": tt.value})
			require.NoError(t, err)

			var out doc
			require.NoError(t, bson.Unmarshal(data, &out))
			assert.Equal(t, tt.expected, out.Amount.String())
		})
	}
}
