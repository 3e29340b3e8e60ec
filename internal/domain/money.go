package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Money is a fixed-point monetary amount. Balances may be negative
// (overpayment credit), amounts on transaction records never are.
// Stored in MongoDB as Decimal128 and rendered in JSON as a two-decimal string.
type Money struct {
	d decimal.Decimal
}

// MoneyScale is the number of decimal places an amount may carry
const MoneyScale = 2

// Zero is the zero amount
var Zero = Money{}

// amounts at or above one trillion are rejected; balances stay well inside Decimal128
var maxAmount = decimal.New(1, 12)

// NewMoney wraps a decimal value
func NewMoney(d decimal.Decimal) Money {
	return Money{d: d}
}

// MoneyFromInt creates a whole-unit amount
func MoneyFromInt(v int64) Money {
	return Money{d: decimal.NewFromInt(v)}
}

// ParseMoney parses a decimal string such as "600" or "199.50". Amounts
// with sub-cent precision or beyond the supported magnitude are rejected.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	m := Money{d: d}
	if err := m.CheckAmount(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// MustParseMoney is ParseMoney for constants and tests
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the underlying decimal
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money        { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money        { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money               { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money               { return Money{d: m.d.Abs()} }
func (m Money) MulInt(n int64) Money     { return Money{d: m.d.Mul(decimal.NewFromInt(n))} }
func (m Money) Cmp(o Money) int          { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }

// CheckAmount fails with ErrInvalidAmount when m has more than two decimal
// places or its magnitude reaches one trillion. Trailing zeros are fine.
func (m Money) CheckAmount() error {
	if !m.d.Equal(m.d.Truncate(MoneyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, m.d.String(), MoneyScale)
	}
	if m.d.Abs().GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: %s exceeds the maximum amount", ErrInvalidAmount, m.d.String())
	}
	return nil
}

// String renders the amount with two decimal places
func (m Money) String() string {
	return m.d.StringFixed(2)
}

// MarshalJSON renders the amount as a quoted two-decimal string
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		m.d = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", string(data), err)
	}
	m.d = d
	return nil
}

// MarshalBSONValue stores the amount as Decimal128
func (m Money) MarshalBSONValue() (bsontype.Type, []byte, error) {
	d128, err := primitive.ParseDecimal128(m.d.String())
	if err != nil {
		return 0, nil, fmt.Errorf("encode money %s: %w", m.d.String(), err)
	}
	return bson.MarshalValue(d128)
}

// UnmarshalBSONValue reads Decimal128, numeric or string encodings
func (m *Money) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}

	switch t {
	case bsontype.Decimal128:
		d, err := decimal.NewFromString(raw.Decimal128().String())
		if err != nil {
			return err
		}
		m.d = d
	case bsontype.Double:
		m.d = decimal.NewFromFloat(raw.Double())
	case bsontype.Int32:
		m.d = decimal.NewFromInt32(raw.Int32())
	case bsontype.Int64:
		m.d = decimal.NewFromInt(raw.Int64())
	case bsontype.String:
		d, err := decimal.NewFromString(raw.StringValue())
		if err != nil {
			return err
		}
		m.d = d
	case bsontype.Null, bsontype.Undefined:
		m.d = decimal.Zero
	default:
		return fmt.Errorf("cannot decode %s into Money", t)
	}
	return nil
}
