package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "valid UUID", key: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "valid alphanumeric", key: "abc123-def456_ghi789"},
		{name: "empty key", key: "", wantErr: ErrKeyRequired},
		{name: "too long", key: strings.Repeat("a", 256), wantErr: ErrKeyTooLong},
		{name: "invalid characters - spaces", key: "abc 123", wantErr: ErrKeyInvalid},
		{name: "invalid characters - special chars", key: "abc@123", wantErr: ErrKeyInvalid},
		{name: "exactly 255 chars", key: strings.Repeat("a", 255)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, ValidateKey(tt.key))
		})
	}
}

func TestComputeFingerprint(t *testing.T) {
	a := ComputeFingerprint("store-1", "9876543210", "600")
	b := ComputeFingerprint("store-1", "9876543210", "600")
	c := ComputeFingerprint("store-1", "9876543210", "601")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	// separators keep part boundaries significant
	assert.NotEqual(t, ComputeFingerprint("ab", "c"), ComputeFingerprint("a", "bc"))
}
