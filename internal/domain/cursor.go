package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Encode renders the cursor as an opaque URL-safe token
func (c *LedgerCursor) Encode() string {
	if c == nil {
		return ""
	}
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeLedgerCursor parses a token produced by Encode. An empty token means
// the first page.
func DecodeLedgerCursor(token string) (*LedgerCursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, NewFieldError("cursor", "malformed cursor")
	}
	var c LedgerCursor
	if err := json.Unmarshal(raw, &c); err != nil || c.TransactionID == "" {
		return nil, NewFieldError("cursor", fmt.Sprintf("malformed cursor %q", token))
	}
	return &c, nil
}
