package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewID returns a random 128-bit run identifier encoded as lowercase hex,
// or a nanosecond timestamp if the random source is unavailable.
func NewID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("%d", time.Now().UTC().UnixNano())
}

type runIDKey struct{}

// WithRunID attaches the controller's run ID to ctx so the backend can
// record the run under the same ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run ID carried by ctx, if any.
func RunIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}
