// Package ids generates identifiers for durable rows and for opaque,
// client-held secrets such as session ids and confirmation tokens.
package ids

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// opaqueBytes gives 256 bits of entropy per opaque identifier.
const opaqueBytes = 32

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier for durable rows.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a sortable identifier stamped with t.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Opaque returns an unguessable URL-safe identifier. It carries no ordering
// and must be treated as a bearer secret.
func Opaque() (string, error) {
	buf := make([]byte, opaqueBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ids: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
