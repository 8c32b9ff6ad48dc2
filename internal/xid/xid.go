package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a random UUID string, used for every row id.
func New() string {
	return uuid.NewString()
}

// OrderNumber builds a human-facing order number such as
// ORD20260312093015-4f1c2a. The random suffix keeps numbers unique within
// the same second; a collision is still rejected by the store.
func OrderNumber(prefix string, at time.Time) string {
	buf := make([]byte, 3)
	suffix := ""
	if _, err := rand.Read(buf); err != nil {
		suffix = fmt.Sprintf("%06d", at.Nanosecond()%1000000)
	} else {
		suffix = hex.EncodeToString(buf)
	}
	return fmt.Sprintf("%s%s-%s", strings.ToUpper(prefix), at.UTC().Format("20060102150405"), suffix)
}
