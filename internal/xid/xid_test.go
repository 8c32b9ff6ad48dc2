package xid

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsParsableUUID(t *testing.T) {
	id := New()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, New())
}

func TestOrderNumberFormat(t *testing.T) {
	at := time.Date(2026, 3, 12, 9, 30, 15, 0, time.FixedZone("WIB", 7*3600))
	no := OrderNumber("ord", at)

	assert.Regexp(t, regexp.MustCompile(`^ORD20260312023015-[0-9a-f]{6}$`), no)
}

func TestOrderNumbersDifferWithinSameSecond(t *testing.T) {
	at := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[OrderNumber("WEB", at)] = true
	}
	assert.Greater(t, len(seen), 45)
}
