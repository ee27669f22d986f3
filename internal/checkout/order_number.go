package checkout

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orderNumberPrefix = "ORD"
	orderNumberLayout = "20060102150405"
)

// OrderNumberGenerator produces human readable order numbers. Uniqueness is
// finally enforced by the store; a clash makes checkout retry with a new one.
type OrderNumberGenerator interface {
	Next(now time.Time) string
}

// TimestampGenerator yields ORD + yyyyMMddHHmmss + "-" + 8 random hex digits,
// so orders placed in the same second still differ.
type TimestampGenerator struct {
	token func() string
}

func NewTimestampGenerator() *TimestampGenerator {
	return &TimestampGenerator{token: randomToken}
}

func (g *TimestampGenerator) Next(now time.Time) string {
	return orderNumberPrefix + now.UTC().Format(orderNumberLayout) + "-" + g.token()
}

func randomToken() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:4]))
}
