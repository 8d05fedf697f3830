package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxClientIDLength is the longest client order id the exchange accepts.
const MaxClientIDLength = 36

// clientIDPrefix marks ids generated by this engine so resting orders
// from other sources are never mistaken for ours during reconciliation.
const clientIDPrefix = "ENG"

// NewClientID generates a client order idempotency key. A retried
// submission reuses the same id, so the exchange recognizes it as the
// same logical order.
// Format: ENG-[DDMMM]-[8 uuid chars], e.g. "ENG-01SEP-a3f7c2e9".
func NewClientID() string {
	date := strings.ToUpper(time.Now().UTC().Format("02Jan"))
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%s-%s", clientIDPrefix, date, suffix)
}

// IsEngineClientID reports whether an id was generated by this engine.
func IsEngineClientID(id string) bool {
	return strings.HasPrefix(id, clientIDPrefix+"-") && len(id) <= MaxClientIDLength
}
