package service

import (
	"fmt"
	"strings"

	"stall-service/internal/models"

	"github.com/google/uuid"
)

// NewReservationToken returns a fresh booking token such as RES-3F9A0C12B7DE
func NewReservationToken() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "RES-" + strings.ToUpper(raw[:12])
}

// CancelledToken derives the token of the record forked off parent when stallID is cancelled
func CancelledToken(parent string, stallID int64) string {
	return fmt.Sprintf("%s%s%d", parent, models.CancelledTokenSuffix, stallID)
}
