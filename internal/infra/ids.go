package infra

import (
	"github.com/google/uuid"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// UUIDGenerator issues time-ordered UUIDv7 session ids.
type UUIDGenerator struct{}

// NewID returns a new UUIDv7 string. Falls back to v4 if the v7 source fails.
func (UUIDGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

var _ domain.IDGenerator = UUIDGenerator{}
