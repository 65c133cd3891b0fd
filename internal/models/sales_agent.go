package models

import (
	"time"

	"github.com/google/uuid"
)

// SalesAgent represents a field sales/collector with an assigned area
type SalesAgent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AgentCode string    `json:"agent_code"`
	Phone     string    `json:"phone,omitempty"`
	Area      string    `json:"area,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
