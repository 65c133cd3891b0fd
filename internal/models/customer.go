package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer represents a credit customer visited by a sales agent
type Customer struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Address         string     `json:"address,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	AssignedSalesID *uuid.UUID `json:"assigned_sales_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
