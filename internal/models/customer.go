package models

import "time"

type Customer struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	UnitNumber   string    `json:"unit_number,omitempty"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	ZipCode      string    `json:"zip_code"`
	PropertyType string    `json:"property_type,omitempty"` // house, apartment
	Floors       *int      `json:"floors,omitempty"`        // house only
	FloorLevel   string    `json:"floor_level,omitempty"`   // apartment only: 1st, 2nd-or-higher
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c *Customer) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}
