package domain

import (
	"strings"
	"time"
)

// Address is the postal location of a customer.
type Address struct {
	Country string `json:"country,omitempty" db:"address_country"`
	City    string `json:"city,omitempty" db:"address_city"`
}

// Customer is a member candidate for segments. The customer store is owned
// elsewhere; this service only reads it.
type Customer struct {
	ID          string         `json:"id" db:"id"`
	FirstName   string         `json:"firstName" db:"first_name"`
	LastName    string         `json:"lastName" db:"last_name"`
	Email       string         `json:"email" db:"email"`
	TotalSpent  float64        `json:"totalSpent" db:"total_spent"`
	TotalOrders int            `json:"totalOrders" db:"total_orders"`
	LastActive  *time.Time     `json:"lastActive,omitempty" db:"last_active"`
	Address     Address        `json:"address"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
}

// Attribute resolves a dotted attribute path. The second return value is
// false when the customer has no value for the path.
func (c *Customer) Attribute(path string) (any, bool) {
	switch path {
	case "id":
		return c.ID, c.ID != ""
	case "firstName":
		return c.FirstName, c.FirstName != ""
	case "lastName":
		return c.LastName, c.LastName != ""
	case "email":
		return c.Email, c.Email != ""
	case "totalSpent":
		return c.TotalSpent, true
	case "totalOrders":
		return float64(c.TotalOrders), true
	case "lastActive":
		if c.LastActive == nil {
			return nil, false
		}
		return *c.LastActive, true
	case "createdAt":
		return c.CreatedAt, !c.CreatedAt.IsZero()
	case "address.country":
		return c.Address.Country, c.Address.Country != ""
	case "address.city":
		return c.Address.City, c.Address.City != ""
	}
	if key, ok := strings.CutPrefix(path, "metadata."); ok {
		v, found := c.Metadata[key]
		if !found || v == nil {
			return nil, false
		}
		return v, true
	}
	return nil, false
}
