package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrPackageNotFound = errors.New("package not found")

type Package struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Active      bool            `json:"active"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DefaultPackages is the catalogue seeded on first start.
func DefaultPackages() []Package {
	return []Package{
		{ID: 1, Name: "110 💎", Description: "110 Diamantes Free Fire", Price: decimal.RequireFromString("0.66"), Active: true},
		{ID: 2, Name: "341 💎", Description: "341 Diamantes Free Fire", Price: decimal.RequireFromString("2.25"), Active: true},
		{ID: 3, Name: "572 💎", Description: "572 Diamantes Free Fire", Price: decimal.RequireFromString("3.66"), Active: true},
		{ID: 4, Name: "1.166 💎", Description: "1.166 Diamantes Free Fire", Price: decimal.RequireFromString("7.10"), Active: true},
		{ID: 5, Name: "2.376 💎", Description: "2.376 Diamantes Free Fire", Price: decimal.RequireFromString("14.44"), Active: true},
		{ID: 6, Name: "6.138 💎", Description: "6.138 Diamantes Free Fire", Price: decimal.RequireFromString("33.10"), Active: true},
		{ID: 7, Name: "Tarjeta básica", Description: "Tarjeta básica Free Fire", Price: decimal.RequireFromString("0.50"), Active: true},
		{ID: 8, Name: "Tarjeta semanal", Description: "Tarjeta semanal Free Fire", Price: decimal.RequireFromString("1.55"), Active: true},
		{ID: 9, Name: "Tarjeta mensual", Description: "Tarjeta mensual Free Fire", Price: decimal.RequireFromString("7.10"), Active: true},
	}
}
