package domain

import "time"

// Organisation is a recipient organisation as edited in the console
type Organisation struct {
	ID          int64                  `json:"id"`
	Name        string                 `json:"name" validate:"required"`
	Website     string                 `json:"website"`
	PhoneNumber string                 `json:"phoneNumber"`
	Contact     string                 `json:"contact" validate:"required"`
	Email       string                 `json:"email" validate:"omitempty,email"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
	Attributes  OrganisationAttributes `json:"attributes"`
	Kits        []Kit                  `json:"kits,omitempty"`
}

// OrganisationAttributes holds the free-form part of an organisation
type OrganisationAttributes struct {
	Notes            string        `json:"notes"`
	Accepts          []string      `json:"accepts"`
	AlternateAccepts []string      `json:"alternateAccepts"`
	Request          DeviceRequest `json:"request"`
	AlternateRequest DeviceRequest `json:"alternateRequest"`
}

// DeviceRequest counts requested devices per kind
type DeviceRequest struct {
	Laptops   int `json:"laptops"`
	Tablets   int `json:"tablets"`
	Phones    int `json:"phones"`
	AllInOnes int `json:"allInOnes"`
}

// Kit is a donated device allocated to an organisation
type Kit struct {
	ID        int64     `json:"id"`
	Model     string    `json:"model"`
	Age       int       `json:"age"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EmailTemplate is a reusable outbound email
type EmailTemplate struct {
	ID        int64     `json:"id"`
	Active    bool      `json:"active"`
	Subject   string    `json:"subject" validate:"required"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
