package data

import "time"

// Appointment is one scheduled visit as served to live clients.
type Appointment struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	ClientID    string    `json:"clientId"`
	ClientName  string    `json:"clientName"`
	PetID       string    `json:"petId"`
	PetName     string    `json:"petName"`
	ServiceType string    `json:"serviceType"`
	Status      string    `json:"status"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Notes       string    `json:"notes,omitempty"`
}

// Snapshot is the full set of a tenant's appointments for one calendar day.
// Snapshots are shared between readers and must not be modified.
type Snapshot struct {
	TenantID     string        `json:"tenantId"`
	Date         string        `json:"date"`
	Appointments []Appointment `json:"appointments"`
}
