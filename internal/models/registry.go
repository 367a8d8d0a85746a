package models

import "time"

// MemberInfo is what a node publishes about itself in the membership registry
type MemberInfo struct {
	Address   string    `json:"address"` // host:port of the peer HTTP API
	Version   string    `json:"version"`
	Status    string    `json:"status"` // up, leaving
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is one entry of the membership view
type Member struct {
	Address string `json:"address"`
	Healthy bool   `json:"healthy"`
}
