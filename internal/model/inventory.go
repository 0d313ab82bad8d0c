package model

import "time"

// InventoryItem is the subset of a plugin or theme listing stored on a backup
type InventoryItem struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Version string `json:"version"`
	Update  string `json:"update,omitempty"`
}

// Plugin mirrors one installed plugin of an instance, keyed by (name, instance)
type Plugin struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instanceId"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Update     string    `json:"update"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Theme mirrors one installed theme of an instance, keyed by (name, instance)
type Theme struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instanceId"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Update     string    `json:"update"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SiteUser mirrors one WordPress user of an instance, keyed by (email, instance)
type SiteUser struct {
	ID          int64     `json:"id"`
	InstanceID  int64     `json:"instanceId"`
	Login       string    `json:"login"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Roles       string    `json:"roles"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
