package wpcli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/polarfoxDev/wharf/internal/model"
)

// jsonPayload strips PHP notices wp-cli sometimes prints before the JSON document
func jsonPayload(out string) (string, error) {
	i := strings.IndexAny(out, "[{")
	if i < 0 {
		return "", fmt.Errorf("no JSON in wp-cli output: %q", truncate(out))
	}
	return out[i:], nil
}

func truncate(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// ParseInventory parses `wp plugin|theme list --format=json`
func ParseInventory(out string) ([]model.InventoryItem, error) {
	payload, err := jsonPayload(out)
	if err != nil {
		return nil, err
	}
	var items []model.InventoryItem
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	if items == nil {
		items = []model.InventoryItem{}
	}
	return items, nil
}

type wpUser struct {
	Login       string `json:"user_login"`
	Email       string `json:"user_email"`
	DisplayName string `json:"display_name"`
	Roles       string `json:"roles"`
}

// ParseUsers parses `wp user list --format=json`
func ParseUsers(out string) ([]model.SiteUser, error) {
	payload, err := jsonPayload(out)
	if err != nil {
		return nil, err
	}
	var raw []wpUser
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]model.SiteUser, 0, len(raw))
	for _, u := range raw {
		users = append(users, model.SiteUser{Login: u.Login, Email: u.Email, DisplayName: u.DisplayName, Roles: u.Roles})
	}
	return users, nil
}

// ParseVersion returns the last non-empty line of a version query
func ParseVersion(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
