// Package domain contains core domain types for tripdesk.
package domain

import (
	"time"
)

// Theme is the UI color scheme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// ParseTheme validates a theme name. Empty means system.
func ParseTheme(s string) (Theme, bool) {
	switch Theme(s) {
	case "", ThemeSystem:
		return ThemeSystem, true
	case ThemeLight, ThemeDark:
		return Theme(s), true
	default:
		return "", false
	}
}

// Customer is an anonymous browser identity and its preferences.
// Its id is the customer_id sent with every turn.
type Customer struct {
	CustomerID  string    `json:"customer_id"`
	DisplayName string    `json:"display_name"`
	Language    string    `json:"language"`
	Theme       Theme     `json:"theme"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Preferences is the user-editable subset of Customer.
type Preferences struct {
	DisplayName *string `json:"display_name,omitempty"`
	Language    *string `json:"language,omitempty"`
	Theme       *Theme  `json:"theme,omitempty"`
}

// Apply copies the set fields onto c.
func (p Preferences) Apply(c *Customer) {
	if p.DisplayName != nil {
		c.DisplayName = *p.DisplayName
	}
	if p.Language != nil {
		c.Language = *p.Language
	}
	if p.Theme != nil {
		c.Theme = *p.Theme
	}
}

// IdleFor returns how long the customer has been unseen.
func (c *Customer) IdleFor(now time.Time) time.Duration {
	if c.LastSeenAt.IsZero() {
		return 0
	}
	d := now.Sub(c.LastSeenAt)
	if d < 0 {
		return 0
	}
	return d
}
