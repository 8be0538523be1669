package domain

import "strings"

// UserProfile holds the user's name and their own backend API key.
type UserProfile struct {
	Name   string `json:"name"`
	APIKey string `json:"apiKey"`
}

// Masked hides all but the last four characters of the key.
func (p UserProfile) Masked() UserProfile {
	key := strings.TrimSpace(p.APIKey)
	if len(key) <= 4 {
		p.APIKey = strings.Repeat("*", len(key))
		return p
	}
	p.APIKey = strings.Repeat("*", len(key)-4) + key[len(key)-4:]
	return p
}
