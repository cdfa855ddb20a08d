package store

import (
	"context"
	"fmt"
	"strconv"
)

// PrefAlwaysNavigate is the preference key of the auto-navigation setting.
const PrefAlwaysNavigate = "always_navigate"

// Preferences reads and writes per-user settings.
type Preferences struct {
	repo Repository
}

// NewPreferences creates a preference accessor.
func NewPreferences(repo Repository) *Preferences {
	return &Preferences{repo: repo}
}

// AlwaysNavigate reports whether the user opted into automatic navigation.
// Unset or unreadable values default to false.
func (p *Preferences) AlwaysNavigate(ctx context.Context, userID string) (bool, error) {
	raw, ok, err := p.repo.GetPreference(ctx, userID, PrefAlwaysNavigate)
	if err != nil {
		return false, fmt.Errorf("read always-navigate: %w", err)
	}
	if !ok {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return v, nil
}

// SetAlwaysNavigate stores the auto-navigation setting.
func (p *Preferences) SetAlwaysNavigate(ctx context.Context, userID string, enabled bool) error {
	if err := p.repo.SetPreference(ctx, userID, PrefAlwaysNavigate, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("write always-navigate: %w", err)
	}
	return nil
}
