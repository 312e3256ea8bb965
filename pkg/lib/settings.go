package lib

import (
	"context"
)

// GetSettings returns the settings of the signed in user.
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	if err := c.requireIdentity(); err != nil {
		return Settings{}, err
	}

	s, err := c.settings.Get(ctx)
	if err != nil {
		return Settings{}, mapError(err)
	}
	return fromInternalSettings(s), nil
}

// UpdateSettings applies a partial update to the settings of the signed in user.
//
// Returns [ErrNotValid] if any of the set values is unknown.
func (c *Client) UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	if err := c.requireIdentity(); err != nil {
		return Settings{}, err
	}

	s, err := c.settings.Update(ctx, toInternalSettingsPatch(patch))
	if err != nil {
		return Settings{}, mapError(err)
	}
	return fromInternalSettings(s), nil
}
