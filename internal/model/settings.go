package model

import "fmt"

// Theme is the UI theme preference.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Valid returns true if the theme is known.
func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark || t == ThemeSystem
}

// Mode is the default agent interaction mode.
type Mode string

const (
	ModeAssistant  Mode = "assistant"
	ModeExpert     Mode = "expert"
	ModeAutonomous Mode = "autonomous"
)

// Valid returns true if the mode is known.
func (m Mode) Valid() bool {
	return m == ModeAssistant || m == ModeExpert || m == ModeAutonomous
}

// UserSettings are the per user preferences.
type UserSettings struct {
	ID                   string        `yaml:"id"`
	UserID               string        `yaml:"userId"`
	Theme                Theme         `yaml:"theme"`
	SecurityLevel        SecurityLevel `yaml:"securityLevel"`
	NotificationsEnabled bool          `yaml:"notificationsEnabled"`
	DefaultMode          Mode          `yaml:"defaultMode"`
}

// DefaultUserSettings returns the settings a new user starts with.
func DefaultUserSettings(userID string) UserSettings {
	return UserSettings{
		UserID:               userID,
		Theme:                ThemeSystem,
		SecurityLevel:        SecurityLevelClass1,
		NotificationsEnabled: true,
		DefaultMode:          ModeAssistant,
	}
}

// SettingsPatch is a partial update of user settings, nil fields are left untouched.
type SettingsPatch struct {
	Theme                *Theme         `json:"theme,omitempty"`
	SecurityLevel        *SecurityLevel `json:"securityLevel,omitempty"`
	NotificationsEnabled *bool          `json:"notificationsEnabled,omitempty"`
	DefaultMode          *Mode          `json:"defaultMode,omitempty"`
}

// Validate validates only the fields that are set.
func (p SettingsPatch) Validate() error {
	if p.Theme != nil && !p.Theme.Valid() {
		return fmt.Errorf("unknown theme %q: %w", *p.Theme, ErrNotValid)
	}
	if p.SecurityLevel != nil && !p.SecurityLevel.Valid() {
		return fmt.Errorf("unknown security level %q: %w", *p.SecurityLevel, ErrNotValid)
	}
	if p.DefaultMode != nil && !p.DefaultMode.Valid() {
		return fmt.Errorf("unknown default mode %q: %w", *p.DefaultMode, ErrNotValid)
	}
	return nil
}

// Empty returns true if the patch doesn't change anything.
func (p SettingsPatch) Empty() bool {
	return p.Theme == nil && p.SecurityLevel == nil && p.NotificationsEnabled == nil && p.DefaultMode == nil
}

// Apply returns a copy of the settings with the patch applied.
func (p SettingsPatch) Apply(s UserSettings) UserSettings {
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.SecurityLevel != nil {
		s.SecurityLevel = *p.SecurityLevel
	}
	if p.NotificationsEnabled != nil {
		s.NotificationsEnabled = *p.NotificationsEnabled
	}
	if p.DefaultMode != nil {
		s.DefaultMode = *p.DefaultMode
	}
	return s
}

// AppSettings are the application wide settings managed by administrators.
type AppSettings struct {
	APIKeys       APIKeys               `yaml:"apiKeys" json:"apiKeys"`
	Security      SecuritySettings      `yaml:"security" json:"security"`
	Notifications NotificationsSettings `yaml:"notifications" json:"notifications"`
}

// APIKeys are the provider keys used by the agents.
type APIKeys struct {
	OpenAI    string `yaml:"openai" json:"openai"`
	Anthropic string `yaml:"anthropic" json:"anthropic"`
	GoogleAI  string `yaml:"googleAi" json:"googleAi"`
}

// SecuritySettings are the application security options.
type SecuritySettings struct {
	EnforceStrongPasswords bool `yaml:"enforceStrongPasswords" json:"enforceStrongPasswords"`
	TwoFactorAuth          bool `yaml:"twoFactorAuth" json:"twoFactorAuth"`
	// SessionTimeoutMinutes must be in the [5, 60] range.
	SessionTimeoutMinutes int `yaml:"sessionTimeout" json:"sessionTimeout"`
}

// NotificationsSettings are the application notification options.
type NotificationsSettings struct {
	EmailAlerts                 bool `yaml:"emailAlerts" json:"emailAlerts"`
	TaskCompletionNotifications bool `yaml:"taskCompletionNotifications" json:"taskCompletionNotifications"`
	ErrorNotifications          bool `yaml:"errorNotifications" json:"errorNotifications"`
}

// DefaultAppSettings returns the initial application settings.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Security: SecuritySettings{
			EnforceStrongPasswords: true,
			SessionTimeoutMinutes:  30,
		},
		Notifications: NotificationsSettings{
			EmailAlerts:                 true,
			TaskCompletionNotifications: true,
			ErrorNotifications:          true,
		},
	}
}

// Validate validates the application settings.
func (a AppSettings) Validate() error {
	if a.APIKeys.OpenAI == "" {
		return fmt.Errorf("OpenAI API key is required: %w", ErrNotValid)
	}
	if a.Security.SessionTimeoutMinutes < 5 || a.Security.SessionTimeoutMinutes > 60 {
		return fmt.Errorf("session timeout must be between 5 and 60 minutes: %w", ErrNotValid)
	}
	return nil
}
