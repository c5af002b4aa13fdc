package utils

import (
	"fmt"

	"github.com/spf13/viper"
)

// Auth provides authorization checks for management commands.
type Auth struct {
	admins []string
}

// NewAuth creates a new Auth instance from the loaded configuration.
// bot.admins lists user IDs allowed to manage any backup.
func NewAuth() (*Auth, error) {
	var admins []string
	if err := viper.UnmarshalKey("bot.admins", &admins); err != nil {
		return nil, fmt.Errorf("failed to load admin list: %w", err)
	}
	return &Auth{admins: admins}, nil
}

// IsAdmin checks if a user may act on backups they do not own.
func (a *Auth) IsAdmin(userID string) bool {
	for _, id := range a.admins {
		if userID == id {
			return true
		}
	}
	return false
}

// FormatBytes renders a byte count for embeds.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTP"[exp])
}
