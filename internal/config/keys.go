package config

import (
	"net/url"
	"os"
)

// SecretSource represents where a credential comes from.
type SecretSource string

const (
	SourceEnv    SecretSource = "env"
	SourceConfig SecretSource = "config"
	SourceNone   SecretSource = "none"
)

// SecretStatus represents the status of a credential.
type SecretStatus struct {
	Name   string       `json:"name"`
	Source SecretSource `json:"source"`
	IsSet  bool         `json:"is_set"`
	Masked string       `json:"masked,omitempty"` // e.g., "pos...ret"
}

// CheckSecrets returns the status of the credentials filingwatch reads. The
// database DSN only counts when it carries a password.
func CheckSecrets(cfg *Config) []SecretStatus {
	dsnSecret := ""
	if dsnHasPassword(cfg.Database.DSN) {
		dsnSecret = cfg.Database.DSN
	}
	return []SecretStatus{
		checkSecret("Database password", dsnSecret, "FILINGWATCH_DATABASE_DSN"),
		checkSecret("Status API token", cfg.API.Token, "FILINGWATCH_API_TOKEN"),
	}
}

// RedactDSN hides the password of a URL-style DSN for display.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

func dsnHasPassword(dsn string) bool {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return false
	}
	_, ok := u.User.Password()
	return ok
}

// checkSecret checks if a value is set and where it came from.
func checkSecret(name, value, envVar string) SecretStatus {
	status := SecretStatus{
		Name:  name,
		IsSet: value != "",
	}

	if value != "" {
		if os.Getenv(envVar) != "" {
			status.Source = SourceEnv
		} else {
			status.Source = SourceConfig
		}
		status.Masked = maskSecret(value)
	} else {
		status.Source = SourceNone
	}

	return status
}

// maskSecret masks a value for display, showing only first 3 and last 3 chars.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:3] + "..." + s[len(s)-3:]
}
