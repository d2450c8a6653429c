package security

import (
	"sort"
	"strings"
)

// Redactor masks sensitive applicant values (anything the profile marks as
// secret) before log lines reach a sink.
type Redactor struct {
	secrets []string
}

func NewRedactor(secrets []string) *Redactor {
	filtered := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			filtered = append(filtered, s)
		}
	}
	return &Redactor{secrets: filtered}
}

func (r *Redactor) Redact(s string) string {
	if r == nil || len(r.secrets) == 0 {
		return s
	}

	// Sort secrets by length in descending order so longer secrets are
	// replaced before their substrings.
	secrets := make([]string, len(r.secrets))
	copy(secrets, r.secrets)
	sort.Slice(secrets, func(i, j int) bool {
		return len(secrets[i]) > len(secrets[j])
	})

	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "********")
	}
	return s
}

// MaskToken shortens an auth token for logging. Tokens of eight characters
// or fewer are fully masked.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}
