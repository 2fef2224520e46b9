// Package policy scrubs credentials and contact data out of text the hub
// persists and shows on the dashboard.
package policy

import (
	"regexp"
)

var (
	emailPattern       = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	bearerPattern      = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/\-]+=*`)
	queryKeyPattern    = regexp.MustCompile(`(?i)\b(key|api_key|apikey|access_token|token)=([^&\s"']+)`)
	googleKeyPattern   = regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`)
	providerKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{20,}\b`)
)

// RedactMessage masks API keys, bearer tokens and email addresses.
func RedactMessage(value string) string {
	masked := bearerPattern.ReplaceAllString(value, "Bearer [token_redacted]")
	masked = queryKeyPattern.ReplaceAllString(masked, "$1=[redacted]")
	masked = googleKeyPattern.ReplaceAllString(masked, "[api_key_redacted]")
	masked = providerKeyPattern.ReplaceAllString(masked, "[api_key_redacted]")
	masked = emailPattern.ReplaceAllString(masked, "[email_redacted]")
	return masked
}
