package logger

import "regexp"

var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)([?&](api_key|apikey|token|access_token)=)([^&\s]+)`),
	regexp.MustCompile(`(?i)((password|passwd|secret)[\s:=]+)([^;,\s]{3,})`),
}

// RedactSensitiveData replaces credentials in URLs and messages with "[REDACTED]".
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "${1}[REDACTED]")
	}
	return input
}

// MaskSecret keeps the first and last four characters of long secrets.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}
