package platforms

import (
	"regexp"
	"strings"
)

var hostnamePattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// NormalizeDomain lowercases a hostname and strips a leading "www." and trailing dot
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")
	return strings.TrimPrefix(d, "www.")
}

// ValidateDomain checks that domain is a bare hostname: no scheme, path, port or spaces
func ValidateDomain(domain string) error {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return &ValidationError{Field: "domain", Message: "must not be empty"}
	}
	if strings.Contains(d, "://") {
		return &ValidationError{Field: "domain", Message: "must not include a scheme"}
	}
	if strings.ContainsAny(d, "/?#") {
		return &ValidationError{Field: "domain", Message: "must not include a path"}
	}
	if len(d) > 253 || !hostnamePattern.MatchString(strings.TrimSuffix(d, ".")) {
		return &ValidationError{Field: "domain", Message: "not a valid hostname"}
	}
	return nil
}

// ValidateQuestion rejects empty questions
func ValidateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return &ValidationError{Field: "question", Message: "must not be empty"}
	}
	return nil
}

func validateRequest(domain, question string) error {
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	return ValidateQuestion(question)
}
