package core

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// emailPattern accepts local@domain.tld where no part contains whitespace or
// another '@'. RE2's \s is ASCII only, so Unicode spaces are rejected
// separately by hasSpace. Deliverability is judged by MX.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// hasSpace reports whether s contains any Unicode white space, including
// the zero-width no-break space U+FEFF.
func hasSpace(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\uFEFF'
	}) >= 0
}

// Validator classifies addresses in two fail-fast stages: syntax, then MX.
type Validator struct {
	resolver MXResolver
}

// NewValidator creates a Validator backed by resolver.
func NewValidator(resolver MXResolver) *Validator {
	return &Validator{resolver: resolver}
}

// ValidSyntax reports whether email passes the syntax stage.
func ValidSyntax(email string) bool {
	return !hasSpace(email) && emailPattern.MatchString(email)
}

// Validate classifies one address. It never returns an error: lookup
// failures become a "Domain verification failed" result.
func (v *Validator) Validate(ctx context.Context, email string) ValidationResult {
	if !ValidSyntax(email) {
		return ValidationResult{Email: email, Reason: ReasonInvalidFormat}
	}

	_, domain, _ := strings.Cut(email, "@")
	ok, err := v.resolver.HasMX(ctx, domain)
	if err != nil {
		return ValidationResult{Email: email, Reason: ReasonVerificationFailed}
	}
	if !ok {
		return ValidationResult{Email: email, Reason: ReasonInvalidDomain}
	}
	return ValidationResult{Email: email, IsValid: true}
}
