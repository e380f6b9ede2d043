package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/medphys/bulkcbct/internal/domain/studies"
)

// Input validation and sanitization utilities

// ValidatePhantom checks that the phantom model is in the supported list
func ValidatePhantom(phantom string) error {
	if _, err := studies.ParsePhantom(phantom); err != nil {
		names := make([]string, 0, len(studies.Phantoms()))
		for _, p := range studies.Phantoms() {
			names = append(names, string(p))
		}
		return fmt.Errorf("invalid phantom: %s (allowed: %s)", phantom, strings.Join(names, ", "))
	}
	return nil
}

// ValidateRoot validates a scan root path supplied over the API
func ValidateRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return fmt.Errorf("root cannot be empty")
	}

	// Block shell metacharacters; the path eventually reaches an exec'd
	// analyzer command line.
	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r"}
	for _, d := range dangerous {
		if strings.Contains(root, d) {
			return fmt.Errorf("invalid characters in root path")
		}
	}

	return nil
}

// ValidateExtensions checks the extension list: leading dot optional,
// letters and digits only
func ValidateExtensions(exts []string) error {
	pattern := regexp.MustCompile(`^\.?[a-zA-Z0-9]{1,16}$`)
	for _, e := range exts {
		if !pattern.MatchString(strings.TrimSpace(e)) {
			return fmt.Errorf("invalid extension: %q", e)
		}
	}
	return nil
}

// ValidateBatchID validates batch ID format: uuid-phantom
func ValidateBatchID(batchID string) error {
	if batchID == "" {
		return fmt.Errorf("batch ID cannot be empty")
	}

	pattern := `^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}-.+$`
	matched, _ := regexp.MatchString(pattern, batchID)
	if !matched {
		return fmt.Errorf("invalid batch ID format")
	}

	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidateDays validates days parameter
func ValidateDays(days int) int {
	if days <= 0 {
		return 7 // default
	}
	if days > 365 {
		return 365 // max 1 year
	}
	return days
}
