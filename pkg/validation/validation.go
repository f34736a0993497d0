package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

var (
	// UserIDRegex validates user ID format
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)
)

// ValidateURLScheme checks that rawURL parses, names a host and uses one of schemes.
func ValidateURLScheme(rawURL string, schemes []string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("URL is required")
	}
	// The URL reaches the relay verbatim, so it must start with the scheme.
	if rawURL != strings.TrimSpace(rawURL) {
		return fmt.Errorf("URL must not have leading or trailing whitespace")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if !containsFold(schemes, u.Scheme) {
		return fmt.Errorf("invalid URL scheme %q (must be %s)", u.Scheme, DescribeSchemes(schemes))
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateStreamKey validates a stream key. Keys are appended to the
// destination verbatim, so destination and key must not both supply the "/".
func ValidateStreamKey(destination, key string) error {
	if key == "" {
		return fmt.Errorf("stream key is required")
	}
	if len(key) > 512 {
		return fmt.Errorf("stream key is too long (max 512 characters)")
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("stream key contains whitespace or control characters")
		}
	}
	if strings.HasSuffix(destination, "/") && strings.HasPrefix(key, "/") {
		return fmt.Errorf("destination ends with \"/\" and stream key starts with \"/\"; keep the separator on one side only")
	}
	return nil
}

// ValidateUserID validates user ID
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > 128 {
		return fmt.Errorf("user ID is too long (max 128 characters)")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

// DescribeSchemes renders schemes as "http:// or https://".
func DescribeSchemes(schemes []string) string {
	parts := make([]string, len(schemes))
	for i, s := range schemes {
		parts[i] = s + "://"
	}
	switch len(parts) {
	case 0:
		return "nothing"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1]
	}
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
