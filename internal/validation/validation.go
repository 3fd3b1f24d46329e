// Package validation provides input validation for pngprotect.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/mod/semver"
)

// MinServiceVersion is the oldest processing service API this client speaks
const MinServiceVersion = "1.0.0"

// DefaultStrength is used when no strength is given (user 1-100 scale)
const DefaultStrength = 50

// maxOwnerIDLen bounds owner identifiers sent to the service
const maxOwnerIDLen = 128

// ValidateOwnerID validates an owner identifier
func ValidateOwnerID(owner string) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return errors.New("owner identifier cannot be empty")
	}
	if len(owner) > maxOwnerIDLen {
		return fmt.Errorf("owner identifier too long (max %d chars)", maxOwnerIDLen)
	}
	for _, r := range owner {
		if unicode.IsControl(r) {
			return errors.New("owner identifier contains control characters")
		}
	}
	return nil
}

// ParseStrength parses a 1-100 strength. Empty input yields DefaultStrength.
func ParseStrength(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultStrength, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid strength %q: must be a whole number", s)
	}
	return n, ValidateStrength(n)
}

// ValidateStrength checks a strength on the 1-100 user scale
func ValidateStrength(n int) error {
	if n < 1 || n > 100 {
		return fmt.Errorf("strength %d out of range (1-100)", n)
	}
	return nil
}

// ValidateImage checks that data looks like an image the service accepts
func ValidateImage(data []byte) error {
	if len(data) == 0 {
		return errors.New("image is empty")
	}
	switch ct := http.DetectContentType(data); ct {
	case "image/png", "image/jpeg", "image/webp":
		return nil
	default:
		return fmt.Errorf("unsupported file type %s: expected PNG, JPEG or WebP", ct)
	}
}

// ValidateToken validates a watermark token used for ledger lookups
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("watermark token cannot be empty")
	}
	if token == "Unknown" {
		return errors.New("no watermark token: the service could not extract one")
	}
	return nil
}

// NormalizeVersion normalizes a version string (strips leading 'v')
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	n1 := "v" + NormalizeVersion(v1)
	n2 := "v" + NormalizeVersion(v2)
	return semver.Compare(n1, n2)
}

// CheckServiceVersion reports whether the service API version is supported
func CheckServiceVersion(version string) error {
	v := "v" + NormalizeVersion(version)
	if !semver.IsValid(v) {
		return fmt.Errorf("service reports invalid version %q", version)
	}
	if semver.Compare(v, "v"+MinServiceVersion) < 0 {
		return fmt.Errorf("service version %s is older than the minimum supported %s", NormalizeVersion(version), MinServiceVersion)
	}
	if semver.Major(v) != semver.Major("v"+MinServiceVersion) {
		return fmt.Errorf("service major version %s is not supported", semver.Major(v))
	}
	return nil
}
