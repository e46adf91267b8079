package middleware

import (
	"fmt"
	"maps"
	"net/url"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Input validation and sanitization utilities

var (
	modelExtensions = map[string]bool{".ifc": true}
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}
	projectIDRe     = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	uuidRe          = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
)

// ValidateModelFile accepts IFC file names only.
func ValidateModelFile(name string) error {
	return validateExtension(name, modelExtensions)
}

// ValidateImageFile accepts the photo formats the provider understands.
func ValidateImageFile(name string) error {
	return validateExtension(name, imageExtensions)
}

func validateExtension(name string, allowed map[string]bool) error {
	ext := strings.ToLower(filepath.Ext(name))
	if !allowed[ext] {
		exts := slices.Sorted(maps.Keys(allowed))
		return fmt.Errorf("invalid file type %q (allowed: %s)", ext, strings.Join(exts, ", "))
	}
	return ValidatePath(name)
}

// ValidateSourceURI accepts http(s), s3 and file URIs, or a relative upload path.
func ValidateSourceURI(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("source URI cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid source URI: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "s3":
		if u.Host == "" {
			return fmt.Errorf("source URI %q has no host", raw)
		}
		return nil
	case "file":
		return ValidatePath(u.Path)
	case "":
		return ValidatePath(raw)
	default:
		return fmt.Errorf("invalid source URI scheme: %s (allowed: http, https, s3, file)", u.Scheme)
	}
}

// ValidatePath validates file paths (for security)
func ValidatePath(path string) error {
	if path == "" {
		return nil // Optional field
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal detected")
		}
	}

	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", "\x00"}
	for _, d := range dangerous {
		if strings.Contains(path, d) {
			return fmt.Errorf("invalid characters in path")
		}
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

// ValidateProjectID validates project ID format
func ValidateProjectID(id string) error {
	if id == "" {
		return fmt.Errorf("project ID cannot be empty")
	}
	if !projectIDRe.MatchString(id) {
		return fmt.Errorf("invalid project ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateID checks entity ids, which are UUIDs.
func ValidateID(id string) error {
	if !uuidRe.MatchString(strings.ToLower(id)) {
		return fmt.Errorf("invalid id format")
	}
	return nil
}

// ParseLimit reads a ?limit= value; empty means 0 and lets the service default it.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}
