package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

var (
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,80}$`)
	executionARN     = regexp.MustCompile(`^arn:aws[a-z-]*:states:[a-z0-9-]+:\d{12}:execution:[A-Za-z0-9_-]{1,80}:[A-Za-z0-9_-]{1,80}$`)
)

const maxKeyLength = 1024

// ValidateSessionID checks the session id format used in storage prefixes and execution names.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("sessionId cannot be empty")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid sessionId format (alphanumeric, dash, underscore only, max 80 chars)")
	}
	return nil
}

// ValidateExecutionARN checks a Step Functions execution ARN.
func ValidateExecutionARN(arn string) error {
	if !executionARN.MatchString(arn) {
		return fmt.Errorf("invalid executionArn format")
	}
	return nil
}

// ValidateObjectKey validates object keys and prefixes taken from query strings.
func ValidateObjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key longer than %d bytes", maxKeyLength)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("key must not start with /")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("path traversal detected")
		}
	}
	for _, r := range key {
		if r < 32 || r == 127 {
			return fmt.Errorf("invalid characters in key")
		}
	}
	return nil
}

// SanitizeFilename removes control characters and path separators from an uploaded filename.
func SanitizeFilename(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		switch {
		case r == '/' || r == '\\':
			result.WriteRune('_')
		case r >= 32 && r != 127:
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
