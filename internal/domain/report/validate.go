package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotObject       = errors.New("response data is not an object")
	ErrMissingFields   = errors.New("response data missing required fields")
	ErrMissingSession  = errors.New("missing sessionId in reportMetadata")
	ErrMissingFindings = errors.New("missing overallFindings in executiveSummary")
)

// Decode parses data into a generic JSON object.
func Decode(data []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

// IsJBIReport reports whether raw carries the JBI report marker in reportMetadata.reportType.
func IsJBIReport(raw map[string]any) bool {
	meta := object(raw[sectionMetadata])
	rt, _ := meta["reportType"].(string)
	return strings.Contains(rt, "jbi")
}

// Extract decodes, checks and normalizes a report document.
func Extract(data []byte, now time.Time) (*Report, error) {
	raw, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return FromRaw(raw, now)
}

// FromRaw checks and normalizes an already decoded document.
func FromRaw(raw map[string]any, now time.Time) (*Report, error) {
	if !truthy(raw["sessionId"]) && !truthy(raw[sectionMetadata]) && !truthy(raw[sectionSummary]) {
		return nil, ErrMissingFields
	}
	r := Normalize(raw, now)
	if err := Validate(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the fields every rendering relies on.
func Validate(r *Report) error {
	if r.Metadata.SessionID == "" {
		return ErrMissingSession
	}
	if r.ExecutiveSummary.OverallFindings == "" {
		return ErrMissingFindings
	}
	return nil
}
