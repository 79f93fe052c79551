package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrEmailFieldRequired is returned when a run is requested without an
// email column selected.
var ErrEmailFieldRequired = errors.New("email column is required")

// Validate checks the mapping against the parsed headers. It never mutates
// the mapping; a failed check only blocks the run from starting.
func (m ColumnMapping) Validate(headers []string) error {
	if strings.TrimSpace(m.EmailField) == "" {
		return ErrEmailFieldRequired
	}
	if !slices.Contains(headers, m.EmailField) {
		return fmt.Errorf("column not found: %q", m.EmailField)
	}
	if m.NameField != "" && !slices.Contains(headers, m.NameField) {
		return fmt.Errorf("column not found: %q", m.NameField)
	}
	return nil
}

// emailOf returns the mapped email value of a row exactly as read. Padding
// is not stripped, so " a@x.com " fails the syntax stage.
func (m ColumnMapping) emailOf(row Row) string {
	return row.Get(m.EmailField)
}

// nameOf returns the mapped name value, or "" when no name column is set.
func (m ColumnMapping) nameOf(row Row) string {
	if m.NameField == "" {
		return ""
	}
	return row.Get(m.NameField)
}

// GuessMapping proposes a mapping from common header names. Fields it cannot
// identify are left empty for the user to choose.
func GuessMapping(headers []string) ColumnMapping {
	var m ColumnMapping
	for _, h := range headers {
		key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h))
		switch {
		case m.EmailField == "" && (key == "email" || key == "emailaddress" || key == "mail"):
			m.EmailField = h
		case m.NameField == "" && (key == "name" || key == "fullname" || key == "contactname"):
			m.NameField = h
		}
	}
	return m
}
