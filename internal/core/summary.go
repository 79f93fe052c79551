package core

import (
	"strings"
	"time"
)

// Counts tallies a result sequence.
type Counts struct {
	Total   int
	Valid   int
	Invalid int
}

// Count computes the totals persisted with a list. Total always equals
// Valid + Invalid since both are counted from the same slice.
func Count(results []ValidationResult) Counts {
	var c Counts
	for _, r := range results {
		if r.IsValid {
			c.Valid++
		} else {
			c.Invalid++
		}
	}
	c.Total = c.Valid + c.Invalid
	return c
}

// NewListRecord builds the record saved after a completed run.
// ID and CreatedAt are assigned by the store.
func NewListRecord(name, userID string, results []ValidationResult) EmailListRecord {
	c := Count(results)
	if results == nil {
		results = []ValidationResult{}
	}
	return EmailListRecord{
		Name:          strings.TrimSpace(name),
		TotalEmails:   c.Total,
		ValidEmails:   c.Valid,
		InvalidEmails: c.Invalid,
		UserID:        userID,
		Results:       results,
	}
}

// ListSummary is a saved list without its results, for index views.
type ListSummary struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	TotalEmails   int       `json:"total_emails"`
	ValidEmails   int       `json:"valid_emails"`
	InvalidEmails int       `json:"invalid_emails"`
	CreatedAt     time.Time `json:"created_at"`
}

// Summary drops the results from a record.
func (r EmailListRecord) Summary() ListSummary {
	return ListSummary{
		ID:            r.ID,
		Name:          r.Name,
		TotalEmails:   r.TotalEmails,
		ValidEmails:   r.ValidEmails,
		InvalidEmails: r.InvalidEmails,
		CreatedAt:     r.CreatedAt,
	}
}
