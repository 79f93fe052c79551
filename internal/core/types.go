package core

import (
	"time"
)

// Classification labels attached to invalid results.
const (
	ReasonInvalidFormat      = "Invalid format"
	ReasonInvalidDomain      = "Invalid domain"
	ReasonVerificationFailed = "Domain verification failed"
)

// Row is one parsed data line. Values are positionally aligned with Headers;
// a short row reads its missing trailing columns as "".
type Row struct {
	Headers []string
	Values  []string
}

// Get returns the value for the named column, or "" if the column is absent.
func (r Row) Get(field string) string {
	for i, h := range r.Headers {
		if h == field {
			if i < len(r.Values) {
				return r.Values[i]
			}
			return ""
		}
	}
	return ""
}

// Map returns the row as a header -> value map.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		m[h] = r.Get(h)
	}
	return m
}

// Dataset is the output of parsing one uploaded file.
type Dataset struct {
	Headers []string
	Rows    []Row
}

// ColumnMapping selects which headers carry the email address and the
// optional display name.
type ColumnMapping struct {
	EmailField string `json:"email_field"`
	NameField  string `json:"name_field,omitempty"`
}

// ValidationResult is the classification of a single address.
// Reason is set only when IsValid is false.
type ValidationResult struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason,omitempty"`
}

// EmailListRecord is the persisted aggregate of one completed run.
type EmailListRecord struct {
	ID            int64              `json:"id"`
	Name          string             `json:"name"`
	TotalEmails   int                `json:"total_emails"`
	ValidEmails   int                `json:"valid_emails"`
	InvalidEmails int                `json:"invalid_emails"`
	CreatedAt     time.Time          `json:"created_at"`
	UserID        string             `json:"user_id"`
	Results       []ValidationResult `json:"results"`
}

// RunPhase indicates the current stage of a validation run.
type RunPhase string

const (
	PhaseStarting   RunPhase = "starting"
	PhaseValidating RunPhase = "validating"
	PhaseSaving     RunPhase = "saving"
	PhaseComplete   RunPhase = "complete"
	PhaseFailed     RunPhase = "failed"
)

// RunProgress is a snapshot of a run, broadcast to progress subscribers.
type RunProgress struct {
	RunID     string   `json:"run_id"`
	Phase     RunPhase `json:"phase"`
	FileName  string   `json:"file_name"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Percent   float64  `json:"percent"`
	Error     string   `json:"error,omitempty"`
}

// RunResult is the final outcome of a run. Results stay available here even
// when persisting the list failed.
type RunResult struct {
	RunID     string             `json:"run_id"`
	ListID    int64              `json:"list_id,omitempty"`
	ListName  string             `json:"list_name"`
	FileName  string             `json:"file_name"`
	Total     int                `json:"total_emails"`
	Valid     int                `json:"valid_emails"`
	Invalid   int                `json:"invalid_emails"`
	Skipped   int                `json:"skipped_rows"`
	Results   []ValidationResult `json:"results"`
	Duration  time.Duration      `json:"duration"`
	Error     string             `json:"error,omitempty"`
	SaveError string             `json:"save_error,omitempty"`
}

// ProgressCallback receives progress percentages during a run.
type ProgressCallback func(completed, total int, percent float64)
