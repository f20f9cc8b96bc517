package reconcile

import "time"

// Outcome is the terminal state of one external item within a run
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
)

// ItemResult records what happened to one external item. Failure visibility
// is a first-class return value, not a log line.
type ItemResult struct {
	ExternalID string        `json:"external_id"`
	Outcome    Outcome       `json:"outcome"`
	Strategy   MatchStrategy `json:"strategy,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// RunReport aggregates the per-item results of one reconciliation run
type RunReport struct {
	ID         string       `json:"id"`
	SubjectID  string       `json:"subject_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Selected   int          `json:"selected"`
	Created    int          `json:"created"`
	Updated    int          `json:"updated"`
	Skipped    int          `json:"skipped"`
	Items      []ItemResult `json:"items"`
}

// Tally recomputes the aggregate counters from the item results
func (r *RunReport) Tally() {
	r.Created, r.Updated, r.Skipped = 0, 0, 0
	for _, item := range r.Items {
		switch item.Outcome {
		case OutcomeCreated:
			r.Created++
		case OutcomeUpdated:
			r.Updated++
		case OutcomeSkipped:
			r.Skipped++
		}
	}
}
