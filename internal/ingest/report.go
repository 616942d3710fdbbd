package ingest

import (
	"fmt"
	"time"
)

// maxFailures bounds how many failure details a report keeps; counts stay exact.
const maxFailures = 100

// Failure describes one failed unit.
type Failure struct {
	Unit  string `json:"unit"`
	State State  `json:"-"`
	Err   error  `json:"-"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s (%s): %v", f.Unit, f.State, f.Err)
}

// Report is the outcome of one stage pass.
type Report struct {
	Stage     string        `json:"stage"`
	RunID     string        `json:"run_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Units     int           `json:"units"`
	Counts    map[State]int `json:"-"`
	Failures  []Failure     `json:"-"`
	Canceled  bool          `json:"canceled"`
}

func newReport(stage string, units int) *Report {
	return &Report{
		Stage:     stage,
		StartedAt: time.Now(),
		Units:     units,
		Counts:    make(map[State]int),
	}
}

// Succeeded counts units that produced a new artifact.
func (r *Report) Succeeded() int {
	return r.Counts[Fetched] + r.Counts[Embedded]
}

// Failed counts units that ended in a failure state.
func (r *Report) Failed() int {
	return r.Counts[FetchFailed] + r.Counts[EmbedFailed]
}

// Skipped counts units whose artifact already existed.
func (r *Report) Skipped() int {
	return r.Counts[Skipped]
}

func (r *Report) add(u *unit) {
	r.Counts[u.state]++
	if u.state.Failed() && len(r.Failures) < maxFailures {
		r.Failures = append(r.Failures, Failure{Unit: u.name, State: u.state, Err: u.err})
	}
}

// String renders a one-line summary.
func (r *Report) String() string {
	s := fmt.Sprintf("%s: %d units, %d new, %d skipped, %d failed",
		r.Stage, r.Units, r.Succeeded(), r.Skipped(), r.Failed())
	if n := r.Counts[Missing]; n > 0 {
		s += fmt.Sprintf(", %d missing", n)
	}
	if r.Canceled {
		s += fmt.Sprintf(", canceled (%d not started)", r.Counts[Canceled])
	}
	return s
}
