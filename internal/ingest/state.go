package ingest

import "fmt"

// State is the lifecycle position of one ingestion unit (a record, an asset or an
// embedding key) within a single pass.
type State int

const (
	Pending State = iota
	Fetching
	Fetched
	FetchFailed
	// Missing means the remote catalog has no such id; a gap, not a failure.
	Missing
	Embedding
	Embedded
	EmbedFailed
	// Skipped means the artifact already existed before the unit started.
	Skipped
	// Canceled means the pass was canceled before the unit started.
	Canceled
)

var stateNames = [...]string{
	Pending:     "pending",
	Fetching:    "fetching",
	Fetched:     "fetched",
	FetchFailed: "fetch_failed",
	Missing:     "missing",
	Embedding:   "embedding",
	Embedded:    "embedded",
	EmbedFailed: "embed_failed",
	Skipped:     "skipped",
	Canceled:    "canceled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible within the pass.
// Failed units are retried by the next pass, which starts them over at Pending.
func (s State) Terminal() bool {
	switch s {
	case Fetched, FetchFailed, Missing, Embedded, EmbedFailed, Skipped, Canceled:
		return true
	}
	return false
}

// Failed reports whether s is a failure outcome.
func (s State) Failed() bool {
	return s == FetchFailed || s == EmbedFailed
}

var transitions = map[State][]State{
	Pending:   {Fetching, Embedding, Skipped, Canceled},
	Fetching:  {Fetched, FetchFailed, Missing},
	Embedding: {Embedded, EmbedFailed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// unit tracks one work item. Each unit is owned by a single worker goroutine.
type unit struct {
	name  string
	phase State // Fetching or Embedding
	state State
	err   error
}

func newUnit(name string, phase State) *unit {
	return &unit{name: name, phase: phase, state: Pending}
}

// start moves a pending unit into its working phase.
func (u *unit) start() {
	u.advance(u.phase)
}

// advance moves the unit to s. An illegal transition is a bug in a stage function.
func (u *unit) advance(s State) {
	if !CanTransition(u.state, s) {
		panic(fmt.Sprintf("ingest: unit %s: illegal transition %s -> %s", u.name, u.state, s))
	}
	u.state = s
}

// fail moves the unit to its phase's failure state and records err.
func (u *unit) fail(err error) error {
	if u.state == Pending {
		u.start()
	}
	if u.phase == Embedding {
		u.advance(EmbedFailed)
	} else {
		u.advance(FetchFailed)
	}
	u.err = err
	return err
}
