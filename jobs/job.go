package jobs

import (
	"math"
	"time"

	"github.com/bill-scraper/automation"
)

// Status is the lifecycle state of a job. Completed and Failed are final.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no transition leaves s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Mode selects which units a job runs
type Mode string

const (
	ModeAll    Mode = "all"
	ModeSingle Mode = "single"
)

// Request asks for a new job. Vendor and Account are only read in ModeSingle.
type Request struct {
	Mode           Mode
	Vendor         string
	Account        int
	NotifyOverride string
	RequestedBy    string
}

// Metadata is the free-form request context stored with a job
type Metadata struct {
	Mode           Mode   `json:"mode"`
	Vendor         string `json:"vendor,omitempty"`
	Account        *int   `json:"account,omitempty"`
	NotifyOverride string `json:"email_to,omitempty"`
	RequestedBy    string `json:"requested_by,omitempty"`
}

// Unit is one (vendor, account) pair of a job
type Unit struct {
	Vendor       string `json:"vendor"`
	AccountIndex int    `json:"account_index"`
}

// Snapshot is a consistent, caller-owned copy of a job
type Snapshot struct {
	ID              string                 `json:"job_id"`
	Status          Status                 `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at"`
	TotalUnits      int                    `json:"total_accounts"`
	CompletedUnits  int                    `json:"completed_accounts"`
	PercentComplete int                    `json:"percent_complete"`
	CurrentVendor   string                 `json:"current_vendor,omitempty"`
	CurrentAccount  *int                   `json:"current_account"`
	CurrentLabel    string                 `json:"current_label,omitempty"`
	Results         []automation.RunResult `json:"results"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Metadata        Metadata               `json:"metadata"`
}

// Succeeded returns the final paths of every successful unit, in order
func (s Snapshot) Succeeded() []string {
	var files []string
	for _, r := range s.Results {
		if r.Success {
			files = append(files, r.FilePath)
		}
	}
	return files
}

// Failures counts the failed units
func (s Snapshot) Failures() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// job is the registry's mutable record. Only the orchestrator touches it,
// always under its lock.
type job struct {
	id          string
	status      Status
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	units        []Unit
	totalUnits   int
	current      *Unit
	results      []automation.RunResult
	errorMessage string
	metadata     Metadata

	done chan struct{}
}

func (j *job) snapshot() Snapshot {
	s := Snapshot{
		ID:             j.id,
		Status:         j.status,
		CreatedAt:      j.createdAt,
		TotalUnits:     j.totalUnits,
		CompletedUnits: len(j.results),
		Results:        append([]automation.RunResult(nil), j.results...),
		ErrorMessage:   j.errorMessage,
		Metadata:       j.metadata,
	}
	if s.Results == nil {
		s.Results = []automation.RunResult{}
	}
	if j.metadata.Account != nil {
		a := *j.metadata.Account
		s.Metadata.Account = &a
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		s.CompletedAt = &t
	}
	if j.current != nil {
		idx := j.current.AccountIndex
		s.CurrentVendor = j.current.Vendor
		s.CurrentAccount = &idx
		s.CurrentLabel = automation.UnitLabel(j.current.Vendor, idx)
	}
	s.PercentComplete = percent(s.CompletedUnits, s.TotalUnits)
	return s
}

func percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}
