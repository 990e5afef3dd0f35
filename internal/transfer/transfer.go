package transfer

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrJobInProgress is returned when a job is triggered while another one is still running.
var ErrJobInProgress = errors.New("a mirror job is already running")

// Dialer opens connections to the source endpoint.
type Dialer interface {
	Dial(ctx context.Context, host string) (SourceConn, error)
}

// SourceConn is a single connection to the source endpoint. It is not safe for
// concurrent use: one retrieve at a time.
//
// Every call returns once ctx is done. A call interrupted that way leaves the
// connection Broken; it must then only be closed.
type SourceConn interface {
	Login(ctx context.Context, user, credential string) error
	List(ctx context.Context) ([]string, error)
	Retrieve(ctx context.Context, name string, sink io.Writer) error
	Broken() bool
	Close() error
}

// Store is the destination object store.
type Store interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error
}

// Job is a single mirror invocation. It lives for the duration of one run.
type Job struct {
	ID          string
	Host        string
	User        string
	Credential  string
	Bucket      string
	TriggeredAt time.Time
}

// Validate reports every required option that is missing.
func (j Job) Validate() error {
	var missing []string

	if strings.TrimSpace(j.Host) == "" {
		missing = append(missing, "source_host")
	}

	if strings.TrimSpace(j.User) == "" {
		missing = append(missing, "source_user")
	}

	if j.Credential == "" {
		missing = append(missing, "source_credential")
	}

	if strings.TrimSpace(j.Bucket) == "" {
		missing = append(missing, "destination_bucket")
	}

	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}

	return nil
}

// RemoteFileRef is a name returned by the source listing.
type RemoteFileRef struct {
	Name string
}

// IsBlank reports whether the ref is an empty placeholder. A name made of
// spaces is a legal FTP filename and is not blank.
func (r RemoteFileRef) IsBlank() bool {
	return r.Name == ""
}

// Status is the per-file result classification.
type Status int

const (
	StatusSuccess Status = iota
	StatusSkippedEmpty
	StatusFetchFailed
	StatusUploadFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusSkippedEmpty:
		return "SkippedEmpty"
	case StatusFetchFailed:
		return "FetchFailed"
	case StatusUploadFailed:
		return "UploadFailed"
	default:
		return "Unknown"
	}
}

// Failed reports whether the status counts against the job.
func (s Status) Failed() bool {
	return s == StatusFetchFailed || s == StatusUploadFailed
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is the result of mirroring one file.
type Outcome struct {
	Filename string
	Status   Status
	Err      error
	Bytes    int64
	Duration time.Duration
}

// JobStatus is the overall result of a job.
type JobStatus string

const (
	JobSuccess        JobStatus = "Success"
	JobPartialFailure JobStatus = "PartialFailure"
	JobFailed         JobStatus = "Failed"
)

// FailedFile describes a file that could not be mirrored.
type FailedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// Summary is what a job returns to its caller.
type Summary struct {
	JobID      string       `json:"job_id"`
	Status     JobStatus    `json:"status"`
	Attempted  int          `json:"attempted"`
	Succeeded  int          `json:"succeeded"`
	Failed     []FailedFile `json:"failed"`
	Skipped    int          `json:"skipped"`
	Bytes      int64        `json:"bytes"`
	Cancelled  bool         `json:"cancelled,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`

	Outcomes []Outcome `json:"-"`
}

// Summarize aggregates per-file outcomes. skipped is the number of blank refs
// that were filtered out before transfer.
func Summarize(jobID string, outcomes []Outcome, skipped int) Summary {
	s := Summary{
		JobID:    jobID,
		Status:   JobSuccess,
		Failed:   []FailedFile{},
		Skipped:  skipped,
		Outcomes: outcomes,
	}

	for _, o := range outcomes {
		switch {
		case o.Status == StatusSuccess:
			s.Attempted++
			s.Succeeded++
			s.Bytes += o.Bytes
		case o.Status.Failed():
			s.Attempted++

			f := FailedFile{Filename: o.Filename, Reason: o.Status.String()}
			if o.Err != nil {
				f.Detail = o.Err.Error()
			}

			s.Failed = append(s.Failed, f)
		}
	}

	if len(s.Failed) > 0 {
		s.Status = JobPartialFailure
	}

	return s
}

// FailedSummary is the summary of a job that never reached the transfer stage.
func FailedSummary(jobID string, err error) Summary {
	s := Summary{
		JobID:  jobID,
		Status: JobFailed,
		Failed: []FailedFile{},
	}

	if err != nil {
		s.Error = err.Error()
	}

	return s
}
