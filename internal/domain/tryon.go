package domain

import "time"

// Try-on result states. SUCCESS and FAILED are terminal; no transition ever
// leaves a terminal state. PENDING covers vendor vocabularies that report
// non-terminal progress without distinguishing created/running.
const (
	ResultCreated = "CREATED"
	ResultRunning = "RUNNING"
	ResultPending = "PENDING"
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// TerminalResultStatus reports whether a status admits no further transitions.
func TerminalResultStatus(status string) bool {
	return status == ResultSuccess || status == ResultFailed
}

// TryOnSession groups the inputs of one try-on job. Result rows reference it
// via SessionID.
type TryOnSession struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"storeId"`
	Category  string    `json:"category"`
	ModelURL  string    `json:"modelUrl"`
	DressURL  string    `json:"dressUrl"`
	Variants  int       `json:"variants"`
	CreatedAt time.Time `json:"createdAt"`
}

// TryOnResult is one expected output of a try-on job. Rows are append-only:
// created at submission, mutated only by the reconciler, never deleted except
// on tenant uninstall. Refunded is monotonic false→true.
type TryOnResult struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"storeId"`
	SessionID string    `json:"sessionId"`
	TaskID    string    `json:"taskId"`   // vendor job id once submitted
	ResultID  string    `json:"resultId"` // per-variant id
	Status    string    `json:"status"`
	FileURL   *string   `json:"fileUrl,omitempty"`
	ErrorMsg  *string   `json:"errorMsg,omitempty"`
	Refunded  bool      `json:"refunded"`
	Cost      int       `json:"-"` // credits debited for this row; 0 on the usage-billing path
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ImageInput is one try-on input: either a remote URL or raw uploaded bytes.
type ImageInput struct {
	URL      string
	Data     []byte
	Filename string
}

// Present reports whether the input carries anything usable.
func (i ImageInput) Present() bool {
	return i.URL != "" || len(i.Data) > 0
}

// CreateSessionRequest is the validated input for submitting a try-on job.
type CreateSessionRequest struct {
	ModelImage ImageInput `validate:"-"`
	DressImage ImageInput `validate:"-"`
	Category   string     `validate:"required,oneof=top bottom full"`
}

// SessionStatus aggregates the result rows of a session for the client:
// any SUCCESS wins, all-FAILED reports FAILED, anything else is PENDING.
type SessionStatus struct {
	Status  string         `json:"status"`
	Results []*TryOnResult `json:"list"`
}

// AggregateStatus folds a session's result rows into one status. An empty
// set is PENDING: the pending row may simply not be visible yet.
func AggregateStatus(results []*TryOnResult) string {
	if len(results) == 0 {
		return ResultPending
	}
	failures := 0
	for _, r := range results {
		switch r.Status {
		case ResultSuccess:
			return ResultSuccess
		case ResultFailed:
			failures++
		}
	}
	if failures == len(results) {
		return ResultFailed
	}
	return ResultPending
}
