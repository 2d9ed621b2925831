package models

// UploadHandle is the opaque identifier an enhancement backend returns after
// a single file ingest. It is consumed when the enhancement request is
// built; it owns no resource beyond the backend's own storage of the file.
type UploadHandle struct {
	ID       string
	Filename string
}

// EnhancementTicket is the opaque identifier for a submitted bracket, paired
// with the bracket index it was created for so finalize can place the
// result correctly.
type EnhancementTicket struct {
	ID           string `json:"ticket_id"`
	BracketIndex int    `json:"bracket_index"`
}

// EnhancementState is the status an enhancement backend reports for a
// ticket.
type EnhancementState string

const (
	EnhancementPending     EnhancementState = "pending"
	EnhancementInProgress  EnhancementState = "in-progress"
	EnhancementCompleted   EnhancementState = "completed"
	EnhancementFailed      EnhancementState = "failed"
	EnhancementWebhookOnly EnhancementState = "webhook-based"
	EnhancementUnknown     EnhancementState = "unknown"
)

// EnhancementStatus is the result of polling (or, for webhook backends, the
// synthetic non-answer) a ticket's state.
type EnhancementStatus struct {
	State     EnhancementState
	ResultURL string
	Error     string
}
