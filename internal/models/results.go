package models

// AttachmentResult is the outcome of one attachment download attempt
type AttachmentResult struct {
	Status   AttachmentStatus `json:"status"`
	Base64   string           `json:"base64,omitempty"`
	Filename string           `json:"filename,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// TabStatus describes one portal's tab as seen through the browser session
type TabStatus struct {
	Found    bool   `json:"found"`
	URL      string `json:"url,omitempty"`
	LoggedIn bool   `json:"logged_in"`
	Error    string `json:"error,omitempty"`
}

// FetchResult aggregates a multi-portal scrape pass. A failing portal lands
// in Errors without preventing the others' invoices from being returned.
type FetchResult struct {
	Success  bool              `json:"success"`
	Invoices []*InvoiceRecord  `json:"invoices"`
	Stats    map[Source]int    `json:"stats"`
	Errors   map[Source]string `json:"errors"`
}

// SyncDetail is the per-record outcome of a sync pass
type SyncDetail struct {
	InvoiceNumber string `json:"invoice_number"`
	Status        string `json:"status"` // created, duplicate, error
	StagingID     int64  `json:"staging_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// SyncResult aggregates a sync pass; every record is classified into
// exactly one of the three counters.
type SyncResult struct {
	Success    bool         `json:"success"`
	Total      int          `json:"total"`
	Created    int          `json:"created"`
	Duplicates int          `json:"duplicates"`
	Errors     int          `json:"errors"`
	Details    []SyncDetail `json:"details"`
	SessionID  string       `json:"session_id"`
	Error      string       `json:"error,omitempty"`
}

// HealthStatus is the backend health probe result
type HealthStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}
