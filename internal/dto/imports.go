package dto

// BulkImportRequest carries the uploaded roster file as base64 text.
type BulkImportRequest struct {
	CSVData  string `json:"csv_data" validate:"required"`
	Filename string `json:"filename"`
}

// RowError describes a single failed row inside a bulk import.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// BulkImportOutcome is the per-upload result returned to the caller.
// It is never persisted; partial success is reported row by row.
type BulkImportOutcome struct {
	Success           bool       `json:"success"`
	TotalRows         int        `json:"total_rows"`
	SuccessfulImports int        `json:"successful_imports"`
	Errors            []RowError `json:"errors"`
	DuplicateEmails   []string   `json:"duplicate_emails"`
	Summary           string     `json:"summary"`
	ArchiveFile       string     `json:"archive_file,omitempty"`
	ArchiveURL        string     `json:"archive_url,omitempty"`
}
