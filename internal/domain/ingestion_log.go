package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionLogEntry captures row level issues and upload failures for a session.
type IngestionLogEntry struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	Species      string    `json:"species"`
	FileName     string    `json:"file_name"`
	RowNumber    *int      `json:"row_number,omitempty"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}
