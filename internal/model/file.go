package model

import "time"

// StoredFile is the catalog record of a completed transfer.
type StoredFile struct {
	ID          string    `json:"id"`
	TransferID  string    `json:"transferId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	SavedPath   string    `json:"savedPath"`
	CreatedAt   time.Time `json:"createdAt"`
}
