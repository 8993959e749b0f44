package entity

import "time"

// Category is a budget category of the requirement registry
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Requirement is a document a category's line items may need
type Requirement struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	Required   bool   `json:"required"`
}

// Document is the evidence uploaded for one requirement of one line item
type Document struct {
	ID              int64          `json:"id"`
	LiquidationCode string         `json:"liquidation_code"`
	CategoryID      string         `json:"category_id"`
	RequirementID   string         `json:"requirement_id"`
	Status          DocumentStatus `json:"status"`
	FileKey         string         `json:"file_key"`
	UploadedAt      time.Time      `json:"uploaded_at"`
}

// Usable reports whether the document satisfies its requirement for submission
func (d *Document) Usable() bool {
	return d.Status != DocumentRejected
}

// DocumentVersion is one upload of a document and its review outcome
type DocumentVersion struct {
	ID         int64          `json:"id"`
	DocumentID int64          `json:"document_id"`
	VersionNo  int            `json:"version_no"`
	FileKey    string         `json:"file_key"`
	Status     DocumentStatus `json:"status"`
	Reviewer   string         `json:"reviewer,omitempty"`
	Comment    string         `json:"comment,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ReviewedAt *time.Time     `json:"reviewed_at,omitempty"`
}
