package models

import "time"

// File describes server-side metadata for a stored file. The bytes live in
// the blob store under ContentRef; Name holds the encrypted token.
type File struct {
	ID         string
	OwnerID    string
	FolderID   *string
	Name       string
	Size       uint64
	MimeType   string
	ContentRef string
	IsFavorite bool
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Trashed reports whether the file is in trash.
func (f *File) Trashed() bool {
	return f.DeletedAt != nil
}

// FileFilter narrows file listings. Nil pointers mean "any".
type FileFilter struct {
	FolderID *string
	Root     bool

	Trashed  *bool
	Favorite *bool
}

// FileView is a file with its name decrypted.
type FileView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	FolderID   *string    `json:"folder_id"`
	Size       uint64     `json:"size"`
	MimeType   string     `json:"mime_type"`
	IsFavorite bool       `json:"is_favorite"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Contents is what a folder (or the root) directly holds.
type Contents struct {
	Folders []*FolderView `json:"folders"`
	Files   []*FileView   `json:"files"`
}

// SearchResult groups matches by kind.
type SearchResult struct {
	Folders []*FolderView `json:"folders"`
	Files   []*FileView   `json:"files"`
}
