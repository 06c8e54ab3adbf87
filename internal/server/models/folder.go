package models

import "time"

// Folder is a stored folder row. Name holds the encrypted token, never the
// plaintext.
type Folder struct {
	ID         string
	OwnerID    string
	Name       string
	ParentID   *string
	IsFavorite bool
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Trashed reports whether the folder is in trash.
func (f *Folder) Trashed() bool {
	return f.DeletedAt != nil
}

// FolderFilter narrows folder listings. Nil pointers mean "any".
type FolderFilter struct {
	// ParentID selects direct children of a folder. Combine with Root to
	// select top-level folders instead.
	ParentID *string
	Root     bool

	Trashed  *bool
	Favorite *bool
}

// FolderView is a folder with its name decrypted.
type FolderView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ParentID   *string    `json:"parent_id"`
	IsFavorite bool       `json:"is_favorite"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TreeNode is one folder in the assembled tree.
type TreeNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	ParentID *string     `json:"parent_id"`
	Children []*TreeNode `json:"children"`
}
