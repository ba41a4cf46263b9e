// Package source adapts the external image store (a Drive-style REST API) to
// the two operations the indexer needs: folder listing and byte fetch. The
// store is read-only; nothing here ever writes upstream.
package source

import (
	"context"
	"time"
)

// Entry is one child of a folder: either a subfolder or an image file.
type Entry struct {
	ID      string
	Name    string
	MIME    string
	ModTime time.Time
}

// FolderMIME marks folder entries in listings.
const FolderMIME = "application/vnd.google-apps.folder"

// IsFolder reports whether the entry is a subfolder.
func (e Entry) IsFolder() bool { return e.MIME == FolderMIME }

// Store is the image-store contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// ListFolder returns the direct children of folderID.
	ListFolder(ctx context.Context, folderID string) ([]Entry, error)

	// FetchBytes downloads the file content and reports its modification time.
	FetchBytes(ctx context.Context, fileID string) ([]byte, time.Time, error)

	// SignedURL returns a fetchable URL for the file, for handing to the VLM.
	SignedURL(fileID string) string
}
