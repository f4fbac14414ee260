// Package errors defines the sentinel errors of the upload module.
package errors

import (
	"errors"
)

var (
	// ErrUploadInProgress is returned when a second submit arrives while one
	// is still running.
	ErrUploadInProgress = errors.New("an upload is already in progress")

	// ErrNoCandidate means submit was called without a selected file.
	ErrNoCandidate = errors.New("no audio file selected")

	// ErrAlbumAndTrack means a single track and an album were both selected.
	ErrAlbumAndTrack = errors.New("a session cannot hold a track and an album at once")

	// ErrStaleResult is returned when a fingerprint result arrives for a
	// check that was superseded.
	ErrStaleResult = errors.New("stale fingerprint result")

	// ErrAlbumsNotAllowed means the account tier cannot create albums.
	ErrAlbumsNotAllowed = errors.New("albums are not available on this plan")

	// ErrNotIntakeFile means a file reference does not point at a file
	// received through the intake endpoint.
	ErrNotIntakeFile = errors.New("file is not in the intake directory")

	// ErrSessionNotFound means the user has no upload session.
	ErrSessionNotFound = errors.New("upload session not found")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
