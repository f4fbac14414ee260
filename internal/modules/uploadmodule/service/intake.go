package service

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	uploaderrors "github.com/mantonx/tunevault/internal/modules/uploadmodule/errors"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
)

// resolveIntake confines f to the intake directory and replaces the size
// the client declared with the size on disk.
func (m *Manager) resolveIntake(f types.FileRef) (types.FileRef, error) {
	path, ok := m.intakePath(f.URI)
	if !ok {
		return f, outsideIntake(f)
	}

	// Lstat so a symlink planted in the intake dir cannot point elsewhere.
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return f, outsideIntake(f)
	}

	f.URI = path
	f.Size = info.Size()
	return f, nil
}

// intakePath returns the absolute form of uri when it names a file inside
// the intake directory.
func (m *Manager) intakePath(uri string) (string, bool) {
	intakeDir := m.deps.Config.Server.IntakeDir
	if intakeDir == "" || uri == "" {
		return "", false
	}
	dir, err := filepath.Abs(intakeDir)
	if err != nil {
		return "", false
	}
	path, err := filepath.Abs(uri)
	if err != nil || !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

func outsideIntake(f types.FileRef) error {
	name := f.Name
	if name == "" {
		name = filepath.Base(f.URI)
	}
	return apptypes.NewAppErrorWithCause(apptypes.ErrorCodeInvalidFile,
		"file is not an uploaded intake file", http.StatusBadRequest, uploaderrors.ErrNotIntakeFile).
		WithContext("file", name).
		WithUserMessage("Please upload the file again before selecting it.")
}
