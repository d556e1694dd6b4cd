package datum

import (
	"os"
	"strings"

	"github.com/dagflow/engine/internal/fingerprint"
	"github.com/dagflow/engine/internal/ids"
)

// fileVariant backs a FileDatum: the pointer is a filesystem path. It
// "exists" iff the path resolves; its fingerprint is (path, mtime) rather
// than file contents, so it stays cheap regardless of file size; clearing
// deletes the file.
type fileVariant struct{}

func (fileVariant) ValidateFormat(pointer any) bool {
	p, ok := pointer.(string)
	if !ok {
		return false
	}
	return isValidFilepath(p)
}

func (fileVariant) VerifyAvailable(pointer any) bool {
	p, ok := pointer.(string)
	if !ok {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

func (fileVariant) Clear(pointer any) error {
	p, ok := pointer.(string)
	if !ok {
		return nil
	}
	err := os.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (fileVariant) Quickhash(pointer any) uint64 {
	p, ok := pointer.(string)
	if !ok {
		return 0
	}
	info, err := os.Stat(p)
	if err != nil {
		return fingerprint.PathAndModTime(p, 0)
	}
	return fingerprint.PathAndModTime(p, info.ModTime().UnixNano())
}

func (fileVariant) Tag() Tag {
	return TagFile
}

// NewFileDatum constructs an EMPTY FileDatum owned by parents.
func NewFileDatum(parents ...ids.TaskID) *Datum {
	return New(fileVariant{}, parents...)
}

// isValidFilepath rejects empty paths, null bytes, and paths that are
// clearly directory-only (trailing separator) rather than a file pointer.
func isValidFilepath(p string) bool {
	if p == "" {
		return false
	}
	if strings.ContainsRune(p, 0) {
		return false
	}
	if strings.HasSuffix(p, string(os.PathSeparator)) {
		return false
	}
	return true
}
