// Package validation provides input validation for job names and remote
// paths before they are embedded in remote commands.
package validation

import (
	"path"
	"regexp"
	"strings"

	"github.com/gridlink-labs/gridlink/internal/errdefs"
)

// jobNamePattern restricts job names to characters that are safe inside
// a remote directory name and a shell command line.
var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// MaxJobNameLen bounds job names so directory names stay manageable.
const MaxJobNameLen = 128

// ValidateJobName checks a user-supplied job name.
func ValidateJobName(name string) error {
	if name == "" {
		return &errdefs.ValidationError{Field: "job_name", Msg: "cannot be empty"}
	}
	if len(name) > MaxJobNameLen {
		return &errdefs.ValidationError{Field: "job_name", Msg: "too long"}
	}
	if !jobNamePattern.MatchString(name) {
		return &errdefs.ValidationError{
			Field: "job_name",
			Msg:   "may only contain letters, digits, '.', '_' and '-', and must not start with a separator",
		}
	}
	return nil
}

// ValidateFilename checks a bare filename (no directory component) so it
// can safely be joined onto a remote directory.
func ValidateFilename(filename string) error {
	if filename == "" {
		return &errdefs.ValidationError{Field: "filename", Msg: "cannot be empty"}
	}
	if strings.ContainsRune(filename, 0) {
		return &errdefs.ValidationError{Field: "filename", Msg: "contains null byte"}
	}
	if strings.ContainsRune(filename, '/') || strings.ContainsRune(filename, '\\') {
		return &errdefs.ValidationError{Field: "filename", Msg: "must not contain path separators"}
	}
	if filename == "." || filename == ".." {
		return &errdefs.ValidationError{Field: "filename", Msg: "must not be '.' or '..'"}
	}
	return nil
}

// ValidateRemotePathInDir verifies that a remote (POSIX) path resolves to
// a location strictly inside baseDir. Used by job deletion so an rm can
// never reach outside the job's own directory.
func ValidateRemotePathInDir(p, baseDir string) error {
	if p == "" {
		return &errdefs.ValidationError{Field: "path", Msg: "cannot be empty"}
	}
	if baseDir == "" || !path.IsAbs(baseDir) {
		return &errdefs.ValidationError{Field: "base", Msg: "base directory must be absolute"}
	}
	if strings.ContainsRune(p, 0) {
		return &errdefs.ValidationError{Field: "path", Msg: "contains null byte"}
	}
	if !path.IsAbs(p) {
		return &errdefs.ValidationError{Field: "path", Msg: "must be absolute"}
	}

	cleanPath := path.Clean(p)
	cleanBase := path.Clean(baseDir)

	if cleanPath == cleanBase {
		return nil
	}
	if !strings.HasPrefix(cleanPath, cleanBase+"/") {
		return &errdefs.ValidationError{
			Field: "path",
			Msg:   "escapes job directory: " + p,
		}
	}
	return nil
}
