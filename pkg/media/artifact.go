package media

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrDecode means the input could not be decoded as audio.
	ErrDecode = errors.New("decode error")
	// ErrIO means the input or output could not be read or written.
	ErrIO = errors.New("io error")
	// ErrInvalidID means an artifact id is not usable as a file name.
	ErrInvalidID = errors.New("invalid artifact id")
)

// OutputExt is the extension of every published artifact.
const OutputExt = ".mp3"

var artifactIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ArtifactID names one converted file. It is derived from the inbound
// attachment so distinct submissions never share a destination.
type ArtifactID string

// ParseArtifactID validates raw as a file-name-safe identifier.
func ParseArtifactID(raw string) (ArtifactID, error) {
	raw = strings.TrimSpace(raw)
	if !artifactIDPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return ArtifactID(raw), nil
}

// FileName is the published file name; both the destination path and the
// public address are built from it.
func (id ArtifactID) FileName() string {
	return string(id) + OutputExt
}

// Artifact is one converted file on disk.
type Artifact struct {
	ID         ArtifactID
	SourcePath string
	Path       string
	Size       int64
}

// FileName returns the published file name of the artifact.
func (a *Artifact) FileName() string {
	return a.ID.FileName()
}

// SourceExt maps a codec or MIME hint to the extension used for the raw copy.
func SourceExt(hint string) string {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "audio/mpeg", "audio/mp3", "mp3":
		return ".src.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "m4a", "aac":
		return ".m4a"
	case "audio/wav", "audio/x-wav", "wav":
		return ".wav"
	case "audio/webm", "webm":
		return ".webm"
	default:
		return ".oga"
	}
}
