package media

import (
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind classifies a selectable media file.
type Kind int

const (
	Unknown Kind = iota
	Image
	Video
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

// DefaultExtension is the output extension suggested for a target of this kind.
func (k Kind) DefaultExtension() string {
	if k == Video {
		return ".mp4"
	}
	return ".png"
}

// Reference is an immutable description of a selected media file.
type Reference struct {
	Path        string
	Kind        Kind
	TotalFrames int // 1 for images
}

// ValidationError reports a path that is not usable as the requested media kind.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "no file selected"
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Detect sniffs the content of path and reports whether it is an image or a video.
func Detect(path string) (Kind, error) {
	if path == "" {
		return Unknown, &ValidationError{Reason: "empty path"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Unknown, &ValidationError{Path: path, Reason: err.Error()}
	}
	if info.IsDir() {
		return Unknown, &ValidationError{Path: path, Reason: "is a directory"}
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Unknown, &ValidationError{Path: path, Reason: err.Error()}
	}
	for m := mtype; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return Image, nil
		case strings.HasPrefix(m.String(), "video/"):
			return Video, nil
		}
	}
	return Unknown, &ValidationError{Path: path, Reason: "unsupported media type " + mtype.String()}
}

// IsImage reports whether path holds an image.
func IsImage(path string) bool {
	k, err := Detect(path)
	return err == nil && k == Image
}

// IsVideo reports whether path holds a video.
func IsVideo(path string) bool {
	k, err := Detect(path)
	return err == nil && k == Video
}
