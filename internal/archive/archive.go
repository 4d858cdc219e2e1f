// Package archive unpacks Node.js distribution archives. Every supported
// archive holds a single top-level directory; it is stripped so the archive
// contents land directly in the destination.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/remoteclauding/rcboot/internal/platform"
)

var (
	// ErrUnsafePath is returned for entries that would be written outside
	// the destination directory.
	ErrUnsafePath = errors.New("entry escapes destination")
	// ErrEmpty is returned for archives without entries.
	ErrEmpty = errors.New("archive has no entries")
	// ErrUnsupported is returned when the format cannot be determined.
	ErrUnsupported = errors.New("unsupported archive format")
)

// Error describes a failed extraction step.
type Error struct {
	Archive string
	Entry   string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, filepath.Base(e.Archive), e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Entry, filepath.Base(e.Archive), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Extractor unpacks one archive family.
type Extractor interface {
	Extract(archivePath, dest string) error
}

// ForPlatform returns the extractor for the archives published for p.
func ForPlatform(p platform.Platform) Extractor {
	if p.ArchiveExt() == "zip" {
		return Zip{}
	}
	return TarGz{}
}

// Detect picks an extractor by extension, falling back to content sniffing.
func Detect(archivePath string) (Extractor, error) {
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return TarGz{}, nil
	case strings.HasSuffix(archivePath, ".zip"):
		return Zip{}, nil
	}
	mt, err := mimetype.DetectFile(archivePath)
	if err != nil {
		return nil, &Error{Archive: archivePath, Op: "open", Err: err}
	}
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/zip"):
			return Zip{}, nil
		case m.Is("application/gzip"):
			return TarGz{}, nil
		}
	}
	return nil, &Error{Archive: archivePath, Op: "detect", Err: fmt.Errorf("%w: %s", ErrUnsupported, mt.String())}
}

// Extract detects the format of archivePath and unpacks it into dest.
func Extract(archivePath, dest string) error {
	x, err := Detect(archivePath)
	if err != nil {
		return err
	}
	return x.Extract(archivePath, dest)
}

// stripper removes the top-level directory learnt from the first entry.
type stripper struct {
	top  string
	seen bool
}

// strip returns the entry name relative to the top-level directory, or ""
// when nothing should be written for it.
func (s *stripper) strip(name string) string {
	name = cleanName(name)
	if name == "" {
		return ""
	}
	if !s.seen {
		s.seen = true
		s.top, _, _ = strings.Cut(name, "/")
	}
	if name == s.top {
		return ""
	}
	if rest, ok := strings.CutPrefix(name, s.top+"/"); ok {
		return strings.TrimLeft(rest, "/")
	}
	return name
}

func cleanName(name string) string {
	name = strings.TrimLeft(strings.ReplaceAll(name, `\`, "/"), "/")
	if name == "" {
		return ""
	}
	name = path.Clean(name)
	if name == "." {
		return ""
	}
	return name
}

// target joins rel onto dest, refusing anything that leaves dest.
func target(dest, rel string) (string, error) {
	if rel == ".." || strings.HasPrefix(rel, "../") || filepath.VolumeName(filepath.FromSlash(rel)) != "" {
		return "", ErrUnsafePath
	}
	out := filepath.Join(dest, filepath.FromSlash(rel))
	if !within(dest, out) {
		return "", ErrUnsafePath
	}
	return out, nil
}

func within(dest, p string) bool {
	r, err := filepath.Rel(filepath.Clean(dest), filepath.Clean(p))
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

func writeFile(dst string, r io.Reader, mode os.FileMode) error {
	if mode.Perm() == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
