package archive

import (
	"archive/zip"
	"os"

	"github.com/rs/zerolog/log"
)

// Zip extracts zip archives in a single pass over the central directory.
type Zip struct{}

func (Zip) Extract(archivePath, dest string) error {
	fail := func(entry, op string, err error) error {
		return &Error{Archive: archivePath, Entry: entry, Op: op, Err: err}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fail("", "mkdir", err)
	}
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fail("", "open", err)
	}
	defer r.Close()
	if len(r.File) == 0 {
		return fail("", "read", ErrEmpty)
	}

	var st stripper
	for _, f := range r.File {
		rel := st.strip(f.Name)
		if rel == "" {
			continue
		}
		out, err := target(dest, rel)
		if err != nil {
			return fail(f.Name, "resolve", err)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(out, 0o755); err != nil {
				return fail(f.Name, "mkdir", err)
			}
			continue
		}
		if err := unzipFile(f, out); err != nil {
			return fail(f.Name, "write", err)
		}
	}
	log.Debug().Str("archive", archivePath).Int("entries", len(r.File)).Msg("zip extracted")
	return nil
}

func unzipFile(f *zip.File, out string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(out, rc, f.Mode())
}
