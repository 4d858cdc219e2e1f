package archive

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// TarGz extracts gzip-compressed tarballs: the stream is decompressed first
// and the tar container read from the result.
type TarGz struct{}

func (TarGz) Extract(archivePath, dest string) error {
	fail := func(entry, op string, err error) error {
		return &Error{Archive: archivePath, Entry: entry, Op: op, Err: err}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fail("", "mkdir", err)
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return fail("", "open", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fail("", "gunzip", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var st stripper
	entries := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail("", "read", err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir, tar.TypeReg, tar.TypeSymlink, tar.TypeLink:
		default:
			// pax global headers and device nodes carry no files and must not
			// decide the top-level directory
			log.Debug().Str("entry", hdr.Name).Str("type", string(hdr.Typeflag)).Msg("skipping special tar entry")
			continue
		}
		entries++
		rel := st.strip(hdr.Name)
		if rel == "" {
			continue
		}
		out, err := target(dest, rel)
		if err != nil {
			return fail(hdr.Name, "resolve", err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(out, 0o755); err != nil {
				return fail(hdr.Name, "mkdir", err)
			}
		case tar.TypeReg:
			if err := writeFile(out, tr, os.FileMode(hdr.Mode)); err != nil {
				return fail(hdr.Name, "write", err)
			}
		case tar.TypeSymlink:
			if err := symlink(dest, out, hdr.Linkname); err != nil {
				return fail(hdr.Name, "symlink", err)
			}
		case tar.TypeLink:
			src, err := target(dest, st.strip(hdr.Linkname))
			if err != nil {
				return fail(hdr.Name, "link", err)
			}
			if err := hardlink(src, out); err != nil {
				return fail(hdr.Name, "link", err)
			}
		}
	}
	if entries == 0 {
		return fail("", "read", ErrEmpty)
	}
	log.Debug().Str("archive", archivePath).Int("entries", entries).Msg("tarball extracted")
	return nil
}

func symlink(dest, out, linkname string) error {
	if filepath.IsAbs(linkname) || !within(dest, filepath.Join(filepath.Dir(out), linkname)) {
		return ErrUnsafePath
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	_ = os.Remove(out)
	return os.Symlink(linkname, out)
}

func hardlink(src, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	_ = os.Remove(out)
	return os.Link(src, out)
}
