// Package artifact computes where the Node.js distribution for the host comes
// from and streams it to disk.
package artifact

import (
	"fmt"
	"strings"

	"github.com/remoteclauding/rcboot/internal/paths"
	"github.com/remoteclauding/rcboot/internal/platform"
)

// DefaultBaseURL is the official Node.js distribution root.
const DefaultBaseURL = "https://nodejs.org/dist"

// DefaultNodeVersion is the runtime provisioned when none is configured.
const DefaultNodeVersion = "v22.14.0"

// Target is one downloadable archive and where it is staged locally.
type Target struct {
	URL      string
	FileName string
	DestPath string
}

// NewTarget computes the archive for the layout's platform and goarch.
func NewTarget(l paths.Layout, goarch, version, baseURL string) Target {
	p := l.Platform()
	if version == "" {
		version = DefaultNodeVersion
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	name := FileName(p, goarch, version)
	return Target{
		URL:      fmt.Sprintf("%s/%s/%s", strings.TrimRight(baseURL, "/"), version, name),
		FileName: name,
		DestPath: l.ArchivePath(name),
	}
}

// FileName returns node-<version>-<os>-<arch>.<ext>.
func FileName(p platform.Platform, goarch, version string) string {
	return fmt.Sprintf("node-%s-%s-%s.%s", version, p.DistOS(), platform.DistArch(goarch), p.ArchiveExt())
}
