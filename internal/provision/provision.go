// Package provision downloads and unpacks a private Node.js runtime into the
// config directory.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	goruntime "runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remoteclauding/rcboot/internal/archive"
	"github.com/remoteclauding/rcboot/internal/artifact"
	"github.com/remoteclauding/rcboot/internal/metrics"
	"github.com/remoteclauding/rcboot/internal/progress"
	"github.com/remoteclauding/rcboot/internal/runtime"
	"github.com/remoteclauding/rcboot/internal/state"
)

// ErrNoNodeBinary is returned when an extracted archive holds no node
// executable where the layout expects one.
var ErrNoNodeBinary = errors.New("archive has no node binary")

// unknownLengthStep is how often progress is reported when the server sends
// no Content-Length.
const unknownLengthStep = 1 << 20

// Provisioner fetches the runtime archive for the host and installs it as
// the portable runtime.
type Provisioner struct {
	Store     *state.Store
	Locator   *runtime.Locator
	Fetcher   *artifact.Fetcher
	Extractor archive.Extractor
	Reporter  progress.Reporter

	Version string
	BaseURL string
	GOARCH  string
}

// Target returns the archive this provisioner would download.
func (p *Provisioner) Target() artifact.Target {
	arch := p.GOARCH
	if arch == "" {
		arch = goruntime.GOARCH
	}
	return artifact.NewTarget(p.Store.Layout, arch, p.Version, p.BaseURL)
}

// Provision downloads, extracts and records the portable runtime and returns
// the path of its node binary. Every call downloads afresh.
func (p *Provisioner) Provision(ctx context.Context) (string, error) {
	start := time.Now()
	step := progress.For(p.Reporter, progress.StepDownloadNode)
	bin, err := p.provision(ctx, step)
	metrics.ObserveProvision(time.Since(start).Seconds(), err)
	if err != nil {
		step.Error(err.Error())
		return "", err
	}
	step.Done("Node.js installed.")
	return bin, nil
}

func (p *Provisioner) provision(ctx context.Context, step progress.Stepper) (string, error) {
	step.Started("Downloading Node.js...")
	tg := p.Target()
	l := p.Store.Layout
	l.EnsureDir()
	log.Info().Str("url", tg.URL).Str("dest", tg.DestPath).Msg("downloading runtime")

	fetcher := p.Fetcher
	if fetcher == nil {
		fetcher = artifact.NewFetcher(0)
	}
	n, err := fetcher.Fetch(ctx, tg.URL, tg.DestPath, downloadProgress(step))
	metrics.AddDownloaded(n)
	if err != nil {
		discardArchive(tg.DestPath)
		return "", err
	}

	step.Extracting("Extracting Node.js...")
	err = p.install(tg.DestPath, l.NodeDir())
	discardArchive(tg.DestPath)
	if err != nil {
		return "", err
	}

	nodeDir := l.NodeDir()
	if err := p.Store.SaveNodeConfig(state.NodeConfig{Portable: true, NodePath: nodeDir}); err != nil {
		return "", err
	}
	log.Info().Str("node_dir", nodeDir).Int64("bytes", n).Msg("runtime installed")
	return p.Locator.NodeBinary(true), nil
}

// install extracts into a staging directory and swaps it into place, so a
// failed extraction leaves an existing runtime untouched.
func (p *Provisioner) install(archivePath, nodeDir string) error {
	staging := nodeDir + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging dir: %w", err)
	}
	ex := p.Extractor
	if ex == nil {
		ex = archive.ForPlatform(p.Store.Layout.Platform())
	}
	if err := ex.Extract(archivePath, staging); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	bin := p.Store.Layout.Platform().NodeBinary(staging)
	if _, err := os.Stat(bin); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("%w: %s", ErrNoNodeBinary, filepath.Base(bin))
	}
	if err := os.RemoveAll(nodeDir); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("remove old runtime: %w", err)
	}
	if err := os.Rename(staging, nodeDir); err != nil {
		return fmt.Errorf("install runtime: %w", err)
	}
	return nil
}

func downloadProgress(step progress.Stepper) artifact.ProgressFunc {
	last := -1
	var nextMark int64 = unknownLengthStep
	return func(written, total int64) {
		if total > 0 {
			pct := int(written * 100 / total)
			if pct != last {
				last = pct
				step.Progress(fmt.Sprintf("Downloading Node.js... %d%%", pct), progress.Percent(pct))
			}
			return
		}
		if written >= nextMark {
			for nextMark <= written {
				nextMark += unknownLengthStep
			}
			step.Progress(fmt.Sprintf("Downloading Node.js... %d MB", written>>20), nil)
		}
	}
}

func discardArchive(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("file", path).Err(err).Msg("archive not removed")
	}
}
