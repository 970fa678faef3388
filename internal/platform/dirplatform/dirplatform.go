// Package dirplatform is a filesystem-backed download platform.
//
// A "remote" directory holds one compressed tar archive per delivery
// unit plus a checksum index, as written by the packager. Downloading a
// unit verifies the archive digest and extracts it into <device>/<unit>.
// The unit's local path is <device>/<unit>/<assets root>.
//
// An optional network permission step parks transfers until the Permit
// callback allows them, standing in for a metered-network prompt.
package dirplatform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/packdelivery/internal/archive"
	"github.com/roach88/packdelivery/internal/platform"
)

// Config configures a Platform.
type Config struct {
	// Remote is the directory holding archives and the checksum index.
	Remote string

	// Device is the directory units are extracted into.
	Device string

	// AssetsRoot is the bundle directory inside each unit.
	AssetsRoot string

	// RequirePermission parks transfers in WaitingForNetworkPermission until
	// permission is granted.
	RequirePermission bool

	// Permit answers permission requests. Nil denies.
	Permit func(ctx context.Context) (bool, error)

	Logger *slog.Logger
}

type job struct {
	unit  string
	entry archive.Entry
	sink  platform.Sink
}

// Platform implements platform.Platform over two directories.
type Platform struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	permitted bool
	parked    []job

	wg sync.WaitGroup
}

// New creates a platform. The remote directory must exist; the device
// directory is created.
func New(cfg Config) (*Platform, error) {
	info, err := os.Stat(cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("remote directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("remote %s is not a directory", cfg.Remote)
	}
	if err := os.MkdirAll(cfg.Device, 0o755); err != nil {
		return nil, fmt.Errorf("device directory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Platform{cfg: cfg, logger: logger}, nil
}

// RequestDownload implements platform.Platform. Transfers run in the
// background and are not cancelled by ctx.
func (p *Platform) RequestDownload(_ context.Context, units []string, sink platform.Sink) error {
	sums, err := archive.LoadChecksums(p.cfg.Remote)
	if err != nil {
		return err
	}

	for _, unit := range units {
		entry, ok := sums.Units[unit]
		if !ok {
			sink(platform.StatusEvent{Unit: unit, Status: platform.StatusUnavailable})
			continue
		}
		sink(platform.StatusEvent{Unit: unit, Status: platform.StatusPending, TotalBytes: entry.Size})

		j := job{unit: unit, entry: entry, sink: sink}

		p.mu.Lock()
		park := p.cfg.RequirePermission && !p.permitted
		if park {
			p.parked = append(p.parked, j)
		}
		p.mu.Unlock()

		if park {
			sink(platform.StatusEvent{Unit: unit, Status: platform.StatusWaitingForNetworkPermission})
			continue
		}
		p.start(j)
	}
	return nil
}

// LocalPathFor implements platform.Platform.
func (p *Platform) LocalPathFor(unit string) (string, bool) {
	dir := filepath.Join(p.cfg.Device, unit, filepath.FromSlash(p.cfg.AssetsRoot))
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

// RequestNetworkPermission implements platform.Platform. A grant resumes
// every parked transfer; a denial drops them.
func (p *Platform) RequestNetworkPermission(ctx context.Context) (bool, error) {
	granted := false
	var err error
	if p.cfg.Permit != nil {
		granted, err = p.cfg.Permit(ctx)
	}

	p.mu.Lock()
	parked := p.parked
	p.parked = nil
	if err == nil && granted {
		p.permitted = true
	}
	p.mu.Unlock()

	if err != nil || !granted {
		return false, err
	}
	for _, j := range parked {
		p.start(j)
	}
	return true, nil
}

// Wait blocks until every started transfer has finished.
func (p *Platform) Wait() {
	p.wg.Wait()
}

func (p *Platform) start(j job) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.transfer(j); err != nil {
			p.logger.Warn("unit transfer failed", "unit", j.unit, "error", err)
			j.sink(platform.StatusEvent{Unit: j.unit, Status: platform.StatusFailed, Err: err})
			return
		}
		j.sink(platform.StatusEvent{Unit: j.unit, Status: platform.StatusCompleted, TotalBytes: j.entry.Size, BytesDownloaded: j.entry.Size})
	}()
}

func (p *Platform) transfer(j job) error {
	src := filepath.Join(p.cfg.Remote, j.entry.Archive)
	j.sink(platform.StatusEvent{Unit: j.unit, Status: platform.StatusDownloading, TotalBytes: j.entry.Size})

	digest, size, err := archive.DigestFile(src)
	if err != nil {
		return err
	}
	if digest != j.entry.BLAKE3 {
		return fmt.Errorf("archive %s digest mismatch: got %s, index has %s", j.entry.Archive, digest, j.entry.BLAKE3)
	}

	staging := filepath.Join(p.cfg.Device, "."+j.unit+".partial")
	if err := os.RemoveAll(staging); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	err = archive.Extract(f, staging, func(done int64) {
		j.sink(platform.StatusEvent{Unit: j.unit, Status: platform.StatusTransferring, BytesDownloaded: done, TotalBytes: size})
	})
	if err != nil {
		os.RemoveAll(staging)
		return err
	}

	final := filepath.Join(p.cfg.Device, j.unit)
	if err := os.RemoveAll(final); err != nil {
		return err
	}
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("install unit %s: %w", j.unit, err)
	}
	p.logger.Debug("unit installed", "unit", j.unit, "path", final, "bytes", size)
	return nil
}

var _ platform.Platform = (*Platform)(nil)
