// Package mount wires the CPU arena, the loaded handler, the virtual
// trackdisk device, the packet bridge, the lock/inode cache, and the FUSE
// adapter into one running mount, the way perkeep's cmd/pk-mount wires a
// blob.Fetcher into a *fs.CamliFileSystem and calls fuse.Mount/fusefs.Serve
// (pkg/fs, cmd/pk-mount/pkmount.go) — generalized here to an AmigaDOS
// handler instead of a content-addressed store.
package mount

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/reinauer/amifuse/internal/bootstrap"
	"github.com/reinauer/amifuse/internal/bridge"
	execkernel "github.com/reinauer/amifuse/internal/exec"
	"github.com/reinauer/amifuse/internal/fuseadapter"
	"github.com/reinauer/amifuse/internal/invcache"
	"github.com/reinauer/amifuse/internal/memory"
	"github.com/reinauer/amifuse/internal/mlog"
	"github.com/reinauer/amifuse/internal/trackdisk"
)

// Config is the complete set of parameters the CLI (cmd/amifuse) collects
// before opening a mount (spec.md §6).
type Config struct {
	DriverPath string
	ImagePath  string
	MountPoint string
	BlockSize  uint32 // 0 lets trackdisk.Open fall back to RDB/512
	VolumeName string
	Debug      bool
}

// Mount is one running instance: the booted handler, its backing image, and
// the live FUSE connection.
type Mount struct {
	log        *mlog.Logger
	mem        *memory.Arena
	disk       *trackdisk.Device
	cache      *invcache.Cache
	conn       *fuse.Conn
	fsys       *fuseadapter.FS
	mountPoint string
}

// Open loads driver at cfg.DriverPath, boots it against cfg.ImagePath, and
// mounts the resulting filesystem at cfg.MountPoint. On any failure prior to
// a successful fuse.Mount, all partially-acquired resources (disk file,
// arena) are released before returning.
func Open(cfg Config) (*Mount, error) {
	log := mlog.New(cfg.Debug).WithSession(uuid.New().String())
	log.Info("opening mount", zap.String("image", cfg.ImagePath), zap.String("driver", cfg.DriverPath))

	disk, err := trackdisk.Open(cfg.ImagePath, cfg.BlockSize)
	if err != nil {
		return nil, err
	}

	mem, err := memory.New()
	if err != nil {
		disk.Close()
		return nil, err
	}

	handler, err := bootstrap.Load(mem, cfg.DriverPath)
	if err != nil {
		mem.Close()
		disk.Close()
		return nil, err
	}

	k := execkernel.NewKernel(mem, log)
	execkernel.RegisterExecVectors(k)
	execkernel.RegisterDeviceVectors(k, disk)
	if err := k.Install(mem.Engine()); err != nil {
		mem.Close()
		disk.Close()
		return nil, err
	}

	port, rootLock, err := bootstrap.Boot(mem, k, handler)
	if err != nil {
		mem.Close()
		disk.Close()
		return nil, err
	}

	br := bridge.New(mem, k, disk, log, port)
	cache := invcache.New(br, rootLock)
	fsys := fuseadapter.New(cache, disk.Geometry())

	conn, err := fuse.Mount(
		cfg.MountPoint,
		fuse.FSName("amifuse"),
		fuse.Subtype("amifuse"),
		fuse.VolumeName(volumeName(cfg)),
		fuse.ReadOnly(),
	)
	if err != nil {
		mem.Close()
		disk.Close()
		return nil, err
	}

	return &Mount{
		log:        log,
		mem:        mem,
		disk:       disk,
		cache:      cache,
		conn:       conn,
		fsys:       fsys,
		mountPoint: cfg.MountPoint,
	}, nil
}

func volumeName(cfg Config) string {
	if cfg.VolumeName != "" {
		return cfg.VolumeName
	}
	return "AmigaFS"
}

// Serve blocks until the FUSE connection closes or ctx is cancelled. On
// cancellation it unmounts (spec.md §5 "Cancellation": stop accepting new
// requests, flush open handles via END packets, release the root lock, exit),
// which causes fusefs.Serve to return.
func (m *Mount) Serve(ctx context.Context) error {
	defer m.disk.Close()

	g, gctx := errgroup.WithContext(ctx)
	serveDone := make(chan struct{})
	g.Go(func() error {
		defer close(serveDone)
		return fusefs.Serve(m.conn, m.fsys)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return unmount(m.mountPoint)
		case <-serveDone:
			return nil
		}
	})

	err := g.Wait()

	if cerr := m.cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	<-m.conn.Ready
	if m.conn.MountError != nil && err == nil {
		err = m.conn.MountError
	}
	return err
}

// unmount requests the kernel detach the FUSE mount, the same fusermount/
// diskutil fallback perkeep's pkg/fs.Unmount uses (its Serve loop exits once
// the kernel closes the connection out from under it).
func unmount(point string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("diskutil", "umount", "force", point).Run()
	case "linux":
		if err := fuse.Unmount(point); err == nil {
			return nil
		}
		return exec.Command("fusermount", "-u", point).Run()
	default:
		return errors.New("amifuse: unmount unimplemented on " + runtime.GOOS)
	}
}

// ShutdownGrace bounds how long a cancelled Serve is given to drain before a
// caller should consider the process stuck (spec.md §5).
const ShutdownGrace = 2 * time.Second
