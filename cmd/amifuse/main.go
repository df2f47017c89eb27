// Command amifuse mounts an Amiga hard-disk image by running its original
// m68k filesystem handler inside an emulated CPU and bridging its AmigaDOS
// packet interface to the host FUSE layer — the cobra-rooted CLI shape
// galago's cmd/galago/main.go uses, retargeted from ARM64 key extraction to
// an AmigaDOS mount (spec.md §6).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reinauer/amifuse/internal/amierr"
	"github.com/reinauer/amifuse/internal/mount"
	"github.com/reinauer/amifuse/internal/trackdisk"
	"github.com/reinauer/amifuse/internal/uitrace"
)

// Exit codes (spec.md §6).
const (
	exitOK             = 0
	exitArgError       = 1
	exitBootstrapError = 2
	exitMountError     = 3
	exitImageError     = 4
)

var cfg mount.Config

func main() {
	root := &cobra.Command{
		Use:   "amifuse",
		Short: "Mount an Amiga hard-disk image via its native filesystem handler",
		Long: `amifuse mounts an Amiga hard-disk image by running the original,
unmodified m68k filesystem handler (PFS3, FFS, ...) inside an m68k CPU
emulator and bridging its AmigaDOS packet interface to the host FUSE layer.

The mount is read-only: opening a file for writing fails with EROFS, and
any CMD_WRITE the handler issues to the virtual disk fails with IOERR_NOCMD.

Example:
  amifuse --driver pfs3aio --image work.hdf --mountpoint /mnt/amiga`,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		RunE:                  runMount,
	}

	root.Flags().StringVar(&cfg.DriverPath, "driver", "", "path to the m68k handler binary (hunk format)")
	root.Flags().StringVar(&cfg.ImagePath, "image", "", "path to the disk image")
	root.Flags().StringVar(&cfg.MountPoint, "mountpoint", "", "host directory to mount at")
	var blockSize int
	root.Flags().IntVar(&blockSize, "block-size", 0, "block size if the image carries no RDB (default 512)")
	root.Flags().StringVar(&cfg.VolumeName, "volname", "", "volume name reported to the host (default AmigaFS)")
	root.Flags().BoolVar(&cfg.Debug, "debug", false, "verbose packet/trap trace")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show disk image geometry without mounting",
		RunE:  runInfo,
	}
	infoCmd.Flags().StringVar(&cfg.ImagePath, "image", "", "path to the disk image")
	infoCmd.Flags().IntVar(&blockSize, "block-size", 0, "block size if the image carries no RDB (default 512)")
	root.AddCommand(infoCmd)

	root.PreRunE = func(cmd *cobra.Command, args []string) error {
		cfg.BlockSize = uint32(blockSize)
		return nil
	}
	infoCmd.PreRunE = root.PreRunE

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func runMount(cmd *cobra.Command, args []string) error {
	if cfg.DriverPath == "" || cfg.ImagePath == "" || cfg.MountPoint == "" {
		return argErr{errors.New("--driver, --image, and --mountpoint are required")}
	}

	m, err := mount.Open(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%s mounted %s at %s\n", uitrace.Header("▶"), cfg.ImagePath, cfg.MountPoint)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.Serve(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "unmounted cleanly")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	if cfg.ImagePath == "" {
		return argErr{errors.New("--image is required")}
	}
	disk, err := trackdisk.Open(cfg.ImagePath, cfg.BlockSize)
	if err != nil {
		return err
	}
	defer disk.Close()

	g := disk.Geometry()
	fmt.Printf("Image:          %s\n", cfg.ImagePath)
	fmt.Printf("Block size:     %d\n", g.BlockSize)
	fmt.Printf("Cylinders:      %d\n", g.Cylinders)
	fmt.Printf("Heads:          %d\n", g.Heads)
	fmt.Printf("Sectors/track:  %d\n", g.SectorsPerTrack)
	fmt.Printf("Total blocks:   %d\n", g.TotalBlocks)
	return nil
}

// argErr marks a CLI usage error so exitCodeFor maps it to exitArgError
// instead of treating it as a bootstrap/mount failure.
type argErr struct{ err error }

func (e argErr) Error() string { return e.err.Error() }
func (e argErr) Unwrap() error { return e.err }

// exitCodeFor maps a returned error to the CLI exit code spec.md §6
// specifies: argument errors, image errors, bootstrap (handler load/boot)
// failures, and FUSE mount failures each get a distinct code so scripts can
// distinguish them without parsing stderr.
func exitCodeFor(err error) int {
	fmt.Fprintln(os.Stderr, uitrace.Error(err.Error()))

	var ae argErr
	var imgErr *amierr.ImageError
	var loadErr *amierr.HandlerLoadError
	var bootErr *amierr.HandlerBootFailed
	switch {
	case errors.As(err, &ae):
		return exitArgError
	case errors.As(err, &imgErr):
		return exitImageError
	case errors.As(err, &loadErr), errors.As(err, &bootErr):
		return exitBootstrapError
	}
	return exitMountError
}
