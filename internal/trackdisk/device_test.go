package trackdisk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/reinauer/amifuse/internal/amierr"
)

func writeTempImage(t *testing.T, size int, fill byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "image.hdf")
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = fill
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestOpenDefaultsTo512WithoutRDB(t *testing.T) {
	path := writeTempImage(t, 512*100, 0xAA)
	d, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if g := d.Geometry(); g.BlockSize != 512 {
		t.Errorf("BlockSize = %d, want 512", g.BlockSize)
	}
}

func TestOpenHonorsCLIBlockSizeWithoutRDB(t *testing.T) {
	path := writeTempImage(t, 1024*100, 0xAA)
	d, err := Open(path, 1024)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if g := d.Geometry(); g.BlockSize != 1024 {
		t.Errorf("BlockSize = %d, want 1024", g.BlockSize)
	}
}

func TestOpenRDBTakesPrecedenceOverCLI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.hdf")
	buf := make([]byte, 512*100)
	copy(buf, "RDSK")
	buf[16], buf[17], buf[18], buf[19] = 0, 0, 2, 0 // rdb_BlockBytes = 512
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, err := Open(path, 2048) // CLI says 2048, RDB says 512: RDB wins
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if g := d.Geometry(); g.BlockSize != 512 {
		t.Errorf("BlockSize = %d, want 512 (RDB should take precedence over CLI)", g.BlockSize)
	}
}

func TestDoReadWithinBounds(t *testing.T) {
	path := writeTempImage(t, 512*10, 0x7A)
	d, err := Open(path, 512)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	result, err := d.Do(IORequest{Command: CmdRead, Offset: 0, Length: 16})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result.Error != IOErrSuccess {
		t.Errorf("Error = %d, want IOErrSuccess", result.Error)
	}
	if result.Actual != 16 {
		t.Errorf("Actual = %d, want 16", result.Actual)
	}
	for i, b := range result.Data {
		if b != 0x7A {
			t.Fatalf("Data[%d] = 0x%x, want 0x7A", i, b)
		}
	}
}

func TestDoReadPastEndIsBadLen(t *testing.T) {
	path := writeTempImage(t, 512, 0)
	d, err := Open(path, 512)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	result, err := d.Do(IORequest{Command: CmdRead, Offset: 1000, Length: 16})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result.Error != IOErrBadLen {
		t.Errorf("Error = %d, want IOErrBadLen", result.Error)
	}
}

func TestDoWriteIsProtected(t *testing.T) {
	path := writeTempImage(t, 512, 0)
	d, err := Open(path, 512)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	result, err := d.Do(IORequest{Command: CmdWrite, Offset: 0, Length: 16})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result.Error != IOErrNoCmd {
		t.Errorf("Error = %d, want IOErrNoCmd (read-only mount)", result.Error)
	}
}

func TestDoUnmodeledCommandIsProtocolViolation(t *testing.T) {
	path := writeTempImage(t, 512, 0)
	d, err := Open(path, 512)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	_, err = d.Do(IORequest{Command: 0xFFFF})
	var pv *amierr.ProtocolViolation
	if err == nil {
		t.Fatal("expected ProtocolViolation for unmodeled command")
	}
	if pv2, ok := err.(*amierr.ProtocolViolation); ok {
		pv = pv2
	}
	if pv == nil {
		t.Fatalf("expected *amierr.ProtocolViolation, got %T: %v", err, err)
	}
}

func TestDoGetGeometry(t *testing.T) {
	path := writeTempImage(t, 512*200, 0)
	d, err := Open(path, 512)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	result, err := d.Do(IORequest{Command: TDGetGeometry})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result.Error != IOErrSuccess {
		t.Errorf("Error = %d, want IOErrSuccess", result.Error)
	}
	if len(result.Data) != 32 {
		t.Errorf("geometry buffer length = %d, want 32", len(result.Data))
	}
}
