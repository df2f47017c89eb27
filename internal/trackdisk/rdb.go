package trackdisk

import (
	"encoding/binary"
	"io"
)

// RDB is the subset of a Rigid Disk Block this mounter needs: the block
// size its RigidDiskBlock header declares (rdb_BlockBytes), used to resolve
// the RDB > --block-size > 512 precedence (internal/trackdisk.Open).
// PartitionBlocks and FileSystemHeader blocks are not read.
type RDB struct {
	BlockSize uint32
}

const rdbIdentifier = "RDSK"

// ReadRDB scans the first few blocks of img for an "RDSK" signature (the
// real RDB search only ever needs to check the first handful of blocks;
// AmigaDOS itself searches up to block 15) and decodes the block size
// field. Returns (nil, nil) if no RDB is present — a plain, non-partitioned
// image is a legitimate input.
func ReadRDB(img io.ReaderAt) (*RDB, error) {
	const searchLimit = 16
	const probeSize = 512 // RDB block size is itself fixed at 512 on disk
	buf := make([]byte, probeSize)
	for block := 0; block < searchLimit; block++ {
		n, err := img.ReadAt(buf, int64(block)*probeSize)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if n < 4 || string(buf[:4]) != rdbIdentifier {
			continue
		}
		// struct RigidDiskBlock (devices/hardblocks.h):
		//   rdb_ID, rdb_SummedLongs, rdb_ChkSum, rdb_HostID,
		//   rdb_BlockBytes @ offset 16
		blockBytes := binary.BigEndian.Uint32(buf[16:20])
		if blockBytes == 0 {
			blockBytes = probeSize
		}
		return &RDB{BlockSize: blockBytes}, nil
	}
	return nil, nil
}
