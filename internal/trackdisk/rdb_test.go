package trackdisk

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestReadRDBFindsSignature(t *testing.T) {
	block := make([]byte, 512)
	copy(block, rdbIdentifier)
	binary.BigEndian.PutUint32(block[16:20], 1024)

	img := bytes.NewReader(block)
	rdb, err := ReadRDB(img)
	if err != nil {
		t.Fatalf("ReadRDB: %v", err)
	}
	if rdb == nil {
		t.Fatal("expected RDB, got nil")
	}
	if rdb.BlockSize != 1024 {
		t.Errorf("BlockSize = %d, want 1024", rdb.BlockSize)
	}
}

func TestReadRDBAbsentReturnsNil(t *testing.T) {
	img := bytes.NewReader(make([]byte, 512*4))
	rdb, err := ReadRDB(img)
	if err != nil {
		t.Fatalf("ReadRDB: %v", err)
	}
	if rdb != nil {
		t.Fatalf("expected no RDB, got %+v", rdb)
	}
}

func TestReadRDBSearchesLaterBlocks(t *testing.T) {
	buf := make([]byte, 512*5)
	offset := 512 * 3
	copy(buf[offset:], rdbIdentifier)
	binary.BigEndian.PutUint32(buf[offset+16:offset+20], 512)

	rdb, err := ReadRDB(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("ReadRDB: %v", err)
	}
	if rdb == nil {
		t.Fatal("expected RDB found at block 3")
	}
}
