package amierr

import (
	"syscall"
	"testing"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		code int32
		want syscall.Errno
	}{
		{202, syscall.EBUSY},
		{203, syscall.EEXIST},
		{204, syscall.ENOENT},
		{205, syscall.ENOENT},
		{213, syscall.EACCES},
		{214, syscall.EROFS},
		{215, syscall.EACCES},
		{216, syscall.EINVAL},
		{220, syscall.EINVAL},
		{226, syscall.EXDEV},
		{9999, syscall.EIO}, // unknown code conservatively maps to EIO
	}
	for _, c := range cases {
		if got := Errno(c.code); got != c.want {
			t.Errorf("Errno(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestErrnoForLookupObjectWrongType(t *testing.T) {
	if got := ErrnoForLookup(ObjectWrongType, true); got != syscall.ENOTDIR {
		t.Errorf("ErrnoForLookup(wrongtype, wantDir=true) = %v, want ENOTDIR", got)
	}
	if got := ErrnoForLookup(ObjectWrongType, false); got != syscall.EISDIR {
		t.Errorf("ErrnoForLookup(wrongtype, wantDir=false) = %v, want EISDIR", got)
	}
}

func TestErrnoForLookupFallsThrough(t *testing.T) {
	if got := ErrnoForLookup(205, true); got != syscall.ENOENT {
		t.Errorf("ErrnoForLookup(205, true) = %v, want ENOENT", got)
	}
}

func TestNewPacketErrorResolvesErrno(t *testing.T) {
	err := NewPacketError(8, 205)
	if err.Errno != syscall.ENOENT {
		t.Errorf("NewPacketError errno = %v, want ENOENT", err.Errno)
	}
	if err.Action != 8 || err.Code != 205 {
		t.Errorf("NewPacketError fields = %+v", err)
	}
}

func TestNewLookupErrorUsesContext(t *testing.T) {
	err := NewLookupError(8, ObjectWrongType, true)
	if err.Errno != syscall.ENOTDIR {
		t.Errorf("NewLookupError errno = %v, want ENOTDIR", err.Errno)
	}
}
