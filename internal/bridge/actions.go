package bridge

// dos.library packet action codes (dos/dos.h), the minimum set spec.md §4.5
// requires plus ACTION_SEEK (the Open Question resolved in SPEC_FULL.md
// §4.5 in favor of true random access instead of linearizing reads).
// internal/invcache is the only caller that issues these, via Bridge.Send;
// there is no action-specific bridge-side pre/post-processing to register
// beyond what Send already does generically (build the packet, post it,
// drive the CPU, decode the reply), since write support is a declared
// Non-goal and no FUSE operation ever constructs an ACTION_WRITE packet —
// the trackdisk layer already rejects CMD_WRITE (internal/trackdisk.Device.Do).
const (
	ActionLocateObject  = 8
	ActionFreeLock      = 15
	ActionCopyDir       = 19
	ActionExamineObject = 23
	ActionExamineNext   = 24
	ActionRead          = 82
	ActionWrite         = 87
	ActionFindInput     = 1005
	ActionEnd           = 1007
	ActionSeek          = 1008
	ActionSameLock      = 40
	ActionParent        = 29
)
