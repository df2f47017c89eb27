package exec

// lvoOffsets are the fixed, negative byte offsets a library's jump table
// assigns each vector relative to the library's base pointer — the same
// values exec/libraries.h and dos/dosextens.h bake into every Amiga C
// compiler's _LVOxxx constants. A real handler's "jsr _LVOAllocMem(a6)"
// targets base-198 regardless of what this kernel does; LibraryBase builds
// the jump table at exactly these offsets so that JSR actually lands on a
// redirect into this package's trap table instead of unrelated heap memory.
var lvoOffsets = map[string]map[string]int32{
	"exec.library": {
		"FindTask":      -294,
		"AllocMem":      -198,
		"FreeMem":       -210,
		"PutMsg":        -366,
		"GetMsg":        -372,
		"ReplyMsg":      -378,
		"WaitPort":      -384,
		"CreateMsgPort": -666,
		"DeleteMsgPort": -672,
		"OpenLibrary":   -552,
		"CloseLibrary":  -414,
		"OpenDevice":    -444,
		"CloseDevice":   -450,
		"DoIO":          -456,
		"SendIO":        -462,
		"WaitIO":        -474,
		"CheckIO":       -468,
	},
}
