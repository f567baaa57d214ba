package decoder

import "unsafe"

// tokenBytes reinterprets a Token slice as its raw bytes. Layout
// dependent; only feeds the lattice fingerprint, never persisted.
func tokenBytes(toks []Token) []byte {
	if len(toks) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&toks[0])), len(toks)*int(unsafe.Sizeof(toks[0])))
}

// linkBytes reinterprets a LatLink slice as its raw bytes.
func linkBytes(links []LatLink) []byte {
	if len(links) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&links[0])), len(links)*int(unsafe.Sizeof(links[0])))
}

// i32Bytes reinterprets an int32 slice as its raw bytes.
func i32Bytes(v []int32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}
