package vramarray

import "unsafe"

// byteViewOf reinterprets a slice of T as its raw bytes, for transfer APIs
// that move exactly sizeof(T) between host and device without an
// intermediate copy. T must be the same fixed-size, trivially-copyable
// element type the container was built for.
func byteViewOf[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), size*len(s))
}
