package vramarray

import "sync"

// paddedMutex is a sync.Mutex padded to an assumed 64-byte cache line, one
// per virtual device, so that two goroutines locking different virtual
// devices never contend over the same cache line.
type paddedMutex struct {
	sync.Mutex
	_ [64 - 8]byte // sync.Mutex is two int32 fields on all supported platforms
}
