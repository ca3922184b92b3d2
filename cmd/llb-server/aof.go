// aof.go is the low-level file handle wrapper for the append-only
// journal: buffered writes behind a mutex so any request goroutine can
// append safely. What the bytes mean is decided elsewhere (persistence.go
// encodes commands, snapshot.go the binary preamble); this layer only
// moves them toward the disk.

package main

import (
	"bufio"
	"os"
	"sync"
)

type AOF struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

func NewAOF(path string) (*AOF, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, err
	}

	return &AOF{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Write appends data to the in-memory buffer. The buffer drains to the OS
// either when full or on the next Fsync tick.
func (aof *AOF) Write(data []byte) error {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	_, err := aof.writer.Write(data)
	return err
}

// Fsync flushes the buffer to the OS and forces the OS to commit to the
// physical disk. This call backs the server's "at most one second of
// data loss" durability guarantee.
func (aof *AOF) Fsync() error {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	if err := aof.writer.Flush(); err != nil {
		return err
	}
	return aof.file.Sync()
}

// Size returns the current journal file size.
func (aof *AOF) Size() (int64, error) {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	stat, err := aof.file.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func (aof *AOF) Close() error {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	if err := aof.writer.Flush(); err != nil {
		return err
	}
	return aof.file.Close()
}
