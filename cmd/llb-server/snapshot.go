// snapshot.go implements the LLB1 binary snapshot format: the point-in-time
// representation of every stored sketch, written during AOF compaction and
// read back as the preamble of a hybrid journal on startup.
//
// The core estimator deliberately has no serialization of its own; this
// file layers the binary encoding on top of the sketch's state accessors.
//
// File Structure
// ==============
//
//	+--------+------------+------------+     +-----+-----------+
//	| "LLB1" | Record 0   | Record 1   | ... | EOF | Checksum  |
//	+--------+------------+------------+     +-----+-----------+
//	 4 bytes   variable     variable          1 B    8 bytes
//
// Each record holds one key:
//
//	+--------+------+-----+---+------+--------+------+------+---------+
//	| OpCode | KLen | Key | P | Mode | Method | ULen | CLen | Payload |
//	+--------+------+-----+---+------+--------+------+------+---------+
//	  1 byte  4 B    var   1B  1 B    1 B      4 B    4 B    CLen B
//
//	OpCode: 0xFE marks a key record; 0xFF marks end of binary data.
//	P:      sketch precision (4..18).
//	Mode:   0 dense, 1 sparse.
//	Method: payload compression, 0 raw or 1 LZ4 block.
//	ULen:   uncompressed payload length; CLen: stored payload length.
//
// A dense payload is the raw register array (2^P bytes); these are highly
// repetitive and compress well, which is why the payload goes through LZ4.
// A sparse payload is a uint32 hash count followed by the raw 8-byte
// hashes. All integers are little-endian.
//
// The trailing checksum is a CRC64 (ISO polynomial) over every preceding
// byte, detecting truncation and disk corruption. The explicit EOF marker
// lets text commands follow the binary section in hybrid journals.

package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"

	"github.com/pierrec/lz4/v4"

	"llb.lopezb.com/internal/pds/loglogbeta"
)

const snapshotMagic = "LLB1"

const (
	opCodeRecord = 0xFE
	opCodeEOF    = 0xFF
)

const (
	modeDense  = 0
	modeSparse = 1
)

const (
	methodRaw = 0
	methodLZ4 = 1
)

var errSnapshotChecksum = errors.New("snapshot corruption: checksum mismatch")

// compressPayload LZ4-compresses src, falling back to a raw copy when the
// data is incompressible (CompressBlock reports zero bytes in that case).
func compressPayload(src []byte) (method uint8, out []byte, err error) {
	if len(src) == 0 {
		return methodRaw, nil, nil
	}

	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(src) {
		return methodRaw, src, nil
	}
	return methodLZ4, dst[:n], nil
}

// decompressPayload reverses compressPayload given the stored method byte
// and the recorded uncompressed length.
func decompressPayload(method uint8, src []byte, uncompressedLen int) ([]byte, error) {
	switch method {
	case methodRaw:
		if len(src) != uncompressedLen {
			return nil, fmt.Errorf("raw payload length %d, header says %d", len(src), uncompressedLen)
		}
		return src, nil
	case methodLZ4:
		dst := make([]byte, uncompressedLen)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != uncompressedLen {
			return nil, fmt.Errorf("lz4 decompress: expected %d bytes, got %d", uncompressedLen, n)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("unknown compression method %d", method)
	}
}

// encodeSketchPayload flattens the sketch's active representation.
func encodeSketchPayload(sk *loglogbeta.Sketch) (mode uint8, payload []byte) {
	if sk.SparseMode() {
		hashes := sk.SparseHashes()
		payload = make([]byte, 4+8*len(hashes))
		binary.LittleEndian.PutUint32(payload, uint32(len(hashes)))
		for i, x := range hashes {
			binary.LittleEndian.PutUint64(payload[4+8*i:], x)
		}
		return modeSparse, payload
	}
	return modeDense, sk.Registers()
}

// decodeSketchPayload rebuilds a sketch from a record's decoded payload.
func decodeSketchPayload(precision, mode uint8, payload []byte) (*loglogbeta.Sketch, error) {
	switch mode {
	case modeDense:
		return loglogbeta.RestoreDense(precision, payload)
	case modeSparse:
		if len(payload) < 4 {
			return nil, errors.New("sparse payload truncated")
		}
		count := binary.LittleEndian.Uint32(payload)
		if len(payload) != 4+int(count)*8 {
			return nil, fmt.Errorf("sparse payload length %d, header says %d hashes", len(payload), count)
		}
		hashes := make([]uint64, count)
		for i := range hashes {
			hashes[i] = binary.LittleEndian.Uint64(payload[4+8*i:])
		}
		return loglogbeta.RestoreSparse(precision, hashes)
	default:
		return nil, fmt.Errorf("unknown sketch mode %d", mode)
	}
}

// appendRecord encodes one key record into buf.
func appendRecord(buf *bytes.Buffer, key string, sk *loglogbeta.Sketch) error {
	mode, payload := encodeSketchPayload(sk)
	method, stored, err := compressPayload(payload)
	if err != nil {
		return err
	}

	var lenBuf [4]byte

	buf.WriteByte(opCodeRecord)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
	buf.Write(lenBuf[:])
	buf.WriteString(key)
	buf.WriteByte(sk.Precision())
	buf.WriteByte(mode)
	buf.WriteByte(method)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(stored)))
	buf.Write(lenBuf[:])
	buf.Write(stored)

	return nil
}

// SaveSnapshotToWriter streams every stored sketch to w in LLB1 format.
//
// The walk uses a clone-then-write strategy: each shard's read lock is
// held only while its records are encoded into a RAM buffer, never across
// the actual I/O. The server stays responsive on the other 255 shards
// throughout. Every written byte is simultaneously fed to the CRC64
// hasher via a MultiWriter, so no second pass is needed for the checksum.
func (s *Store) SaveSnapshotToWriter(w io.Writer) error {
	hasher := crc64.New(crc64.MakeTable(crc64.ISO))
	bw := bufio.NewWriter(io.MultiWriter(w, hasher))

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}

	shardBuf := new(bytes.Buffer)
	for _, shard := range s.shards {
		shard.mu.RLock()
		shardBuf.Reset()
		var encErr error
		for key, sk := range shard.data {
			if encErr = appendRecord(shardBuf, key, sk); encErr != nil {
				break
			}
		}
		shard.mu.RUnlock()

		if encErr != nil {
			return encErr
		}
		if _, err := shardBuf.WriteTo(bw); err != nil {
			return err
		}
	}

	if err := bw.WriteByte(opCodeEOF); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	// The checksum goes straight to the destination: it must not hash
	// itself.
	return binary.Write(w, binary.LittleEndian, hasher.Sum64())
}

// LoadSnapshotFromReader restores the key space from an LLB1 preamble. It
// consumes exactly the binary section (magic, records, EOF marker,
// checksum) and stops, leaving r positioned at the first byte of any text
// tail, ready for RESP replay.
func (s *Store) LoadSnapshotFromReader(r *bufio.Reader) error {
	hasher := crc64.New(crc64.MakeTable(crc64.ISO))

	readFull := func(buf []byte) error {
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		hasher.Write(buf)
		return nil
	}

	magic := make([]byte, len(snapshotMagic))
	if err := readFull(magic); err != nil {
		return err
	}
	if string(magic) != snapshotMagic {
		return errors.New("invalid snapshot header")
	}

	var (
		opBuf  [1]byte
		hdrBuf [4]byte
	)

	for {
		if err := readFull(opBuf[:]); err != nil {
			return err
		}
		if opBuf[0] == opCodeEOF {
			break
		}
		if opBuf[0] != opCodeRecord {
			return fmt.Errorf("snapshot stream corruption: unexpected opcode %#x", opBuf[0])
		}

		if err := readFull(hdrBuf[:]); err != nil {
			return err
		}
		keyBuf := make([]byte, binary.LittleEndian.Uint32(hdrBuf[:]))
		if err := readFull(keyBuf); err != nil {
			return err
		}

		var meta [3]byte // precision, mode, method
		if err := readFull(meta[:]); err != nil {
			return err
		}

		if err := readFull(hdrBuf[:]); err != nil {
			return err
		}
		uncompressedLen := int(binary.LittleEndian.Uint32(hdrBuf[:]))

		if err := readFull(hdrBuf[:]); err != nil {
			return err
		}
		stored := make([]byte, binary.LittleEndian.Uint32(hdrBuf[:]))
		if err := readFull(stored); err != nil {
			return err
		}

		payload, err := decompressPayload(meta[2], stored, uncompressedLen)
		if err != nil {
			return fmt.Errorf("key %q: %w", keyBuf, err)
		}
		sk, err := decodeSketchPayload(meta[0], meta[1], payload)
		if err != nil {
			return fmt.Errorf("key %q: %w", keyBuf, err)
		}

		s.Set(string(keyBuf), sk)
	}

	// The stored checksum covers everything read so far; compute before
	// consuming it.
	want := hasher.Sum64()

	var checksumBuf [8]byte
	if _, err := io.ReadFull(r, checksumBuf[:]); err != nil {
		return err
	}
	if binary.LittleEndian.Uint64(checksumBuf[:]) != want {
		return errSnapshotChecksum
	}

	return nil
}
