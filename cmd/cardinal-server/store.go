// store.go implements the sharded in-memory key-value store and the CRD1
// binary snapshot format. Values are serialized sketches; the store itself
// treats them as opaque bytes, so the same machinery could hold any
// self-describing payload.
//
// Sharding Strategy
// =================
//
// The store partitions keys across 256 independent shards, each with its
// own RWMutex. Two concurrent operations on different keys typically hit
// different shards and proceed in parallel. Keys map to shards by FNV-1a
// hash modulo 256; speed matters here, cryptographic strength does not.
//
// The Binary Format (CRD1)
// ========================
//
// Snapshots use a compact binary layout built for raw loading speed:
//
//	+--------+-----------+-----------+     +-----+----------+
//	| Header | Shard 0   | Shard 1   | ... | EOF | Checksum |
//	+--------+-----------+-----------+     +-----+----------+
//	 4 bytes   variable    variable         1 B    8 bytes
//
// Header: the 4-byte magic "CRD1".
//
// Shard Blocks: each non-empty shard is one block:
//
//	+--------+----------+-------+-------+-----+-------+-------+-----+
//	| OpCode | Shard ID | Count | KLen  | Key | VLen  | Value | ... |
//	+--------+----------+-------+-------+-----+-------+-------+-----+
//	  1 byte   1 byte    4 bytes 4 bytes  var  4 bytes  var
//
//	OpCode 0xFE announces a shard block; lengths are little-endian uint32.
//
// EOF Marker: a single 0xFF byte ends the data section.
//
// Checksum: CRC64 (ISO polynomial) over everything before it, detecting
// torn writes and disk corruption.
//
// Because the shard ID travels with each block, the loader inserts keys
// directly into the destination shard without rehashing, which keeps
// startup fast even with large snapshots.
//
// Snapshots use clone-then-write: each shard is read-locked only long
// enough to copy its pairs into a RAM buffer, then the lock drops before
// any I/O happens. At most one shard is ever blocked by a running save.

package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"hash/fnv"
	"io"
	"sync"
)

const snapshotMagic = "CRD1"

// 256 shards is enough to make lock contention negligible while keeping
// snapshot iteration cheap.
const shardCount = 256

// Opcodes for the snapshot format. Explicit markers let the loader parse
// the stream without trusting the file size.
const (
	OpCodeShardData = 0xFE
	OpCodeEOF       = 0xFF
)

// Shard is one slice of the store with its own lock; locking it does not
// block the other 255.
type Shard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// Store routes keys to their shard.
type Store struct {
	shards [shardCount]*Shard
}

// NewStore creates and initializes the sharded store.
func NewStore() *Store {
	s := &Store{}
	for i := 0; i < shardCount; i++ {
		s.shards[i] = &Shard{data: make(map[string][]byte)}
	}
	return s
}

func (s *Store) getShardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (s *Store) getShard(key string) *Shard {
	return s.shards[s.getShardIndex(key)]
}

// Get retrieves a value. The returned slice is shared with the store and
// must not be mutated; callers that need to modify go through Mutate.
func (s *Store) Get(key string) ([]byte, bool) {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	val, ok := shard.data[key]
	return val, ok
}

// Set stores a value under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.data[key] = value
}

// Delete removes a key and reports whether it existed.
func (s *Store) Delete(key string) bool {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	_, ok := shard.data[key]
	if ok {
		delete(shard.data, key)
	}
	return ok
}

// Exists reports whether a key is present.
func (s *Store) Exists(key string) bool {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	_, ok := shard.data[key]
	return ok
}

// View runs a read-only callback under the shard's read lock. The callback
// receives nil when the key is absent. Zero-copy: the bytes point into the
// store and are only valid for the duration of the callback.
func (s *Store) View(key string, fn func(data []byte) error) error {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	return fn(shard.data[key])
}

// Mutate atomically reads, modifies and writes back a value under the
// shard's write lock. Holding the lock across the whole read-modify-write
// is what prevents concurrent updates to the same key from overwriting
// each other. The callback returns the new value and whether to store it;
// returning false leaves the key untouched, which lets handlers abort on
// type errors without a separate lock dance.
func (s *Store) Mutate(key string, fn func([]byte) ([]byte, bool)) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	newValue, changed := fn(shard.data[key])
	if changed {
		shard.data[key] = newValue
	}
}

// Len returns the total number of keys across all shards.
func (s *Store) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.data)
		shard.mu.RUnlock()
	}
	return total
}

// SaveSnapshotToWriter serializes the entire store in the CRD1 format.
// Shards are copied into a RAM buffer under a brief read lock, then
// written with no locks held, so a slow disk never stalls clients.
func (s *Store) SaveSnapshotToWriter(w io.Writer) error {
	crcTable := crc64.MakeTable(crc64.ISO)
	hasher := crc64.New(crcTable)

	// Every byte that reaches the destination is also hashed, so the
	// checksum needs no second pass over the data.
	multiWriter := io.MultiWriter(w, hasher)
	bw := bufio.NewWriter(multiWriter)

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}

	shardBuf := new(bytes.Buffer)
	lenBuf := make([]byte, 4)

	for i := 0; i < shardCount; i++ {
		shard := s.shards[i]

		shard.mu.RLock()
		count := len(shard.data)
		if count == 0 {
			shard.mu.RUnlock()
			continue
		}

		shardBuf.Reset()
		shardBuf.WriteByte(OpCodeShardData)
		shardBuf.WriteByte(byte(i))

		binary.LittleEndian.PutUint32(lenBuf, uint32(count))
		shardBuf.Write(lenBuf)

		for k, v := range shard.data {
			binary.LittleEndian.PutUint32(lenBuf, uint32(len(k)))
			shardBuf.Write(lenBuf)
			shardBuf.WriteString(k)
			binary.LittleEndian.PutUint32(lenBuf, uint32(len(v)))
			shardBuf.Write(lenBuf)
			shardBuf.Write(v)
		}
		shard.mu.RUnlock()

		if _, err := shardBuf.WriteTo(bw); err != nil {
			return err
		}
	}

	if err := bw.WriteByte(OpCodeEOF); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	// The checksum goes straight to the destination; hashing it too would
	// make verification impossible.
	return binary.Write(w, binary.LittleEndian, hasher.Sum64())
}

// LoadSnapshotFromReader restores the store from a CRD1 stream. The shard
// ID stored in each block places keys directly without rehashing; the
// trailing CRC64 catches any corruption that trust would otherwise miss.
func (s *Store) LoadSnapshotFromReader(r *bufio.Reader) error {
	header := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	if string(header) != snapshotMagic {
		return errors.New("invalid snapshot header")
	}

	crcTable := crc64.MakeTable(crc64.ISO)
	hasher := crc64.New(crcTable)
	hasher.Write(header)

	lenBuf := make([]byte, 4)
	keyScratchBuf := make([]byte, 256)

	for {
		opcodeByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		hasher.Write([]byte{opcodeByte})

		if opcodeByte == OpCodeEOF {
			break
		}
		if opcodeByte != OpCodeShardData {
			return fmt.Errorf("snapshot stream corruption: unexpected opcode %x", opcodeByte)
		}

		shardIDByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		hasher.Write([]byte{shardIDByte})

		shard := s.shards[int(shardIDByte)]

		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return err
		}
		hasher.Write(lenBuf)
		count := binary.LittleEndian.Uint32(lenBuf)

		for i := uint32(0); i < count; i++ {
			if _, err := io.ReadFull(r, lenBuf); err != nil {
				return err
			}
			hasher.Write(lenBuf)
			kLen := binary.LittleEndian.Uint32(lenBuf)

			if uint32(cap(keyScratchBuf)) < kLen {
				keyScratchBuf = make([]byte, kLen)
			}
			keySlice := keyScratchBuf[:kLen]
			if _, err := io.ReadFull(r, keySlice); err != nil {
				return err
			}
			hasher.Write(keySlice)
			key := string(keySlice)

			if _, err := io.ReadFull(r, lenBuf); err != nil {
				return err
			}
			hasher.Write(lenBuf)
			vLen := binary.LittleEndian.Uint32(lenBuf)

			valBuf := make([]byte, vLen)
			if _, err := io.ReadFull(r, valBuf); err != nil {
				return err
			}
			hasher.Write(valBuf)

			shard.data[key] = valBuf
		}
	}

	storedChecksumBytes := make([]byte, 8)
	if _, err := io.ReadFull(r, storedChecksumBytes); err != nil {
		return err
	}

	if binary.LittleEndian.Uint64(storedChecksumBytes) != hasher.Sum64() {
		return errors.New("snapshot corruption: checksum mismatch")
	}

	return nil
}
