// cardinal-check is a diagnostic tool for inspecting and validating
// Cardinal snapshot files. It streams through the CRD1 binary format,
// checking structural integrity and the CRC64 checksum without loading the
// dataset into memory.
//
// It is the first line of defense when troubleshooting persistence issues
// and can answer questions like:
//
//   - Is the snapshot file corrupted?
//   - How many keys live in each shard?
//   - Which sketch variants and precisions are in use?
//   - What does each key currently estimate?
//
// Usage Examples
// ==============
//
// Basic validation (structure and checksum only):
//
//	cardinal-check -file cardinal.crd
//
// Verbose mode (lists every key with variant, precision, mode and
// estimate):
//
//	cardinal-check -file cardinal.crd -v
//
// Exit Codes
// ==========
//
// 0: the file is valid.
// 1: the file is corrupted or unreadable (checksum mismatch, truncated,
// unexpected opcode).

package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/cardinalkit/cardinal/internal/sketch"
	"github.com/cardinalkit/cardinal/internal/sketch/hll"
	"github.com/cardinalkit/cardinal/internal/sketch/ull"
)

const (
	snapshotMagic   = "CRD1"
	OpCodeShardData = 0xFE
	OpCodeEOF       = 0xFF
)

// CountReader wraps an io.Reader to track the cumulative byte offset, so
// error messages can pinpoint the exact file position of corruption.
type CountReader struct {
	r     io.Reader
	count int64
}

func (cr *CountReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

// ReadByte implements io.ByteReader so single-byte reads through
// bufio.Reader are counted too.
func (cr *CountReader) ReadByte() (byte, error) {
	var buf [1]byte
	n, err := cr.r.Read(buf[:])
	cr.count += int64(n)
	return buf[0], err
}

func main() {
	filePath := flag.String("file", "cardinal.crd", "Path to the snapshot file")
	verbose := flag.Bool("v", false, "Verbose mode (print keys with sketch details)")
	flag.Parse()

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] Cannot open file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	var size int64
	if stat, err := f.Stat(); err == nil {
		size = stat.Size()
	}
	fmt.Printf("[offset 0] Checking Cardinal snapshot %s (%s)\n", *filePath, humanize.Bytes(uint64(size)))

	// Pipeline: File -> CountReader -> Bufio. Every byte read before the
	// stored checksum is also fed to the hasher for verification.
	crcTable := crc64.MakeTable(crc64.ISO)
	hasher := crc64.New(crcTable)
	counter := &CountReader{r: f}
	reader := bufio.NewReader(counter)

	header := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(reader, header); err != nil {
		die(counter.count, "Failed to read header", err)
	}
	if string(header) != snapshotMagic {
		die(counter.count, fmt.Sprintf("Invalid Magic Header: expected '%s', got '%s'", snapshotMagic, header), nil)
	}
	hasher.Write(header)

	lenBuf := make([]byte, 4)
	totalKeys := 0
	totalBytes := uint64(0)
	start := time.Now()
	stats := make(map[string]int)

	for {
		opcode, err := reader.ReadByte()
		if err != nil {
			die(counter.count, "Failed reading Opcode", err)
		}
		hasher.Write([]byte{opcode})

		if opcode == OpCodeEOF {
			break
		}
		if opcode != OpCodeShardData {
			die(counter.count, fmt.Sprintf("Unexpected Opcode: %x", opcode), nil)
		}

		shardIDByte, err := reader.ReadByte()
		if err != nil {
			die(counter.count, "Failed reading Shard ID", err)
		}
		hasher.Write([]byte{shardIDByte})

		if _, err := io.ReadFull(reader, lenBuf); err != nil {
			die(counter.count, "Failed reading key count", err)
		}
		hasher.Write(lenBuf)
		count := binary.LittleEndian.Uint32(lenBuf)

		if count > 0 && *verbose {
			fmt.Printf("[offset %d] Shard %d: %d keys\n", counter.count, int(shardIDByte), count)
		}

		for i := uint32(0); i < count; i++ {
			if _, err := io.ReadFull(reader, lenBuf); err != nil {
				die(counter.count, "Truncated key len", err)
			}
			hasher.Write(lenBuf)
			kLen := binary.LittleEndian.Uint32(lenBuf)

			keyBuf := make([]byte, kLen)
			if _, err := io.ReadFull(reader, keyBuf); err != nil {
				die(counter.count, "Truncated key data", err)
			}
			hasher.Write(keyBuf)

			if _, err := io.ReadFull(reader, lenBuf); err != nil {
				die(counter.count, "Truncated val len", err)
			}
			hasher.Write(lenBuf)
			vLen := binary.LittleEndian.Uint32(lenBuf)

			valBuf := make([]byte, vLen)
			if _, err := io.ReadFull(reader, valBuf); err != nil {
				die(counter.count, "Truncated val data", err)
			}
			hasher.Write(valBuf)

			totalKeys++
			totalBytes += uint64(vLen)

			typeName, details := identifySketch(valBuf)
			stats[typeName]++

			if *verbose {
				fmt.Printf("[offset %d] Key '%s' [%s] (%s, %s)\n",
					counter.count, string(keyBuf), typeName, details, humanize.Bytes(uint64(vLen)))
			}
		}
	}

	calculatedChecksum := hasher.Sum64()

	storedChecksumBytes := make([]byte, 8)
	if _, err := io.ReadFull(reader, storedChecksumBytes); err != nil {
		die(counter.count, "Failed to read checksum", err)
	}
	storedChecksum := binary.LittleEndian.Uint64(storedChecksumBytes)

	if storedChecksum != calculatedChecksum {
		color.Red("[offset %d] Checksum MISMATCH", counter.count)
		fmt.Printf("   File:       %016x\n", storedChecksum)
		fmt.Printf("   Calculated: %016x\n", calculatedChecksum)
		os.Exit(1)
	}

	fmt.Printf("[offset %d] Checksum OK (%016x)\n", counter.count, storedChecksum)

	// Anything after the checksum means the file was appended to or two
	// snapshots were concatenated; either way it is not a valid snapshot.
	if _, err := reader.Peek(1); err == nil {
		color.Red("[offset %d] Trailing data after checksum", counter.count)
		os.Exit(1)
	} else if err != io.EOF {
		fmt.Printf("[warn] Error checking for trailing data: %v\n", err)
	}

	fmt.Println("\nSummary:")
	fmt.Printf("  Process Time: %v\n", time.Since(start))
	fmt.Printf("  Total Keys:   %d\n", totalKeys)
	fmt.Printf("  Sketch Data:  %s\n", humanize.Bytes(totalBytes))
	for t, c := range stats {
		fmt.Printf("    %d\t%s\n", c, t)
	}
	color.Green("Snapshot looks OK")
}

// identifySketch decodes a stored value and describes it. Values that
// carry the sketch magic but fail to decode are reported as corrupt
// without failing the whole check; the checksum verdict covers integrity,
// this is diagnostics.
func identifySketch(data []byte) (string, string) {
	if !sketch.HasValidMagic(data) {
		return "Raw", fmt.Sprintf("len:%d", len(data))
	}

	variant, err := sketch.Sniff(data)
	if err != nil {
		return "Sketch-Unknown", "unrecognized format tag"
	}

	switch variant {
	case sketch.VariantULL:
		u, err := ull.Deserialize(data)
		if err != nil {
			return "ULL-Corrupt", err.Error()
		}
		return "ULL", fmt.Sprintf("p:%d, updates:%d, est:~%d",
			u.Precision(), u.Updates(), int64(u.Estimate()+0.5))
	default:
		h, err := hll.Deserialize(data)
		if err != nil {
			return "HLL-Corrupt", err.Error()
		}
		return "HLL", fmt.Sprintf("p:%d, mode:%s, updates:%d, est:~%d",
			h.Precision(), h.Mode(), h.Updates(), int64(h.Estimate()+0.5))
	}
}

// die prints a fatal error with the current file offset and exits. The
// offset locates the exact byte position of the problem.
func die(offset int64, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "[offset %d] Fatal: %s: %v\n", offset, msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "[offset %d] Fatal: %s\n", offset, msg)
	}
	os.Exit(1)
}
