package main

import (
	"bufio"
	"bytes"
	"fmt"
	"testing"
)

func TestStoreBasicOperations(t *testing.T) {
	s := NewStore()

	s.Set("k", []byte("v"))
	if got, ok := s.Get("k"); !ok || string(got) != "v" {
		t.Errorf("Get = %q, %v", got, ok)
	}

	if !s.Exists("k") {
		t.Error("Exists false for present key")
	}
	if s.Exists("missing") {
		t.Error("Exists true for missing key")
	}

	if !s.Delete("k") {
		t.Error("Delete of present key reported false")
	}
	if s.Delete("k") {
		t.Error("Delete of absent key reported true")
	}
}

func TestStoreMutate(t *testing.T) {
	s := NewStore()

	t.Run("callback sees nil for missing key", func(t *testing.T) {
		s.Mutate("new", func(data []byte) ([]byte, bool) {
			if data != nil {
				t.Errorf("expected nil, got %q", data)
			}
			return []byte("created"), true
		})
		if got, _ := s.Get("new"); string(got) != "created" {
			t.Errorf("value after create: %q", got)
		}
	})

	t.Run("returning false aborts the write", func(t *testing.T) {
		s.Set("keep", []byte("original"))
		s.Mutate("keep", func(data []byte) ([]byte, bool) {
			return []byte("discarded"), false
		})
		if got, _ := s.Get("keep"); string(got) != "original" {
			t.Errorf("aborted mutate changed value to %q", got)
		}
	})
}

func TestStoreLen(t *testing.T) {
	s := NewStore()
	for i := 0; i < 100; i++ {
		s.Set(fmt.Sprintf("key-%d", i), []byte{byte(i)})
	}
	if got := s.Len(); got != 100 {
		t.Errorf("Len = %d, want 100", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewStore()
	for i := 0; i < 500; i++ {
		src.Set(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)))
	}

	var buf bytes.Buffer
	if err := src.SaveSnapshotToWriter(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := NewStore()
	if err := dst.LoadSnapshotFromReader(bufio.NewReader(&buf)); err != nil {
		t.Fatalf("load: %v", err)
	}

	if dst.Len() != src.Len() {
		t.Fatalf("loaded %d keys, want %d", dst.Len(), src.Len())
	}
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%d", i)
		got, ok := dst.Get(key)
		if !ok {
			t.Fatalf("key %q missing after load", key)
		}
		if want := fmt.Sprintf("value-%d", i); string(got) != want {
			t.Fatalf("key %q = %q, want %q", key, got, want)
		}
	}
}

func TestSnapshotEmptyStore(t *testing.T) {
	var buf bytes.Buffer
	if err := NewStore().SaveSnapshotToWriter(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := NewStore()
	if err := dst.LoadSnapshotFromReader(bufio.NewReader(&buf)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if dst.Len() != 0 {
		t.Errorf("empty snapshot loaded %d keys", dst.Len())
	}
}

func TestSnapshotDetectsCorruption(t *testing.T) {
	src := NewStore()
	for i := 0; i < 50; i++ {
		src.Set(fmt.Sprintf("key-%d", i), []byte("payload"))
	}

	var buf bytes.Buffer
	if err := src.SaveSnapshotToWriter(&buf); err != nil {
		t.Fatal(err)
	}

	t.Run("flipped byte fails the checksum", func(t *testing.T) {
		data := append([]byte(nil), buf.Bytes()...)
		data[len(data)/2] ^= 0xFF

		dst := NewStore()
		if err := dst.LoadSnapshotFromReader(bufio.NewReader(bytes.NewReader(data))); err == nil {
			t.Error("corrupted snapshot loaded without error")
		}
	})

	t.Run("bad magic rejected", func(t *testing.T) {
		data := append([]byte(nil), buf.Bytes()...)
		data[0] = 'X'

		dst := NewStore()
		if err := dst.LoadSnapshotFromReader(bufio.NewReader(bytes.NewReader(data))); err == nil {
			t.Error("bad magic accepted")
		}
	})

	t.Run("truncated file rejected", func(t *testing.T) {
		data := buf.Bytes()[:buf.Len()-4]

		dst := NewStore()
		if err := dst.LoadSnapshotFromReader(bufio.NewReader(bytes.NewReader(data))); err == nil {
			t.Error("truncated snapshot accepted")
		}
	})
}
