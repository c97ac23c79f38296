package datastore

import (
	"path/filepath"
	"testing"
)

type sample struct {
	Energy float64 `json:"energy"`
	Streak int     `json:"streak"`
}

func TestPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	ds, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ds.Add("heartflow:g1", sample{Energy: 0.6, Streak: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var got sample
	ok, err := reopened.Decode("heartflow:g1", &got)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if got.Energy != 0.6 || got.Streak != 2 {
		t.Fatalf("got %+v", got)
	}
	if keys := reopened.Keys(); len(keys) != 1 || keys[0] != "heartflow:g1" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	ds, err := New(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	_ = ds.Close()
	if err := ds.Add("k", 1); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if _, ok := ds.Get("k"); ok {
		t.Fatal("closed store must not return values")
	}
}

func TestMemoryLimit(t *testing.T) {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "state.json"))
	cfg.MaxMemorySize = 16
	ds, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()

	if err := ds.Add("small", 1); err != nil {
		t.Fatalf("small value rejected: %v", err)
	}
	if err := ds.Add("big", "this value is far longer than sixteen bytes"); err == nil {
		t.Fatal("expected memory limit error")
	}
	if _, ok := ds.Get("big"); ok {
		t.Fatal("rejected value must not be stored")
	}
}
