package logstore

import (
	"path/filepath"
	"testing"

	"github.com/sworndisk/sworndisk/pkg/errors"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := store.ReadSnapshot(BucketBVT); !errors.ErrNotFound(err) {
		t.Fatalf("expected NotFound on fresh store, got %v", err)
	}

	tx := store.Begin().PutSnapshot(BucketBVT, []byte("snapshot-v1"))
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	got, err := store.ReadSnapshot(BucketBVT)
	if err != nil {
		t.Fatalf("read snapshot failed: %v", err)
	}
	if string(got) != "snapshot-v1" {
		t.Fatalf("expected snapshot-v1, got %q", got)
	}

	tx2 := store.Begin().PutSnapshot(BucketBVT, []byte("snapshot-v2"))
	if err := tx2.Commit(); err != nil {
		t.Fatalf("second commit failed: %v", err)
	}
	got, err = store.ReadSnapshot(BucketBVT)
	if err != nil {
		t.Fatalf("read snapshot failed: %v", err)
	}
	if string(got) != "snapshot-v2" {
		t.Fatalf("expected snapshot-v2 after replacement, got %q", got)
	}
}

func TestAppendRecordOrderingAndClear(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		tx := store.Begin().AppendRecord(BucketBAL, []byte{byte(i)})
		if err := tx.Commit(); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	records, err := store.ReadRecords(BucketBAL)
	if err != nil {
		t.Fatalf("read records failed: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for i, rec := range records {
		if len(rec) != 1 || rec[0] != byte(i) {
			t.Fatalf("expected records in append order, record %d was %v", i, rec)
		}
	}

	clearTx := store.Begin().ClearBucket(BucketBAL)
	if err := clearTx.Commit(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	records, err = store.ReadRecords(BucketBAL)
	if err != nil {
		t.Fatalf("read records after clear failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records after clear, got %d", len(records))
	}
}

func TestBucketDirectoriesCreated(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir, nil); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	for _, b := range []string{BucketBVT, BucketSEG, BucketBAL} {
		if _, err := filepath.Glob(filepath.Join(dir, b)); err != nil {
			t.Fatalf("bucket dir glob failed: %v", err)
		}
	}
}
