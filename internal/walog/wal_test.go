package walog

import (
	"os"
	"testing"
)

// readAllForTest decodes every record in the wal file, for test assertions
// only — this is not a recovery replayer (that is out of scope).
func readAllForTest(t *testing.T, path string) []Record {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading wal file: %v", err)
	}
	var records []Record
	for len(data) > 0 {
		rec, n, err := decodeRecord(data)
		if err != nil {
			t.Fatalf("decoding wal record: %v", err)
		}
		records = append(records, rec)
		data = data[n:]
	}
	return records
}

func TestAppendAndFlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, DefaultFlushThreshold, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := m.Begin(1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	lsn, err := m.Update(1, 5, 10, []byte{1, 2, 3}, []byte{4, 5, 6})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if lsn != 1 {
		t.Fatalf("expected first LSN to be 1, got %d", lsn)
	}
	if err := m.Commit(1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readAllForTest(t, dir+"/"+WalDirName+"/"+WalFileName)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Kind != KindBegin || records[1].Kind != KindUpdate || records[2].Kind != KindCommit {
		t.Fatalf("unexpected record kinds: %v %v %v", records[0].Kind, records[1].Kind, records[2].Kind)
	}
	if records[1].LSN != 1 || records[1].Page != 5 || records[1].Offset != 10 {
		t.Fatalf("unexpected update record: %+v", records[1])
	}
}

func TestLSNsStrictlyIncrease(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, DefaultFlushThreshold, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	var last uint64
	for i := 0; i < 100; i++ {
		lsn, err := m.Update(1, uint64(i), 0, []byte{0}, []byte{1})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if lsn <= last {
			t.Fatalf("LSN did not strictly increase: %d after %d", lsn, last)
		}
		last = lsn
	}
}

func TestFlushOnThreshold(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 32, nil) // tiny threshold forces an early flush
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	for i := 0; i < 10; i++ {
		if _, err := m.Update(1, uint64(i), 0, []byte{0}, []byte{1}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	info, err := os.Stat(dir + "/" + WalDirName + "/" + WalFileName)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected threshold-triggered flush to have written bytes to disk")
	}
}
