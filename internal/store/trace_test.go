package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-123"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	entries := []TraceEntry{
		{Evaluations: 1, Loss: 14.2, Timestamp: time.Now()},
		{Evaluations: 10, Loss: 3.8, Timestamp: time.Now()},
		{Evaluations: 20, Loss: 0.6, Timestamp: time.Now(), Data: []float64{1, 2, 3}},
		{Evaluations: 30, Loss: 0.4, Timestamp: time.Now()},
	}

	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	// Verify file exists
	tracePath := filepath.Join(tmpDir, "jobs", jobID, "trace.jsonl")
	if _, err := os.Stat(tracePath); os.IsNotExist(err) {
		t.Fatalf("Trace file not created: %s", tracePath)
	}

	// Read entries back
	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	readEntries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}

	if len(readEntries) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(readEntries))
	}

	for i, entry := range readEntries {
		if entry.Evaluations != entries[i].Evaluations {
			t.Errorf("Entry %d: expected evaluations %d, got %d", i, entries[i].Evaluations, entry.Evaluations)
		}
		if entry.Loss != entries[i].Loss {
			t.Errorf("Entry %d: expected loss %f, got %f", i, entries[i].Loss, entry.Loss)
		}
		if len(entry.Data) != len(entries[i].Data) {
			t.Errorf("Entry %d: expected %d data components, got %d", i, len(entries[i].Data), len(entry.Data))
		}
	}
}

func TestTraceWriter_Append(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-append"

	// First run writes two entries
	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	writer.Write(TraceEntry{Evaluations: 1, Loss: 2.0, Timestamp: time.Now()})
	writer.Write(TraceEntry{Evaluations: 2, Loss: 1.5, Timestamp: time.Now()})
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	// Resumed run appends instead of truncating
	writer, err = NewTraceWriter(tmpDir, jobID, true)
	if err != nil {
		t.Fatalf("Failed to create appending trace writer: %v", err)
	}
	writer.Write(TraceEntry{Evaluations: 3, Loss: 1.0, Timestamp: time.Now()})
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries after append, got %d", len(entries))
	}
	if entries[2].Evaluations != 3 {
		t.Errorf("Expected last entry at evaluation 3, got %d", entries[2].Evaluations)
	}
}

func TestTraceWriter_TruncateWithoutAppend(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-truncate"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	writer.Write(TraceEntry{Evaluations: 1, Loss: 2.0, Timestamp: time.Now()})
	writer.Close()

	// Recreate without append, previous content must be gone
	writer, err = NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to recreate trace writer: %v", err)
	}
	writer.Write(TraceEntry{Evaluations: 5, Loss: 0.5, Timestamp: time.Now()})
	writer.Close()

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Evaluations != 5 {
		t.Errorf("Expected single fresh entry at evaluation 5, got %+v", entries)
	}
}

func TestTraceWriter_Flush(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-flush"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	defer writer.Close()

	writer.Write(TraceEntry{Evaluations: 1, Loss: 1.0, Timestamp: time.Now()})

	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// The entry must be visible to a reader before Close
	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry after flush, got %d", len(entries))
	}
}

func TestTraceReader_SequentialRead(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-sequential"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	for i := 1; i <= 3; i++ {
		writer.Write(TraceEntry{Evaluations: i, Loss: float64(10 - i), Timestamp: time.Now()})
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, jobID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	for i := 1; i <= 3; i++ {
		entry, err := reader.Read()
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if entry.Evaluations != i {
			t.Errorf("Expected evaluation %d, got %d", i, entry.Evaluations)
		}
	}

	if _, err := reader.Read(); err != io.EOF {
		t.Errorf("Expected io.EOF after last entry, got %v", err)
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := NewTraceReader(tmpDir, "nonexistent-job")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected NotFoundError, got %T: %v", err, err)
	}
}

func TestDeleteTrace(t *testing.T) {
	tmpDir := t.TempDir()
	jobID := "test-job-delete"

	writer, err := NewTraceWriter(tmpDir, jobID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}
	writer.Write(TraceEntry{Evaluations: 1, Loss: 1.0, Timestamp: time.Now()})
	writer.Close()

	if err := DeleteTrace(tmpDir, jobID); err != nil {
		t.Fatalf("DeleteTrace failed: %v", err)
	}

	tracePath := filepath.Join(tmpDir, "jobs", jobID, "trace.jsonl")
	if _, err := os.Stat(tracePath); !os.IsNotExist(err) {
		t.Errorf("Trace file should be deleted: %s", tracePath)
	}

	// Deleting again is fine
	if err := DeleteTrace(tmpDir, jobID); err != nil {
		t.Errorf("DeleteTrace on missing file should be nil, got: %v", err)
	}
}
