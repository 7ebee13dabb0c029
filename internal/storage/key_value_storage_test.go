package storage

import (
	"fmt"
	"os"
	"testing"
	"time"
)

func TestShibuDB(t *testing.T) {
	// Clean up test files before starting
	os.Remove("test_storage.db")
	os.Remove("test_wal.db")
	os.Remove("test_index.dat")

	db, err := OpenDBWithPaths("test_storage.db", "test_wal.db", "test_index.dat")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	t.Run("PutBatch", func(t *testing.T) {
		db.PutBatch("key1", "value1")
		db.PutBatch("key2", "value2")
		db.PutBatch("intKey", "42")
		db.PutBatch("floatKey", "3.14159")
		db.PutBatch("boolKey", "true")
		db.PutBatch("jsonKey", "{\"name\":\"test\", \"age\":25}")
		err := db.FlushBatch()
		if err != nil {
			t.Errorf("FlushBatch failed: %v", err)
		}
	})

	t.Run("GetString", func(t *testing.T) {
		val, err := db.Get("key1")
		if err != nil || val != "value1" {
			t.Errorf("Expected 'value1', got '%s', err: %v", val, err)
		}
	})

	t.Run("GetInteger", func(t *testing.T) {
		val, err := db.Get("intKey")
		if err != nil || val != "42" {
			t.Errorf("Expected '42', got '%s', err: %v", val, err)
		}
	})

	t.Run("GetFloat", func(t *testing.T) {
		val, err := db.Get("floatKey")
		if err != nil || val != "3.14159" {
			t.Errorf("Expected '3.14159', got '%s', err: %v", val, err)
		}
	})

	t.Run("GetBoolean", func(t *testing.T) {
		val, err := db.Get("boolKey")
		if err != nil || val != "true" {
			t.Errorf("Expected 'true', got '%s', err: %v", val, err)
		}
	})

	t.Run("GetJSON", func(t *testing.T) {
		val, err := db.Get("jsonKey")
		if err != nil || val != "{\"name\":\"test\", \"age\":25}" {
			t.Errorf("Expected '{\"name\":\"test\", \"age\":25}', got '%s', err: %v", val, err)
		}
	})

	t.Run("GetNonExistentKey", func(t *testing.T) {
		_, err := db.Get("non_existent")
		if err == nil {
			t.Errorf("Expected error for non-existent key, got nil")
		}
	})

	// Put (not PutBatch) writes the WAL synchronously, so a value
	// written this way survives a close/reopen even without an
	// intervening FlushBatch.
	t.Run("PutIsDurableAcrossReopen", func(t *testing.T) {
		if err := db.Put("durableKey", "durableValue"); err != nil {
			t.Fatalf("Put: %v", err)
		}
		db.Close()

		db2, err := OpenDBWithPaths("test_storage.db", "test_wal.db", "test_index.dat")
		if err != nil {
			t.Fatalf("Failed to reopen DB: %v", err)
		}
		defer db2.Close()

		val, err := db2.Get("durableKey")
		if err != nil || val != "durableValue" {
			t.Errorf("WAL replay failed: expected durableValue, got '%s', err: %v", val, err)
		}

		// Replace the test's shared handle so subsequent subtests keep
		// operating on a live, open engine.
		db = db2
	})

	t.Run("DuplicateKeyOverwrite", func(t *testing.T) {
		db.PutBatch("duplicateKey", "initialValue")
		db.FlushBatch()

		db.PutBatch("duplicateKey", "newValue")
		db.FlushBatch()

		val, err := db.Get("duplicateKey")
		if err != nil {
			t.Errorf("Failed to retrieve key after overwrite: %v", err)
		}
		if val != "newValue" {
			t.Errorf("Expected 'newValue', got '%s'", val)
		}

		pos, exists := db.index.Get("duplicateKey")
		if !exists {
			t.Errorf("Index does not contain 'duplicateKey' after overwrite")
		}

		fileInfo, err := db.file.Stat()
		if err != nil {
			t.Fatalf("Failed to get storage file info: %v", err)
		}
		if pos >= fileInfo.Size() {
			t.Errorf("Storage file contains stale data for 'duplicateKey'")
		}
	})

	t.Run("DeleteKeyAndWALReplay", func(t *testing.T) {
		db.PutBatch("deleteMe", "tempValue")
		db.FlushBatch()

		if err := db.Delete("deleteMe"); err != nil {
			t.Errorf("Delete failed: %v", err)
		}

		db.Close()
		db, err = OpenDBWithPaths("test_storage.db", "test_wal.db", "test_index.dat")
		if err != nil {
			t.Fatalf("Failed to reopen DB for WAL replay test: %v", err)
		}
		defer db.Close()

		_, err = db.Get("deleteMe")
		if err == nil {
			t.Errorf("Expected error for deleted key after WAL replay, got nil")
		}
	})

	t.Run("FlushMultipleEntries", func(t *testing.T) {
		total := 10
		for i := 0; i < total; i++ {
			key := "flushKey" + string(rune(i))
			value := "flushValue" + string(rune(i))
			db.PutBatch(key, value)
		}
		if err := db.FlushBatch(); err != nil {
			t.Fatalf("FlushBatch: %v", err)
		}

		for i := 0; i < total; i++ {
			key := "flushKey" + string(rune(i))
			expected := "flushValue" + string(rune(i))
			val, err := db.Get(key)
			if err != nil {
				t.Errorf("Get failed for key %s: %v", key, err)
			}
			if val != expected {
				t.Errorf("Expected '%s', got '%s' for key %s", expected, val, key)
			}
		}
	})

	t.Run("ConcurrentPutAndAutoFlush", func(t *testing.T) {
		db.Close()
		os.Remove("test_storage_concurrent.db")
		os.Remove("test_wal_concurrent.db")
		os.Remove("test_index_concurrent.dat")
		db2, err := OpenDBWithPaths("test_storage_concurrent.db", "test_wal_concurrent.db", "test_index_concurrent.dat")
		if err != nil {
			t.Fatalf("Failed to open concurrent test DB: %v", err)
		}
		defer db2.Close()

		numGoroutines := 10
		entriesPerGoroutine := 10
		done := make(chan bool)

		for g := 0; g < numGoroutines; g++ {
			go func(gid int) {
				for i := 0; i < entriesPerGoroutine; i++ {
					key := fmt.Sprintf("concurrentKey-%d-%d", gid, i)
					value := fmt.Sprintf("value-%d-%d", gid, i)
					if err := db2.PutBatch(key, value); err != nil {
						t.Errorf("PutBatch failed for %s: %v", key, err)
					}
				}
				done <- true
			}(g)
		}

		for g := 0; g < numGoroutines; g++ {
			<-done
		}

		time.Sleep(2 * time.Second)
		if err := db2.FlushBatch(); err != nil {
			t.Fatalf("FlushBatch: %v", err)
		}

		for g := 0; g < numGoroutines; g++ {
			for i := 0; i < entriesPerGoroutine; i++ {
				key := fmt.Sprintf("concurrentKey-%d-%d", g, i)
				expected := fmt.Sprintf("value-%d-%d", g, i)
				val, err := db2.Get(key)
				if err != nil {
					t.Errorf("Get failed for key %s: %v", key, err)
				}
				if val != expected {
					t.Errorf("Mismatch for key %s: expected '%s', got '%s'", key, expected, val)
				}
			}
		}
	})
}
