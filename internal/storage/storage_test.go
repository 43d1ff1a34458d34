package storage

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/huahuoao/lsm-kv/internal/storage/engine/lsmtree"
	"go.uber.org/zap/zaptest"
)

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandStringBytesGenerate 生成指定长度的随机字符串
func RandStringBytesGenerate(rnd *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[rnd.Intn(len(charset))]
	}
	return string(b)
}

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir,
		lsmtree.WithLogger(zaptest.NewLogger(t).Sugar()),
		lsmtree.MemTableThreshold(32*1024),
		lsmtree.MaxDiskTableSize(32*1024),
	)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStorage(t *testing.T) {
	dir := t.TempDir() + "/nested/data"
	s := openTestStore(t, dir)

	rnd := rand.New(rand.NewSource(1))
	values := make(map[uint64]string)
	count := 500
	for i := 0; i < count; i++ {
		key := uint64(i)
		values[key] = RandStringBytesGenerate(rnd, 1024)
		if err := s.Put(key, values[key]); err != nil {
			t.Fatal(err)
		}
	}

	for key, value := range values {
		if got := s.Get(key); got != value {
			t.Fatalf("key %d: value mismatch", key)
		}
	}
	if got := s.Get(uint64(count)); got != "" {
		t.Fatalf("absent key returned %q", got)
	}

	if deleted, err := s.Del(7); err != nil || !deleted {
		t.Fatalf("first delete of key 7: %v, %v", deleted, err)
	}
	if deleted, err := s.Del(7); err != nil || deleted {
		t.Fatalf("second delete of key 7: %v, %v", deleted, err)
	}
	if s.Get(7) != "" {
		t.Fatal("key 7 survived delete")
	}

	pairs, err := s.Scan(5, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 4 || pairs[0].Key != 5 || pairs[1].Key != 6 || pairs[2].Key != 8 || pairs[3].Key != 9 {
		t.Fatalf("unexpected scan result %v", pairs)
	}
	if pairs[0].Value != values[5] {
		t.Fatal("scan returned a wrong value for key 5")
	}

	stats := s.Stats()
	if stats.TotalLevel < 1 {
		t.Fatalf("expected flushed data, stats %+v", stats)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, dir)
	defer s.Close()
	if got := s.Get(100); got != values[100] {
		t.Fatal("value for key 100 lost after reopen")
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if got := s.Get(100); got != "" {
		t.Fatalf("key 100 survived reset: %q", got)
	}
	if pairs, err := s.Scan(0, uint64(count)); err != nil || len(pairs) != 0 {
		t.Fatalf("scan after reset returned %d pairs, %v", len(pairs), err)
	}
}

func TestStorageConcurrent(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := uint64(w*1000 + i)
				if err := s.Put(key, fmt.Sprintf("worker-%d-%d", w, i)); err != nil {
					t.Errorf("put %d: %v", key, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 4; w++ {
		for i := 0; i < 200; i++ {
			key := uint64(w*1000 + i)
			if got, want := s.Get(key), fmt.Sprintf("worker-%d-%d", w, i); got != want {
				t.Fatalf("key %d: got %q, want %q", key, got, want)
			}
		}
	}
}

func TestStorageReportsErrors(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	if err := s.Put(1, "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.GetErr(1); !errors.Is(err, lsmtree.ErrClosed) {
		t.Fatalf("GetErr on a closed store: %v", err)
	}
	if _, err := s.Del(1); !errors.Is(err, lsmtree.ErrClosed) {
		t.Fatalf("Del on a closed store: %v", err)
	}
	if pairs, err := s.Scan(0, 10); !errors.Is(err, lsmtree.ErrClosed) || pairs != nil {
		t.Fatalf("Scan on a closed store: %v, %v", pairs, err)
	}
}
