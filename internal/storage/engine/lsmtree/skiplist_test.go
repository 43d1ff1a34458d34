package lsmtree

import (
	"math/rand"
	"sort"
	"testing"
)

func newTestSkipList(seed int64) *SkipList {
	return NewSkipList(maxSkipListHeight, skipListP, rand.New(rand.NewSource(seed)))
}

func TestSkipList(t *testing.T) {
	skipList := newTestSkipList(1)

	// 测试插入
	skipList.Insert(1, DataValue([]byte("one")))
	skipList.Insert(2, DataValue([]byte("two")))
	skipList.Insert(3, DataValue([]byte("three")))

	// 测试查找
	if value, found := skipList.Search(1); !found || string(value.Bytes()) != "one" {
		t.Errorf("Expected to find key 1 with value 'one', got %v", value)
	}
	if value, found := skipList.Search(2); !found || string(value.Bytes()) != "two" {
		t.Errorf("Expected to find key 2 with value 'two', got %v", value)
	}
	if value, found := skipList.Search(3); !found || string(value.Bytes()) != "three" {
		t.Errorf("Expected to find key 3 with value 'three', got %v", value)
	}
	if _, found := skipList.Search(4); found {
		t.Error("Expected not to find key 4")
	}

	// 测试删除
	if deleted := skipList.Delete(2); !deleted {
		t.Error("Expected to delete key 2")
	}
	if _, found := skipList.Search(2); found {
		t.Error("Expected not to find key 2 after deletion")
	}
	if deleted := skipList.Delete(2); deleted {
		t.Error("Expected second deletion of key 2 to report false")
	}

	// 测试节点数量和大小
	if skipList.Len() != 2 {
		t.Errorf("Expected num to be 2, got %d", skipList.Len())
	}
	if want := uint32(2*nodeOverhead + len("one") + len("three")); skipList.Bytes() != want {
		t.Errorf("Expected %d bytes, got %d", want, skipList.Bytes())
	}
}

func TestSkipListUpsertSize(t *testing.T) {
	skipList := newTestSkipList(2)

	skipList.Insert(7, DataValue([]byte("abc")))
	if got := skipList.BytesAfter(7, DataValue([]byte("abcdef"))); got != nodeOverhead+6 {
		t.Fatalf("BytesAfter for overwrite = %d, want %d", got, nodeOverhead+6)
	}
	if got := skipList.BytesAfter(8, DataValue([]byte("x"))); got != 2*nodeOverhead+3+1 {
		t.Fatalf("BytesAfter for new key = %d, want %d", got, 2*nodeOverhead+4)
	}

	skipList.Insert(7, DataValue([]byte("abcdef")))
	if skipList.Len() != 1 {
		t.Fatalf("overwrite must not add a node, got %d nodes", skipList.Len())
	}
	if skipList.Bytes() != nodeOverhead+6 {
		t.Fatalf("Bytes() = %d, want %d", skipList.Bytes(), nodeOverhead+6)
	}

	// 墓碑没有负载
	skipList.Insert(7, Tombstone())
	if skipList.Bytes() != nodeOverhead {
		t.Fatalf("Bytes() after tombstone = %d, want %d", skipList.Bytes(), nodeOverhead)
	}
	if value, found := skipList.Search(7); !found || !value.IsTombstone() {
		t.Fatalf("expected tombstone for key 7, got %v %v", value, found)
	}
}

func TestSkipListOrderAndReuse(t *testing.T) {
	skipList := newTestSkipList(3)
	rnd := rand.New(rand.NewSource(4))
	model := make(map[uint64]string)

	for i := 0; i < 2000; i++ {
		key := uint64(rnd.Intn(500))
		if rnd.Intn(4) == 0 {
			_, existed := model[key]
			if deleted := skipList.Delete(key); deleted != existed {
				t.Fatalf("Delete(%d) = %v, want %v", key, deleted, existed)
			}
			delete(model, key)
			continue
		}
		value := string(rune('a' + rnd.Intn(26)))
		skipList.Insert(key, DataValue([]byte(value)))
		model[key] = value
	}

	keys := make([]uint64, 0, len(model))
	for k := range model {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	i := 0
	for it := skipList.Iterator(); it.HasNext(); i++ {
		key, value := it.Next()
		if i >= len(keys) || key != keys[i] {
			t.Fatalf("iterator position %d: got key %d", i, key)
		}
		if string(value.Bytes()) != model[key] {
			t.Fatalf("key %d: got %q, want %q", key, value.Bytes(), model[key])
		}
	}
	if i != len(keys) || skipList.Len() != len(keys) {
		t.Fatalf("iterated %d nodes, Len() = %d, want %d", i, skipList.Len(), len(keys))
	}

	// 删除的节点会被复用，arena 不会无限增长
	if len(skipList.nodes)-len(skipList.free)-1 != skipList.Len() {
		t.Fatalf("arena holds %d nodes with %d free, but Len() = %d",
			len(skipList.nodes), len(skipList.free), skipList.Len())
	}
}

func TestSkipListScan(t *testing.T) {
	skipList := newTestSkipList(5)
	for _, k := range []uint64{10, 20, 30, 40, 50} {
		skipList.Insert(k, DataValue([]byte{byte(k)}))
	}
	skipList.Insert(30, Tombstone())

	tests := []struct {
		name       string
		key1, key2 uint64
		want       []uint64
	}{
		{"all", 0, 100, []uint64{10, 20, 30, 40, 50}},
		{"inclusive bounds", 20, 40, []uint64{20, 30, 40}},
		{"between keys", 21, 39, []uint64{30}},
		{"single", 50, 50, []uint64{50}},
		{"empty", 51, 100, nil},
		{"reversed", 40, 20, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := skipList.Scan(tt.key1, tt.key2)
			if len(got) != len(tt.want) {
				t.Fatalf("Scan(%d, %d) returned %d entries, want %d", tt.key1, tt.key2, len(got), len(tt.want))
			}
			for i, e := range got {
				if e.key != tt.want[i] {
					t.Fatalf("entry %d: got key %d, want %d", i, e.key, tt.want[i])
				}
			}
		})
	}
}

func TestSkipListReset(t *testing.T) {
	skipList := newTestSkipList(6)
	for i := uint64(0); i < 100; i++ {
		skipList.Insert(i, DataValue([]byte("v")))
	}
	skipList.Reset()

	if skipList.Len() != 0 || skipList.Bytes() != 0 {
		t.Fatalf("after Reset: Len() = %d, Bytes() = %d", skipList.Len(), skipList.Bytes())
	}
	if skipList.Iterator().HasNext() {
		t.Fatal("iterator over an empty skip list must be exhausted")
	}
	if _, found := skipList.Search(5); found {
		t.Fatal("expected key 5 to be gone after Reset")
	}
}

func BenchmarkSkipListInsert(b *testing.B) {
	skipList := newTestSkipList(7)
	value := DataValue([]byte("benchmark-value"))
	rnd := rand.New(rand.NewSource(8))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		skipList.Insert(rnd.Uint64(), value)
	}
}
