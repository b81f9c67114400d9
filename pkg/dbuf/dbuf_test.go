package dbuf

import (
	"slices"
	"sync"
	"testing"
)

func TestInitialIndices(t *testing.T) {
	d := New([]int{1})
	if d.RefIndex() != 0 || d.UpdIndex() != 1 {
		t.Fatalf("indices = %d/%d, want 0/1", d.RefIndex(), d.UpdIndex())
	}
	if got := d.Read(); !slices.Equal(got, []int{1}) {
		t.Errorf("Read() = %v, want [1]", got)
	}
}

func TestStageInvisibleUntilCommit(t *testing.T) {
	d := New([]int{})
	d.Stage([]int{3, 4})

	if got := d.Read(); len(got) != 0 {
		t.Fatalf("Read() before commit = %v, want empty", got)
	}
	if got := d.Staged(); !slices.Equal(got, []int{3, 4}) {
		t.Fatalf("Staged() = %v, want [3 4]", got)
	}

	before := d.RefIndex()
	d.Commit()
	if d.RefIndex() != (before+1)%2 {
		t.Errorf("RefIndex after commit = %d, want %d", d.RefIndex(), (before+1)%2)
	}
	if d.RefIndex() == d.UpdIndex() {
		t.Errorf("ref and upd indices equal after commit: %d", d.RefIndex())
	}
	if got := d.Read(); !slices.Equal(got, []int{3, 4}) {
		t.Errorf("Read() after commit = %v, want [3 4]", got)
	}
	// Update half tracks the published generation.
	if got := d.Staged(); !slices.Equal(got, []int{3, 4}) {
		t.Errorf("Staged() after commit = %v, want [3 4]", got)
	}
}

func TestCommitToggles(t *testing.T) {
	d := New(0)
	for i := 1; i <= 5; i++ {
		before := d.RefIndex()
		d.Stage(i)
		d.Commit()
		if d.RefIndex() == before {
			t.Fatalf("commit %d did not toggle ref index", i)
		}
		if d.Read() != i {
			t.Fatalf("Read() = %d, want %d", d.Read(), i)
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	d := New("a")
	d.Stage("b")
	d.Commit()
	snap := d.Snapshot()

	d.Stage("c")
	d.Commit()
	d.Stage("d")
	if d.Read() != "c" {
		t.Fatalf("Read() = %q, want c", d.Read())
	}

	d.Restore(snap)
	if d.Read() != "b" {
		t.Errorf("Read() after restore = %q, want b", d.Read())
	}
	if d.Staged() != "b" {
		t.Errorf("Staged() after restore = %q, want b", d.Staged())
	}
	if d.RefIndex() != int(snap.Ref) || d.UpdIndex() != int(snap.Upd) {
		t.Errorf("indices after restore = %d/%d, want %d/%d",
			d.RefIndex(), d.UpdIndex(), snap.Ref, snap.Upd)
	}
}

func TestConcurrentReaders(t *testing.T) {
	d := New([]int{0, 0, 0})
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := d.Read()
				// Every generation is written whole: all elements equal.
				for _, x := range v {
					if x != v[0] {
						t.Errorf("torn read: %v", v)
						return
					}
				}
			}
		}()
	}

	for i := 1; i < 2000; i++ {
		d.Stage([]int{i, i, i})
		d.Commit()
	}
	close(stop)
	wg.Wait()
}
