package relay

import (
	"errors"
	"fmt"
	"testing"
)

func fillRegistry(t *testing.T, r *Registry, n int) ([]*Peer, []*fakeConn) {
	t.Helper()
	peers := make([]*Peer, n)
	conns := make([]*fakeConn, n)
	for i := 0; i < n; i++ {
		conns[i] = newFakeConn(fmt.Sprintf("10.0.0.%d", i+1), 5000+i)
		p, err := r.Add(conns[i], fmt.Sprintf("10.0.0.%d", i+1))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		peers[i] = p
	}
	return peers, conns
}

func TestRegistryAddDistinctHandles(t *testing.T) {
	r := NewRegistry(0, 4)
	peers, _ := fillRegistry(t, r, 10)

	if r.Len() != 10 {
		t.Fatalf("Expected 10 peers, got %d", r.Len())
	}

	seen := make(map[Handle]bool)
	for i, p := range peers {
		if p.Handle == NoHandle {
			t.Errorf("Peer %d got the reserved handle", i)
		}
		if seen[p.Handle] {
			t.Errorf("Duplicate handle %s", p.Handle)
		}
		seen[p.Handle] = true

		if r.At(i) != p {
			t.Errorf("Expected peer %d at index %d", i, i)
		}
		if got, ok := r.Get(p.Handle); !ok || got != p {
			t.Errorf("Get(%s) did not return the peer", p.Handle)
		}
	}
}

func TestRegistryHandlesNotReused(t *testing.T) {
	r := NewRegistry(0, 4)
	peers, _ := fillRegistry(t, r, 2)

	if _, err := r.Remove(peers[1].Handle); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	p, err := r.Add(newFakeConn("10.0.0.9", 9000), "10.0.0.9")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.Handle == peers[1].Handle {
		t.Errorf("Handle %s was reused", p.Handle)
	}
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(2, 4)
	fillRegistry(t, r, 2)

	_, err := r.Add(newFakeConn("10.0.0.3", 1), "10.0.0.3")
	if !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("Expected ErrRegistryFull, got %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Failed add must not change the registry, got %d peers", r.Len())
	}
}

func TestRegistryRemoveClosesHandle(t *testing.T) {
	r := NewRegistry(0, 4)
	peers, conns := fillRegistry(t, r, 3)

	removed, err := r.Remove(peers[1].Handle)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed != peers[1] {
		t.Error("Remove returned the wrong peer")
	}
	if conns[1].Closes() != 1 {
		t.Errorf("Expected the connection closed once, got %d", conns[1].Closes())
	}
	if !peers[1].Closed() {
		t.Error("Removed peer should report closed")
	}
	if r.IndexOf(peers[2].Handle) != 1 {
		t.Errorf("Expected later peer shifted to index 1, got %d", r.IndexOf(peers[2].Handle))
	}
}

func TestRegistryDoubleRemove(t *testing.T) {
	r := NewRegistry(0, 4)
	peers, conns := fillRegistry(t, r, 2)

	if _, err := r.Remove(peers[0].Handle); err != nil {
		t.Fatalf("First remove: %v", err)
	}
	if _, err := r.Remove(peers[0].Handle); !errors.Is(err, ErrNoSuchPeer) {
		t.Errorf("Expected ErrNoSuchPeer on second remove, got %v", err)
	}
	if conns[0].Closes() != 1 {
		t.Errorf("Expected a single close, got %d", conns[0].Closes())
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 peer left, got %d", r.Len())
	}
}

func TestRegistryRemoveAtOutOfRange(t *testing.T) {
	r := NewRegistry(0, 4)
	fillRegistry(t, r, 1)

	for _, i := range []int{-1, 1, 5} {
		if _, err := r.RemoveAt(i); !errors.Is(err, ErrNoSuchPeer) {
			t.Errorf("RemoveAt(%d): expected ErrNoSuchPeer, got %v", i, err)
		}
	}
}

func TestRegistryRemoveDuringIteration(t *testing.T) {
	r := NewRegistry(0, 4)
	peers, _ := fillRegistry(t, r, 5)

	var visited []Handle
	for i, p := range r.All() {
		visited = append(visited, p.Handle)
		if p == peers[1] {
			if _, err := r.RemoveAt(i); err != nil {
				t.Fatalf("RemoveAt: %v", err)
			}
		}
	}

	if len(visited) != 5 {
		t.Fatalf("Expected 5 visits, got %d", len(visited))
	}
	for i, p := range peers {
		if visited[i] != p.Handle {
			t.Errorf("Visit %d: expected %s, got %s", i, p.Handle, visited[i])
		}
	}
	if r.Len() != 4 {
		t.Errorf("Expected 4 peers after removal, got %d", r.Len())
	}
}

func TestRegistryRemoveEveryPeerDuringIteration(t *testing.T) {
	r := NewRegistry(0, 4)
	fillRegistry(t, r, 4)

	visits := 0
	for i := range r.All() {
		visits++
		if _, err := r.RemoveAt(i); err != nil {
			t.Fatalf("RemoveAt(%d): %v", i, err)
		}
	}

	if visits != 4 {
		t.Errorf("Expected 4 visits, got %d", visits)
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestRegistryRemoveAheadSkipsRemoved(t *testing.T) {
	r := NewRegistry(0, 4)
	peers, _ := fillRegistry(t, r, 4)

	var visited []Handle
	for _, p := range r.All() {
		visited = append(visited, p.Handle)
		if p == peers[0] {
			r.Remove(peers[2].Handle)
		}
	}

	want := []Handle{peers[0].Handle, peers[1].Handle, peers[3].Handle}
	if len(visited) != len(want) {
		t.Fatalf("Expected %v, got %v", want, visited)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("Visit %d: expected %s, got %s", i, want[i], visited[i])
		}
	}
}

// The dense-index walk used by callers of RemoveAt: do not advance after removing.
func TestRegistryRemoveAtCursorCompensation(t *testing.T) {
	r := NewRegistry(0, 4)
	peers, _ := fillRegistry(t, r, 5)
	drop := map[Handle]bool{peers[1].Handle: true, peers[2].Handle: true}

	var visited []Handle
	for i := 0; i < r.Len(); {
		p := r.At(i)
		visited = append(visited, p.Handle)
		if drop[p.Handle] {
			r.RemoveAt(i)
			continue
		}
		i++
	}

	if len(visited) != 5 {
		t.Fatalf("Expected every peer visited once, got %d visits", len(visited))
	}
	if r.Len() != 3 {
		t.Errorf("Expected 3 peers left, got %d", r.Len())
	}
}

func TestRegistryIterationIsRestartable(t *testing.T) {
	r := NewRegistry(0, 4)
	fillRegistry(t, r, 3)
	seq := r.All()

	for pass := 0; pass < 2; pass++ {
		n := 0
		for range seq {
			n++
		}
		if n != 3 {
			t.Errorf("Pass %d: expected 3 peers, got %d", pass, n)
		}
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry(0, 4)
	_, conns := fillRegistry(t, r, 3)

	if n := r.Clear(); n != 3 {
		t.Errorf("Expected 3 peers cleared, got %d", n)
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
	for i, c := range conns {
		if c.Closes() != 1 {
			t.Errorf("Conn %d: expected closed once, got %d", i, c.Closes())
		}
	}
}
