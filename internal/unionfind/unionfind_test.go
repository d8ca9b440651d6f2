package unionfind

import (
	"reflect"
	"testing"
)

func TestFindInitial(t *testing.T) {
	uf := New(5)
	for i := 0; i < 5; i++ {
		if root := uf.Find(i); root != i {
			t.Errorf("Find(%d) = %d; want %d before any union", i, root, i)
		}
	}
}

func TestUnionAndConnected(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		unions    [][2]int
		x, y      int
		connected bool
	}{
		{"direct union", 4, [][2]int{{0, 1}}, 0, 1, true},
		{"transitive union", 4, [][2]int{{0, 1}, {1, 2}}, 0, 2, true},
		{"separate sets", 4, [][2]int{{0, 1}, {2, 3}}, 0, 3, false},
		{"self connected", 3, nil, 1, 1, true},
		{"repeated union", 3, [][2]int{{0, 1}, {0, 1}, {1, 0}}, 0, 1, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			uf := New(tc.n)
			for _, u := range tc.unions {
				uf.Union(u[0], u[1])
			}
			if got := uf.Connected(tc.x, tc.y); got != tc.connected {
				t.Errorf("Connected(%d, %d) = %v; want %v", tc.x, tc.y, got, tc.connected)
			}
		})
	}
}

func TestGroups(t *testing.T) {
	uf := New(6)
	uf.Union(0, 2)
	uf.Union(2, 4)
	uf.Union(1, 5)

	groups := uf.Groups()
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d: %v", len(groups), groups)
	}

	// Every element appears exactly once across all groups.
	seen := make(map[int]bool)
	for root, members := range groups {
		foundRoot := false
		for _, m := range members {
			if seen[m] {
				t.Errorf("element %d appears in multiple groups", m)
			}
			seen[m] = true
			if m == root {
				foundRoot = true
			}
		}
		if !foundRoot {
			t.Errorf("group %v does not contain its root %d", members, root)
		}
	}
	if len(seen) != 6 {
		t.Errorf("groups cover %d elements; want 6", len(seen))
	}
}

func TestGroupsWithMultiple(t *testing.T) {
	uf := New(7)
	uf.Union(5, 6)
	uf.Union(0, 3)
	uf.Union(3, 1)

	groups := uf.GroupsWithMultiple()
	expected := [][]int{{0, 1, 3}, {5, 6}}
	if !reflect.DeepEqual(groups, expected) {
		t.Errorf("GroupsWithMultiple() = %v; want %v", groups, expected)
	}
}

func TestGroupsWithMultipleDeterministic(t *testing.T) {
	// Order of unions must not change the emitted group order.
	build := func(unions [][2]int) [][]int {
		uf := New(8)
		for _, u := range unions {
			uf.Union(u[0], u[1])
		}
		return uf.GroupsWithMultiple()
	}

	a := build([][2]int{{6, 7}, {1, 2}, {2, 4}})
	b := build([][2]int{{4, 2}, {7, 6}, {2, 1}})
	if !reflect.DeepEqual(a, b) {
		t.Errorf("group order depends on union order: %v vs %v", a, b)
	}
}

func TestGroupsWithMultipleAllSingletons(t *testing.T) {
	uf := New(4)
	if groups := uf.GroupsWithMultiple(); len(groups) != 0 {
		t.Errorf("expected no groups for untouched sets, got %v", groups)
	}
}

func TestNewZero(t *testing.T) {
	uf := New(0)
	if uf.Len() != 0 {
		t.Errorf("Len() = %d; want 0", uf.Len())
	}
	if groups := uf.Groups(); len(groups) != 0 {
		t.Errorf("Groups() = %v; want empty", groups)
	}
}
