package journal

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestMemoryFilterOrderAndBound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	base := time.Unix(1700000000, 0)
	for i, tool := range []string{"a", "b", "a", "a"} {
		inv := Invocation{ID: string(rune('0' + i)), Interface: "srv", Tool: tool, Status: StatusOK, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := m.Record(ctx, inv); err != nil {
			t.Fatal(err)
		}
	}
	all, _ := m.List(ctx, Filter{})
	if len(all) != 3 || all[0].ID != "3" || all[2].ID != "1" {
		t.Fatalf("all=%+v", all)
	}
	onlyA, _ := m.List(ctx, Filter{Tool: "a", Limit: 1})
	if len(onlyA) != 1 || onlyA[0].ID != "3" {
		t.Fatalf("filtered=%+v", onlyA)
	}
	none, _ := m.List(ctx, Filter{Interface: "other"})
	if len(none) != 0 {
		t.Fatalf("none=%+v", none)
	}
}

func TestMemoryRingStaysBounded(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(4)
	base := time.Unix(1700000000, 0)
	for i := range 11 {
		inv := Invocation{ID: fmt.Sprint(i), Interface: "srv", Tool: "t", Status: StatusOK, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := m.Record(ctx, inv); err != nil {
			t.Fatal(err)
		}
	}
	if len(m.ring) != 4 || cap(m.ring) != 4 {
		t.Fatalf("ring len=%d cap=%d", len(m.ring), cap(m.ring))
	}
	got, _ := m.List(ctx, Filter{})
	var ids []string
	for _, inv := range got {
		ids = append(ids, inv.ID)
	}
	if strings.Join(ids, ",") != "10,9,8,7" {
		t.Fatalf("ids=%v", ids)
	}

	inv := Invocation{ID: "x", CreatedAt: base}
	if allocs := testing.AllocsPerRun(100, func() { _ = m.Record(ctx, inv) }); allocs != 0 {
		t.Fatalf("Record on a full ring allocates %.0f times", allocs)
	}
}

func TestMemoryEqualTimestampsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	at := time.Unix(1700000000, 0)
	for _, id := range []string{"a", "b", "c"} {
		_ = m.Record(ctx, Invocation{ID: id, CreatedAt: at})
	}
	got, _ := m.List(ctx, Filter{})
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("got=%+v", got)
	}
}
