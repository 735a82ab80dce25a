package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/DreamCats/pdfchat/internal/llm"
)

func human(s string) Turn     { return Turn{Role: llm.RoleHuman, Content: s} }
func assistant(s string) Turn { return Turn{Role: llm.RoleAssistant, Content: s} }

func TestGetIsLazyAndPerSession(t *testing.T) {
	m := New(0)
	if m.MaxTurns() != DefaultMaxTurns {
		t.Fatalf("MaxTurns() = %d", m.MaxTurns())
	}

	a := m.Get("a")
	if a.Len() != 0 {
		t.Fatal("new history should be empty")
	}
	if m.Get("a") != a {
		t.Fatal("Get should return the same history for a key")
	}

	b := m.Get("b")
	a.Append(human("hi"))
	if b.Len() != 0 {
		t.Fatal("sessions must not share history")
	}
	if keys := m.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("Keys() = %v", keys)
	}

	m.Delete("a")
	if m.Get("a").Len() != 0 {
		t.Fatal("deleted session should start fresh")
	}
}

func TestAppendAndTrim(t *testing.T) {
	tests := []struct {
		name       string
		existing   int
		appended   int
		wantTrim   bool
		wantLen    int
		wantOldest string
	}{
		{name: "empty, no turns", existing: 0, appended: 0, wantTrim: false, wantLen: 0},
		{name: "under bound", existing: 4, appended: 2, wantTrim: false, wantLen: 6, wantOldest: "t0"},
		{name: "exactly at bound", existing: 8, appended: 2, wantTrim: false, wantLen: 10, wantOldest: "t0"},
		{name: "one over", existing: 10, appended: 1, wantTrim: true, wantLen: 10, wantOldest: "t1"},
		{name: "far over", existing: 15, appended: 4, wantTrim: true, wantLen: 10, wantOldest: "t9"},
		{name: "trim with no new turns", existing: 12, appended: 0, wantTrim: true, wantLen: 10, wantOldest: "t2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(10)
			h := m.Get("s")
			n := 0
			for ; n < tt.existing; n++ {
				h.Append(human(fmt.Sprintf("t%d", n)))
			}
			var turns []Turn
			for i := 0; i < tt.appended; i++ {
				turns = append(turns, assistant(fmt.Sprintf("t%d", n)))
				n++
			}

			if got := m.AppendAndTrim(h, turns...); got != tt.wantTrim {
				t.Errorf("AppendAndTrim() = %v, want %v", got, tt.wantTrim)
			}
			msgs := h.Messages()
			if len(msgs) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(msgs), tt.wantLen)
			}
			if tt.wantLen > 0 {
				if msgs[0].Content != tt.wantOldest {
					t.Errorf("oldest = %q, want %q", msgs[0].Content, tt.wantOldest)
				}
				if last := msgs[len(msgs)-1].Content; last != fmt.Sprintf("t%d", n-1) {
					t.Errorf("newest = %q, want t%d", last, n-1)
				}
			}
		})
	}
}

func TestHistoryBoundNeverExceeded(t *testing.T) {
	m := New(10)
	h := m.Get("default")
	for i := 0; i < 50; i++ {
		m.AppendAndTrim(h, human("q"), assistant("a"))
		if h.Len() > 10 {
			t.Fatalf("history grew to %d after %d exchanges", h.Len(), i+1)
		}
	}
}

func TestMessagesIsACopy(t *testing.T) {
	m := New(10)
	h := m.Get("x")
	h.Append(human("original"))
	msgs := h.Messages()
	msgs[0].Content = "changed"
	if h.Messages()[0].Content != "original" {
		t.Fatal("Messages must return a copy")
	}
	h.Clear()
	if h.Len() != 0 {
		t.Fatal("Clear should empty the history")
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New(10)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := m.Get(fmt.Sprintf("s%d", i%4))
			for j := 0; j < 20; j++ {
				m.AppendAndTrim(h, human("q"), assistant("a"))
			}
		}(i)
	}
	wg.Wait()

	for _, k := range m.Keys() {
		if n := m.Get(k).Len(); n != 10 {
			t.Errorf("session %s has %d turns, want 10", k, n)
		}
	}
}
