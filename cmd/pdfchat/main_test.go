package main

import "testing"

func TestFirstDocument(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{"-stream", "Book.PDF", "what?"}, "Book.PDF"},
		{[]string{"-k", "3", "a.txt"}, ""},
	}
	for _, tt := range tests {
		if got := firstDocument(tt.args); got != tt.want {
			t.Errorf("firstDocument(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"  line one\n\tline two ", 100, "line one line two"},
		{"abcdef", 3, "abc..."},
		{"héllo wörld", 5, "héllo..."},
	}
	for _, tt := range tests {
		if got := snippet(tt.in, tt.n); got != tt.want {
			t.Errorf("snippet(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
