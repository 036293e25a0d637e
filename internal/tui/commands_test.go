package tui

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/csheth/chatterm/internal/archive"
	"github.com/csheth/chatterm/internal/attach"
	"github.com/csheth/chatterm/internal/remote"
)

func TestParseAttachCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		draft string
		path  string
		ok    bool
	}{
		{draft: "/pdf paper.pdf", path: "paper.pdf", ok: true},
		{draft: `  /pdf "my notes.pdf"  `, path: "my notes.pdf", ok: true},
		{draft: "/pdf   ", ok: false},
		{draft: "/pdfpaper.pdf", ok: false},
		{draft: "please read /pdf paper.pdf", ok: false},
	}
	for _, tc := range cases {
		path, ok := parseAttachCommand(tc.draft)
		if path != tc.path || ok != tc.ok {
			t.Fatalf("parseAttachCommand(%q) = %q, %v; want %q, %v", tc.draft, path, ok, tc.path, tc.ok)
		}
	}
}

func TestMergeDraft(t *testing.T) {
	t.Parallel()

	cases := []struct{ draft, addition, want string }{
		{"", "hello", "hello"},
		{"draft ", " more", "draft more"},
		{"keep", "  ", "keep"},
	}
	for _, tc := range cases {
		if got := mergeDraft(tc.draft, tc.addition); got != tc.want {
			t.Fatalf("mergeDraft(%q, %q) = %q, want %q", tc.draft, tc.addition, got, tc.want)
		}
	}
}

func TestArchiveJobWritesSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.json")
	conv := remote.Conversation{ID: "c1", Title: "Notes"}
	msgs := []remote.Message{{Role: remote.RoleUser, Content: "hi"}}

	msg, err := archiveJob(path, conv, msgs, time.Now())(context.Background())
	if err != nil {
		t.Fatalf("archive job error = %v", err)
	}
	result, ok := msg.(archiveResultMsg)
	if !ok || !result.added || result.title != "Notes" {
		t.Fatalf("result = %#v", msg)
	}
	snaps, err := archive.Load(path)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("Load() = %#v, %v", snaps, err)
	}
}

func TestAttachJobRejectsNonPDF(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("text"), 0o644); err != nil {
		t.Fatal(err)
	}
	msg, err := attachJob(path, 100)(context.Background())
	if err == nil {
		t.Fatal("expected an error for a text file")
	}
	if result, ok := msg.(attachResultMsg); !ok || result.err == nil {
		t.Fatalf("result = %#v", msg)
	}
	if _, err := attach.LoadPDF(path, 100); err == nil {
		t.Fatal("LoadPDF should agree")
	}
}

func TestJobsHonourCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "archive.json")
	if _, err := archiveJob(path, remote.Conversation{ID: "c1"}, nil, time.Now())(ctx); err == nil {
		t.Fatal("cancelled archive job should fail")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("cancelled job wrote the archive: %v", err)
	}
}
