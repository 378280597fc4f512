package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirSourceWalksFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.pdf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("content of "+name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	src := NewDirSource(dir)
	ctx := context.Background()

	first, err := src.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Meta.Subject != "a.pdf" {
		t.Errorf("first subject = %s, want a.pdf (sorted order)", first.Meta.Subject)
	}
	if string(first.Content) != "content of a.pdf" {
		t.Errorf("content = %q", first.Content)
	}

	if _, err := src.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF after both files", err)
	}
}

func TestDirSourceResetPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	src := NewDirSource(dir)
	ctx := context.Background()

	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF on empty directory", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "late.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := src.Reset(); err != nil {
		t.Fatal(err)
	}
	doc, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("err = %v, want the file dropped in after the first pass", err)
	}
	if doc.Meta.Subject != "late.pdf" {
		t.Errorf("subject = %s, want late.pdf", doc.Meta.Subject)
	}
}

func TestDirSourceResetSkipsAlreadyYieldedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "done.pdf")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewDirSource(dir)
	ctx := context.Background()

	if _, err := src.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF after the only file", err)
	}

	// Unchanged directory: a rescan must drain straight to EOF instead
	// of replaying files already handed out.
	if err := src.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF on a rescan of an unchanged directory", err)
	}

	// A rewritten file is new content and must surface again.
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, time.Now().Add(time.Second), time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := src.Reset(); err != nil {
		t.Fatal(err)
	}
	doc, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("err = %v, want the rewritten file", err)
	}
	if string(doc.Content) != "v2" {
		t.Errorf("content = %q, want the rewritten version", doc.Content)
	}
}

func TestDirSourceSkipsVanishedFiles(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.pdf")
	gone := filepath.Join(dir, "gone.pdf")
	for _, p := range []string{keep, gone} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	src := NewDirSource(dir)
	ctx := context.Background()
	// Force the listing, then delete one file before it is read.
	if err := src.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}

	doc, err := src.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Meta.Subject != "keep.pdf" {
		t.Errorf("subject = %s, want keep.pdf (vanished file skipped)", doc.Meta.Subject)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}
