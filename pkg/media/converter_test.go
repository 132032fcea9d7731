package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeFFmpeg mimics the ffmpeg CLI: it writes "ID3" followed by the input
// bytes to the last argument, fails on inputs containing NOT-AUDIO and writes
// nothing for inputs containing EMPTY.
const fakeFFmpeg = `#!/bin/sh
in=""
prev=""
out=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
if grep -q NOT-AUDIO "$in"; then
  echo "Invalid data found when processing input" >&2
  exit 1
fi
if grep -q EMPTY "$in"; then
  : > "$out"
  exit 0
fi
printf 'ID3' > "$out"
cat "$in" >> "$out"
`

func newTestConverter(t *testing.T, keepRaw bool) (*Converter, string) {
	t.Helper()
	binDir := t.TempDir()
	bin := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(bin, []byte(fakeFFmpeg), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	out := filepath.Join(t.TempDir(), "public", "audio")
	return NewConverter(Config{
		OutputDir:  out,
		FFmpegPath: bin,
		Bitrate:    "64k",
		KeepRaw:    keepRaw,
		MaxBytes:   1 << 20,
	}, nil), out
}

func convert(t *testing.T, c *Converter, id, body string) (*Artifact, error) {
	t.Helper()
	return c.Convert(context.Background(), Request{
		ID:        ArtifactID(id),
		Source:    strings.NewReader(body),
		CodecHint: "audio/ogg",
	})
}

func TestConvertWritesRawAndMP3(t *testing.T) {
	c, out := newTestConverter(t, true)

	art, err := convert(t, c, "abc123", "OggS voice")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if art.FileName() != "abc123.mp3" {
		t.Fatalf("FileName = %q", art.FileName())
	}
	if art.Path != filepath.Join(out, "abc123.mp3") {
		t.Fatalf("Path = %q", art.Path)
	}
	if art.SourcePath != filepath.Join(out, "abc123.oga") {
		t.Fatalf("SourcePath = %q", art.SourcePath)
	}

	got, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("read mp3: %v", err)
	}
	if string(got) != "ID3OggS voice" {
		t.Fatalf("mp3 contents = %q", got)
	}
	if art.Size != int64(len(got)) {
		t.Fatalf("Size = %d, want %d", art.Size, len(got))
	}
	raw, err := os.ReadFile(art.SourcePath)
	if err != nil || string(raw) != "OggS voice" {
		t.Fatalf("raw = %q, %v", raw, err)
	}

	entries, _ := os.ReadDir(out)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".part") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestConvertPurgesRawWhenConfigured(t *testing.T) {
	c, _ := newTestConverter(t, false)

	art, err := convert(t, c, "purge1", "OggS")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if _, err := os.Stat(art.SourcePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("raw file still present: %v", err)
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Fatalf("mp3 missing: %v", err)
	}
}

func TestDistinctIDsNeverShareDestination(t *testing.T) {
	c, _ := newTestConverter(t, true)

	a, err := convert(t, c, "fileA", "voice A")
	if err != nil {
		t.Fatalf("Convert A: %v", err)
	}
	before, _ := os.ReadFile(a.Path)

	b, err := convert(t, c, "fileB", "voice B")
	if err != nil {
		t.Fatalf("Convert B: %v", err)
	}
	if a.Path == b.Path || a.FileName() == b.FileName() {
		t.Fatalf("distinct ids share destination %q", a.Path)
	}

	after, _ := os.ReadFile(a.Path)
	if !bytes.Equal(before, after) {
		t.Fatalf("converting B altered A: %q -> %q", before, after)
	}
}

func TestSameIDLastWriterWins(t *testing.T) {
	c, _ := newTestConverter(t, true)

	if _, err := convert(t, c, "shared", "first"); err != nil {
		t.Fatalf("Convert first: %v", err)
	}
	art, err := convert(t, c, "shared", "second")
	if err != nil {
		t.Fatalf("Convert second: %v", err)
	}
	got, _ := os.ReadFile(art.Path)
	if string(got) != "ID3second" {
		t.Fatalf("contents = %q, want the second conversion", got)
	}
}

func TestConcurrentSameIDLeavesOneCompleteFile(t *testing.T) {
	c, _ := newTestConverter(t, true)

	bodies := []string{"alpha", "bravo", "charlie", "delta"}
	var wg sync.WaitGroup
	for _, body := range bodies {
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			if _, err := convert(t, c, "race", body); err != nil {
				t.Errorf("Convert(%s): %v", body, err)
			}
		}(body)
	}
	wg.Wait()

	// No locking: which writer wins is unspecified, but the file is never a mix.
	got, err := os.ReadFile(filepath.Join(c.OutputDir(), "race.mp3"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	valid := false
	for _, body := range bodies {
		if string(got) == "ID3"+body {
			valid = true
		}
	}
	if !valid {
		t.Fatalf("race.mp3 = %q is not any single conversion", got)
	}
}

func TestConcurrentSameIDWithoutRawRetention(t *testing.T) {
	c, out := newTestConverter(t, false)

	for round := 0; round < 10; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				body := fmt.Sprintf("OggS round %d writer %d", round, i)
				if _, err := convert(t, c, "race", body); err != nil {
					t.Errorf("round %d writer %d: %v", round, i, err)
				}
			}(i)
		}
		wg.Wait()
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "race.mp3" {
			t.Errorf("unexpected leftover %q", e.Name())
		}
	}
}

func TestConvertRetainsRawOnDecodeError(t *testing.T) {
	c, out := newTestConverter(t, false)

	if _, err := convert(t, c, "broken", "NOT-AUDIO"); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if _, err := os.Stat(filepath.Join(out, "broken.oga")); err != nil {
		t.Fatalf("failed input not retained: %v", err)
	}
}

func TestConvertDecodeError(t *testing.T) {
	c, out := newTestConverter(t, true)

	_, err := convert(t, c, "bad1", "NOT-AUDIO")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("err %q does not carry ffmpeg stderr", err)
	}
	if _, statErr := os.Stat(filepath.Join(out, "bad1.mp3")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("destination exists after decode error: %v", statErr)
	}

	if _, err := convert(t, c, "bad2", "EMPTY"); !errors.Is(err, ErrDecode) {
		t.Fatalf("empty output err = %v, want ErrDecode", err)
	}
	if _, err := convert(t, c, "bad3", ""); !errors.Is(err, ErrDecode) {
		t.Fatalf("empty input err = %v, want ErrDecode", err)
	}
}

func TestConvertIOErrors(t *testing.T) {
	c, _ := newTestConverter(t, true)
	c.cfg.MaxBytes = 4
	if _, err := convert(t, c, "big", "too large"); !errors.Is(err, ErrIO) {
		t.Fatalf("oversize err = %v, want ErrIO", err)
	}

	missing := NewConverter(Config{OutputDir: t.TempDir(), FFmpegPath: filepath.Join(t.TempDir(), "nope")}, nil)
	if _, err := convert(t, missing, "x", "OggS"); !errors.Is(err, ErrIO) {
		t.Fatalf("missing binary err = %v, want ErrIO", err)
	}

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	unwritable := NewConverter(Config{OutputDir: filepath.Join(blocker, "audio")}, nil)
	if _, err := convert(t, unwritable, "x", "OggS"); !errors.Is(err, ErrIO) {
		t.Fatalf("unwritable dir err = %v, want ErrIO", err)
	}
}

func TestConvertRejectsUnsafeIDs(t *testing.T) {
	c, _ := newTestConverter(t, true)
	for _, id := range []string{"", "../etc/passwd", "a/b", ".hidden", "with space"} {
		if _, err := convert(t, c, id, "OggS"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Convert(%q) err = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestSourceExt(t *testing.T) {
	for hint, want := range map[string]string{
		"audio/ogg":  ".oga",
		"":           ".oga",
		"audio/mpeg": ".src.mp3",
		"audio/mp4":  ".m4a",
		"AUDIO/WAV":  ".wav",
	} {
		if got := SourceExt(hint); got != want {
			t.Errorf("SourceExt(%q) = %q, want %q", hint, got, want)
		}
	}
}
