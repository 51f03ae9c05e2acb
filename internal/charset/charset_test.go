package charset

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/bunsho/internal/models"
)

func TestDetect_utf8ShortCircuit(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		name   string
		sample []byte
	}{
		{"empty", nil},
		{"ascii", []byte("plain ascii text, nothing else.")},
		{"utf8", []byte("café au lait, 東京")},
		{"truncated trailing rune", []byte("caf\xc3")},
		{"truncated three byte rune", []byte("to \xe6\x9d")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.sample)
			if got.Label != Default {
				t.Errorf("Detect(%q) = %q, want %q", tt.sample, got.Label, Default)
			}
		})
	}
}

func TestDetect_nonUTF8(t *testing.T) {
	d := NewDetector()
	sample := []byte("Le caf\xe9 est tr\xe8s chaud et la cr\xe8me br\xfbl\xe9e est d\xe9licieuse. " +
		"Nous avons mang\xe9 \xe0 la fen\xeatre pr\xe8s de l'\xe9glise.")
	got := d.Detect(sample)
	if got.Label == "" {
		t.Fatal("expected a label")
	}
	if got.Label == Default && got.Confidence == 100 {
		t.Errorf("latin-1 sample must not be reported as valid UTF-8")
	}
}

func TestDetect_minConfidenceFallsBackToDefault(t *testing.T) {
	d := NewDetector(WithMinConfidence(101))
	got := d.Detect([]byte("caf\xe9 cr\xe8me"))
	if got.Label != Default {
		t.Errorf("label = %q, want %q", got.Label, Default)
	}
}

func TestDetectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	if err := os.WriteFile(path, []byte("a;b\n1;2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewDetector(WithSampleBytes(4)).DetectFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != "UTF-8" {
		t.Errorf("label = %q, want UTF-8", got.Label)
	}
	if _, err := NewDetector().DetectFile(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCandidates(t *testing.T) {
	got := Candidates("utf-8", []string{"UTF-8", "", "windows-1252", "Windows-1252"})
	want := []string{"utf-8", "windows-1252"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates = %v, want %v", got, want)
	}
	got = Candidates("", DefaultFallbacks)
	if !reflect.DeepEqual(got, DefaultFallbacks) {
		t.Errorf("Candidates = %v, want %v", got, DefaultFallbacks)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		candidates []string
		want       string
		wantLabel  string
		wantErr    bool
	}{
		{"utf8", []byte("café"), []string{"UTF-8"}, "café", "UTF-8", false},
		{"bom stripped", []byte("\xef\xbb\xbfa;b"), []string{"UTF-8"}, "a;b", "UTF-8", false},
		{"fallback to windows-1252", []byte("caf\xe9"), []string{"UTF-8", "windows-1252"}, "café", "windows-1252", false},
		{"unknown label skipped", []byte("caf\xe9"), []string{"no-such-charset", "ISO-8859-1"}, "café", "ISO-8859-1", false},
		{"strict utf8 fails", []byte("caf\xe9"), []string{"UTF-8"}, "", "", true},
		{"no candidates means utf8", []byte("ok"), nil, "ok", "UTF-8", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, label, err := Decode(tt.data, tt.candidates...)
			if tt.wantErr {
				if !errors.Is(err, models.ErrDecode) {
					t.Fatalf("expected ErrDecode, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want || label != tt.wantLabel {
				t.Errorf("Decode = (%q, %q), want (%q, %q)", got, label, tt.want, tt.wantLabel)
			}
		})
	}
}

func TestDecodeUTF8(t *testing.T) {
	if _, err := DecodeUTF8([]byte{0xff, 0xfe, 0x00}); !errors.Is(err, models.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}
