package remote

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestShellQuote(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain", "plain"},
		{"/projects/jobs/run1_ab", "/projects/jobs/run1_ab"},
		{"has space", "'has space'"},
		{"semi;colon", "'semi;colon'"},
		{"$(danger)", "'$(danger)'"},
		{"it's", `'it'\''s'`},
	}
	for _, c := range cases {
		if got := ShellQuote(c.in); got != c.want {
			t.Errorf("ShellQuote(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestQuoteAll(t *testing.T) {
	got := QuoteAll("rm", "-rf", "/p/a dir")
	if got != "rm -rf '/p/a dir'" {
		t.Errorf("QuoteAll = %q", got)
	}
}

func TestPartialName(t *testing.T) {
	got := partialName("/projects/jobs/run1/job_info")
	if got != "/projects/jobs/run1/.job_info.partial" {
		t.Errorf("partialName = %q", got)
	}
}

func TestCopyWithProgress(t *testing.T) {
	src := bytes.Repeat([]byte("x"), 3*transferChunkSize/2)
	var dst bytes.Buffer
	var percents []float64

	err := copyWithProgress(&dst, bytes.NewReader(src), int64(len(src)), func(p float64) {
		percents = append(percents, p)
	})
	if err != nil {
		t.Fatalf("copyWithProgress: %v", err)
	}
	if dst.Len() != len(src) {
		t.Errorf("copied %d bytes, want %d", dst.Len(), len(src))
	}
	if len(percents) < 2 {
		t.Fatalf("expected multiple progress callbacks, got %v", percents)
	}
	if percents[0] != 0 || percents[len(percents)-1] != 100 {
		t.Errorf("progress should run 0..100, got %v", percents)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Errorf("progress went backwards: %v", percents)
		}
	}
}

func TestCopyWithProgress_ReadError(t *testing.T) {
	boom := errors.New("read: connection reset by peer")
	r := io.MultiReader(strings.NewReader("partial"), &failingReader{err: boom})
	var dst bytes.Buffer
	if err := copyWithProgress(&dst, r, 100, nil); !errors.Is(err, boom) {
		t.Errorf("expected read error, got %v", err)
	}
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestIsConnectionDead(t *testing.T) {
	dead := []error{
		io.EOF,
		errors.New("read tcp: connection reset by peer"),
		errors.New("write: broken pipe"),
		errors.New("use of closed network connection"),
	}
	for _, err := range dead {
		if !isConnectionDead(err) {
			t.Errorf("isConnectionDead(%v) = false", err)
		}
	}
	if isConnectionDead(errors.New("exit status 1")) {
		t.Error("exit status misclassified as dead connection")
	}
}
