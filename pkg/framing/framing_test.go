package framing

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// scriptedReader returns the scripted results of successive Read calls.
type scriptedReader struct {
	steps []readStep
}

type readStep struct {
	data string
	err  error
}

func (s *scriptedReader) Read(p []byte) (int, error) {
	if len(s.steps) == 0 {
		return 0, io.EOF
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	n := copy(p, step.data)
	return n, step.err
}

func readAll(t *testing.T, r MessageReader) ([]string, error) {
	t.Helper()
	var out []string
	for i := 0; i < 100; i++ {
		msg, err := r.ReadMessage()
		if err != nil {
			return out, err
		}
		out = append(out, string(msg))
	}
	t.Fatal("reader did not terminate")
	return nil, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		wantName string
		wantErr  bool
	}{
		{"", Raw, false},
		{"raw", Raw, false},
		{"LINE", Line, false},
		{" length ", Length, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := New(tt.name, 0, 0)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownCodec) {
					t.Fatalf("New(%q) error = %v, want ErrUnknownCodec", tt.name, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q): %v", tt.name, err)
			}
			if codec.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", codec.Name(), tt.wantName)
			}
		})
	}
}

func TestRawReader_SplitsAtChunkSize(t *testing.T) {
	input := strings.Repeat("x", DefaultChunkSize+1)
	r := NewRawCodec(DefaultChunkSize).NewReader(strings.NewReader(input))

	got, err := readAll(t, r)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("final error = %v, want io.EOF", err)
	}
	if len(got) != 2 || len(got[0]) != DefaultChunkSize || got[1] != "x" {
		t.Fatalf("got %d messages (lens %v), want [1024 1]", len(got), lens(got))
	}
}

func TestRawReader_ExactChunk(t *testing.T) {
	input := strings.Repeat("y", 8)
	r := NewRawCodec(8).NewReader(strings.NewReader(input))

	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg) != input {
		t.Errorf("ReadMessage() = %q, want %q", msg, input)
	}
	if _, err := r.ReadMessage(); !errors.Is(err, io.EOF) {
		t.Errorf("second ReadMessage() error = %v, want io.EOF", err)
	}
}

func TestRawReader_NoDataAndHeldBackError(t *testing.T) {
	boom := errors.New("boom")
	src := &scriptedReader{steps: []readStep{
		{data: "", err: nil},
		{data: "tail", err: boom},
	}}
	r := NewRawCodec(16).NewReader(src)

	if _, err := r.ReadMessage(); !errors.Is(err, ErrNoData) {
		t.Fatalf("first ReadMessage() error = %v, want ErrNoData", err)
	}

	msg, err := r.ReadMessage()
	if err != nil || string(msg) != "tail" {
		t.Fatalf("second ReadMessage() = (%q, %v), want (tail, nil)", msg, err)
	}

	if _, err := r.ReadMessage(); !errors.Is(err, boom) {
		t.Fatalf("third ReadMessage() error = %v, want boom", err)
	}
}

func TestRawReader_MessagesDoNotAlias(t *testing.T) {
	r := NewRawCodec(4).NewReader(strings.NewReader("aaaabbbb"))

	first, _ := r.ReadMessage()
	second, _ := r.ReadMessage()
	if string(first) != "aaaa" || string(second) != "bbbb" {
		t.Errorf("messages = %q, %q; want aaaa, bbbb", first, second)
	}
}

func TestLineReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  []string
	}{
		{"two lines", "a\nb\n", 16, []string{"a", "b"}},
		{"empty line", "\n", 16, []string{""}},
		{"unterminated tail", "hello\ntail", 16, []string{"hello", "tail"}},
		{"no input", "", 16, nil},
		{"line longer than bufio buffer", strings.Repeat("z", 5000) + "\n", 8192, []string{strings.Repeat("z", 5000)}},
		{"exactly max", "abc\n", 3, []string{"abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewLineCodec(tt.max).NewReader(strings.NewReader(tt.input))
			got, err := readAll(t, r)
			if !errors.Is(err, io.EOF) {
				t.Fatalf("final error = %v, want io.EOF", err)
			}
			if !equalStrings(got, tt.want) {
				t.Errorf("messages = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLineReader_TooLargeIsSkipped(t *testing.T) {
	r := NewLineCodec(3).NewReader(strings.NewReader("abcdef\nok\n"))

	_, err := r.ReadMessage()
	var tooLarge *FrameTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("ReadMessage() error = %v, want *FrameTooLargeError", err)
	}
	if tooLarge.Size != 6 || tooLarge.Limit != 3 {
		t.Errorf("FrameTooLargeError = %+v, want Size 6 Limit 3", tooLarge)
	}
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Error("FrameTooLargeError should match ErrFrameTooLarge")
	}

	msg, err := r.ReadMessage()
	if err != nil || string(msg) != "ok" {
		t.Errorf("next ReadMessage() = (%q, %v), want (ok, nil)", msg, err)
	}
}

func TestLineWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineCodec(0).NewWriter(&buf)

	_ = w.WriteMessage([]byte("pong: a"))
	_ = w.WriteMessage([]byte("pong: "))
	if buf.Len() != 0 {
		t.Errorf("writer reached the stream before Flush: %q", buf.String())
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := buf.String(); got != "pong: a\npong: \n" {
		t.Errorf("output = %q", got)
	}
}

func TestLengthCodec_RoundTrip(t *testing.T) {
	codec := NewLengthCodec(64)
	var buf bytes.Buffer

	w := codec.NewWriter(&buf)
	for _, m := range []string{"hello", "", "multi\nline"} {
		if err := w.WriteMessage([]byte(m)); err != nil {
			t.Fatalf("WriteMessage(%q): %v", m, err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if !bytes.HasPrefix(buf.Bytes(), []byte{0, 0, 0, 5, 'h'}) {
		t.Fatalf("header is not big-endian length: % x", buf.Bytes()[:5])
	}

	got, err := readAll(t, codec.NewReader(&buf))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("final error = %v, want io.EOF", err)
	}
	if want := []string{"hello", "", "multi\nline"}; !equalStrings(got, want) {
		t.Errorf("messages = %q, want %q", got, want)
	}
}

func TestLengthReader_Truncated(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"partial header", []byte{0, 0}},
		{"partial payload", []byte{0, 0, 0, 4, 'a', 'b'}},
		{"partial oversized payload", []byte{0, 0, 0, 200, 'a'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewLengthCodec(16).NewReader(bytes.NewReader(tt.input))
			if _, err := r.ReadMessage(); !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("ReadMessage() error = %v, want io.ErrUnexpectedEOF", err)
			}
		})
	}
}

func TestLengthReader_TooLargeIsSkipped(t *testing.T) {
	input := []byte{0, 0, 0, 6}
	input = append(input, "abcdef"...)
	input = append(input, 0, 0, 0, 2, 'o', 'k')

	r := NewLengthCodec(4).NewReader(bytes.NewReader(input))

	if _, err := r.ReadMessage(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("ReadMessage() error = %v, want ErrFrameTooLarge", err)
	}
	msg, err := r.ReadMessage()
	if err != nil || string(msg) != "ok" {
		t.Errorf("next ReadMessage() = (%q, %v), want (ok, nil)", msg, err)
	}
}

func TestNewStream(t *testing.T) {
	var out bytes.Buffer
	s := NewStream(NewLineCodec(0), strings.NewReader("ping\n"), &out)

	msg, err := s.ReadMessage()
	if err != nil || string(msg) != "ping" {
		t.Fatalf("ReadMessage() = (%q, %v)", msg, err)
	}
	_ = s.WriteMessage(append([]byte("pong: "), msg...))
	_ = s.Flush()
	if out.String() != "pong: ping\n" {
		t.Errorf("output = %q", out.String())
	}
}

func lens(msgs []string) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = len(m)
	}
	return out
}
