package main

import (
	"bytes"
	"testing"
)

func TestWriteSimpleStringResponse(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		in   string
		want string
	}{
		{"OK", "+OK\r\n"},     // pre-allocated fast path
		{"PONG", "+PONG\r\n"}, // pre-allocated fast path
		{"custom", "+custom\r\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := app.writeSimpleStringResponse(&buf, tt.in); err != nil {
			t.Fatalf("write %q: %v", tt.in, err)
		}
		if buf.String() != tt.want {
			t.Errorf("simple string %q: got %q, want %q", tt.in, buf.String(), tt.want)
		}
	}
}

func TestWriteErrorResponse(t *testing.T) {
	app := newTestApp(t)

	var buf bytes.Buffer
	if err := app.writeErrorResponse(&buf, "ERR something broke"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "-ERR something broke\r\n" {
		t.Errorf("error response: got %q", buf.String())
	}
}

func TestWriteIntegerResponse(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		in   int64
		want string
	}{
		{0, ":0\r\n"}, // pre-allocated fast path
		{1, ":1\r\n"}, // pre-allocated fast path
		{42, ":42\r\n"},
		{-7, ":-7\r\n"},
		{1234567890, ":1234567890\r\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := app.writeIntegerResponse(&buf, tt.in); err != nil {
			t.Fatalf("write %d: %v", tt.in, err)
		}
		if buf.String() != tt.want {
			t.Errorf("integer %d: got %q, want %q", tt.in, buf.String(), tt.want)
		}
	}
}

func TestWriteBulkStringResponse(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		in   string
		want string
	}{
		{"hello", "$5\r\nhello\r\n"},
		{"", "$0\r\n\r\n"},
		{"a\r\nb", "$4\r\na\r\nb\r\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := app.writeBulkStringResponse(&buf, tt.in); err != nil {
			t.Fatalf("write %q: %v", tt.in, err)
		}
		if buf.String() != tt.want {
			t.Errorf("bulk string %q: got %q, want %q", tt.in, buf.String(), tt.want)
		}
	}
}

func TestWriteNilResponse(t *testing.T) {
	app := newTestApp(t)

	var buf bytes.Buffer
	if err := app.writeNilResponse(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "$-1\r\n" {
		t.Errorf("nil response: got %q", buf.String())
	}
}
