package logstream

import (
	"context"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestUDPSource(t *testing.T) {
	src, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(src.Target(), "socket:127.0.0.1:") {
		t.Errorf("Target() = %q", src.Target())
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan []string, 1)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, func(lines []string) { got <- lines }) }()

	conn, err := net.Dial("udp", src.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("first\nsecond\n")); err != nil {
		t.Fatal(err)
	}

	select {
	case lines := <-got:
		if !reflect.DeepEqual(lines, []string{"first", "second"}) {
			t.Errorf("lines = %q", lines)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "one", want: []string{"one"}},
		{in: "one\r\n", want: []string{"one"}},
		{in: "a\nb", want: []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := splitLines(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitLines(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
