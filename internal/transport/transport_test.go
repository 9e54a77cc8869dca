package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/oriys/capsule/internal/sandboxerr"
)

func TestLoopbackRoundTrip(t *testing.T) {
	ln, err := ListenLoopback(0)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	port := uint32(ln.Addr().(*net.TCPAddr).Port)

	serverDone := make(chan struct{})
	var serverErr error
	go func() {
		defer close(serverDone)
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			serverErr = acceptErr
			return
		}
		defer conn.Close()
		msg, recvErr := conn.Recv()
		if recvErr != nil {
			serverErr = recvErr
			return
		}
		serverErr = conn.Send(msg)
	}()

	dialer := LoopbackDialer{}
	conn, err := dialer.Dial(0, port)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	payload := []byte("hello guest")
	if err := conn.Send(payload); err != nil {
		t.Fatal(err)
	}
	got, err := conn.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("echoed payload mismatch: got %q want %q", got, payload)
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server goroutine did not complete")
	}
	if serverErr != nil {
		t.Fatalf("server error: %v", serverErr)
	}
}

func TestCloseBeforeFrameIsConnectionClosed(t *testing.T) {
	ln, err := ListenLoopback(0)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := uint32(ln.Addr().(*net.TCPAddr).Port)

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		conn.Close()
	}()

	dialer := LoopbackDialer{}
	conn, err := dialer.Dial(0, port)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, err = conn.Recv()
	if err == nil {
		t.Fatal("expected error reading from a closed peer")
	}
	var se *sandboxerr.Error
	if !errors.As(err, &se) || se.Kind != sandboxerr.KindConnectionClosed {
		t.Fatalf("expected ConnectionClosed, got %v", err)
	}
}
