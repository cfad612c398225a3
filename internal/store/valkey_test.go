package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeValkey implements just enough RESP for PING/GET/SET.
type fakeValkey struct {
	mu   sync.Mutex
	data map[string][]byte
	ln   net.Listener
}

func startFakeValkey(t *testing.T) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeValkey{data: make(map[string][]byte), ln: ln}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeValkey) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		var reply string
		switch strings.ToUpper(string(args[0])) {
		case "PING":
			reply = "+PONG\r\n"
		case "SET":
			f.mu.Lock()
			f.data[string(args[1])] = append([]byte(nil), args[2]...)
			f.mu.Unlock()
			reply = "+OK\r\n"
		case "GET":
			f.mu.Lock()
			v, ok := f.data[string(args[1])]
			f.mu.Unlock()
			if !ok {
				reply = "$-1\r\n"
			} else {
				reply = fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
			}
		default:
			reply = "-ERR unknown command\r\n"
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([][]byte, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(header, "*") {
		return nil, errors.New("expected array")
	}
	n, err := strconv.Atoi(strings.TrimSpace(header[1:]))
	if err != nil {
		return nil, err
	}
	args := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(sizeLine[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, buf[:size])
	}
	return args, nil
}

func TestValkeyStoreRoundTrip(t *testing.T) {
	server := startFakeValkey(t)

	s, err := NewValkeyStore(ValkeyConfig{Addr: server.ln.Addr().String(), ReadTimeout: time.Second, WriteTimeout: time.Second})
	if err != nil {
		t.Fatalf("new valkey store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Read(ctx, RecordSummary); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Write(ctx, RecordSummary, []byte(`{"totalTests":3}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.Read(ctx, RecordSummary)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != `{"totalTests":3}` {
		t.Fatalf("unexpected payload %q", got)
	}

	server.mu.Lock()
	_, prefixed := server.data["mirador-resilience:"+RecordSummary]
	server.mu.Unlock()
	if !prefixed {
		t.Fatalf("expected key to carry the default prefix")
	}
}

func TestNewValkeyStoreRequiresAddr(t *testing.T) {
	if _, err := NewValkeyStore(ValkeyConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
