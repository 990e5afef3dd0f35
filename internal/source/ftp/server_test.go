package ftp

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedServer is a minimal FTP server over loopback. It speaks just enough
// of the protocol for login, CWD, NLST and RETR in extended passive mode.
type scriptedServer struct {
	ln       net.Listener
	done     chan struct{}
	password string
	dirs     map[string]bool
	names    []string // NLST answers 550 "No files found" when empty
	files    map[string]string

	silent    bool            // accept connections but never greet
	stall     map[string]bool // commands that never get a reply
	stallRetr map[string]bool // files whose body stops halfway without closing
}

func newScriptedServer(t *testing.T, opts ...func(*scriptedServer)) *scriptedServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &scriptedServer{
		ln:        ln,
		done:      make(chan struct{}),
		password:  "secret",
		dirs:      map[string]bool{},
		files:     map[string]string{},
		stall:     map[string]bool{},
		stallRetr: map[string]bool{},
	}

	for _, opt := range opts {
		opt(s)
	}

	t.Cleanup(func() {
		close(s.done)
		_ = ln.Close()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go s.serve(conn)
		}
	}()

	return s
}

func (s *scriptedServer) addr() string {
	return s.ln.Addr().String()
}

func (s *scriptedServer) serve(ctrl net.Conn) {
	defer ctrl.Close()

	if s.silent {
		<-s.done

		return
	}

	reply := func(format string, args ...any) {
		_, _ = fmt.Fprintf(ctrl, format+"\r\n", args...)
	}

	var data net.Listener

	defer func() {
		if data != nil {
			_ = data.Close()
		}
	}()

	reply("220 scripted server ready")

	r := bufio.NewReader(ctrl)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		verb, arg, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")

		if s.stall[verb] {
			<-s.done

			return
		}

		switch verb {
		case "USER":
			reply("331 password required")
		case "PASS":
			if arg == s.password {
				reply("230 logged in")
			} else {
				reply("530 Login incorrect.")
			}
		case "TYPE":
			reply("200 type set")
		case "CWD":
			if s.dirs[arg] {
				reply("250 directory changed")
			} else {
				reply("550 %s: no such directory", arg)
			}
		case "EPSV":
			if data != nil {
				_ = data.Close()
			}

			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")

				continue
			}

			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "NLST":
			if len(s.names) == 0 {
				reply("550 No files found")

				continue
			}

			s.send(ctrl, data, strings.Join(s.names, "\r\n")+"\r\n", false)
			data = nil
		case "RETR":
			body, ok := s.files[arg]
			if !ok {
				reply("550 %s: no such file", arg)

				continue
			}

			s.send(ctrl, data, body, s.stallRetr[arg])
			data = nil
		case "QUIT":
			reply("221 bye")

			return
		default:
			reply("502 command not implemented")
		}
	}
}

func (s *scriptedServer) send(ctrl net.Conn, data net.Listener, body string, stall bool) {
	if data == nil {
		_, _ = io.WriteString(ctrl, "425 use EPSV first\r\n")

		return
	}

	defer data.Close()

	_, _ = io.WriteString(ctrl, "150 opening data connection\r\n")

	dc, err := data.Accept()
	if err != nil {
		return
	}
	defer dc.Close()

	if stall {
		_, _ = io.WriteString(dc, body[:len(body)/2])
		<-s.done

		return
	}

	_, _ = io.WriteString(dc, body)
	_ = dc.Close()

	_, _ = io.WriteString(ctrl, "226 transfer complete\r\n")
}
