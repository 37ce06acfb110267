package imap

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/config"
)

// fakePlaintextServer 起一个只会应答问候、CAPABILITY、LOGIN 和 LOGOUT
// 的明文 IMAP 服务端，返回监听地址。
func fakePlaintextServer(t *testing.T) net.Addr {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		fmt.Fprint(conn, "* OK [CAPABILITY IMAP4rev1] ready\r\n")
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			tag, command := fields[0], strings.ToUpper(fields[1])
			switch command {
			case "CAPABILITY":
				fmt.Fprint(conn, "* CAPABILITY IMAP4rev1\r\n")
				fmt.Fprintf(conn, "%s OK CAPABILITY completed\r\n", tag)
			case "LOGIN":
				fmt.Fprintf(conn, "%s OK LOGIN completed\r\n", tag)
			case "LOGOUT":
				fmt.Fprint(conn, "* BYE\r\n")
				fmt.Fprintf(conn, "%s OK LOGOUT completed\r\n", tag)
				return
			default:
				fmt.Fprintf(conn, "%s OK\r\n", tag)
			}
		}
	}()

	return ln.Addr()
}

func TestConnectHonorsUseTLSOff(t *testing.T) {
	host, portStr, err := net.SplitHostPort(fakePlaintextServer(t).String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(config.IMAPConfig{
		Host:           host,
		Port:           port,
		Username:       "bot",
		Password:       "secret",
		UseTLS:         false,
		ConnectTimeout: 2 * time.Second,
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
	}, nil, zap.NewNop())

	require.NoError(t, c.Connect())
	assert.NoError(t, c.Close())
}

func TestLastN(t *testing.T) {
	uids := []uint32{1, 2, 3, 4, 5}

	assert.Equal(t, []uint32{3, 4, 5}, lastN(uids, 3))
	assert.Equal(t, uids, lastN(uids, 5))
	assert.Equal(t, uids, lastN(uids, 10))
	assert.Equal(t, uids, lastN(uids, 0))
	assert.Empty(t, lastN(nil, 3))
}
