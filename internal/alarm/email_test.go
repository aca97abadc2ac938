package alarm

import (
	"bufio"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategykit/internal/ops"
)

func testConfig(port int) ops.EmailConfig {
	return ops.EmailConfig{
		SMTPServer: "127.0.0.1",
		SMTPPort:   port,
		Sender:     "bot@example.com",
		Recipients: []string{"ops@example.com", "dev@example.com"},
	}
}

func TestSendWithoutContent(t *testing.T) {
	e := New(testConfig(25))
	require.ErrorIs(t, e.Send(t.Context(), "empty"), ErrNoContent)
}

func TestAttachUnknownKind(t *testing.T) {
	e := New(testConfig(25))
	require.ErrorIs(t, e.Attach("pdf", "x"), ErrUnknownKind)
}

func TestMessage(t *testing.T) {
	e := New(testConfig(25))
	require.NoError(t, e.Attach(KindText, "plain body"))
	require.NoError(t, e.Attach(KindHTML, "<b>bold</b>"))
	e.AttachFile("report.csv", []byte("a,b\n1,2\n"))

	raw, err := e.Message("Daily report")
	require.NoError(t, err)

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "Daily report", msg.Header.Get("Subject"))
	assert.Equal(t, "bot@example.com", msg.Header.Get("From"))
	assert.Equal(t, "ops@example.com, dev@example.com", msg.Header.Get("To"))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	reader := multipart.NewReader(msg.Body, params["boundary"])
	var bodies, types []string
	for {
		p, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(p)
		require.NoError(t, err)
		types = append(types, p.Header.Get("Content-Type"))
		bodies = append(bodies, string(data))
		if p.FileName() != "" {
			assert.Equal(t, "report.csv", p.FileName())
		}
	}

	require.Len(t, bodies, 3)
	assert.Equal(t, []string{"text/plain; charset=utf-8", "text/html; charset=utf-8", "application/octet-stream"}, types)
	assert.Equal(t, "plain body", bodies[0])
	assert.Equal(t, "<b>bold</b>", bodies[1])
	assert.Equal(t, "YSxiCjEsMgo=\r\n", bodies[2])
}

// fakeRelay accepts one session and records the DATA payload.
func fakeRelay(t *testing.T) (port int, data <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		r := bufio.NewReader(conn)
		reply := func(line string) { _, _ = io.WriteString(conn, line+"\r\n") }
		reply("220 fake ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 fake")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 ok")
			case cmd == "DATA":
				reply("354 go ahead")
				var body strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					body.WriteString(l)
				}
				out <- body.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 unsupported")
			}
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err = strconv.Atoi(portStr)
	require.NoError(t, err)
	return port, out
}

func TestSend(t *testing.T) {
	port, data := fakeRelay(t)

	e := New(testConfig(port))
	require.NoError(t, e.Attach(KindText, "strategy stopped"))
	require.NoError(t, e.Send(t.Context(), "Alert"))

	select {
	case body := <-data:
		assert.Contains(t, body, "Subject: Alert")
		assert.Contains(t, body, "strategy stopped")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for relay")
	}
}
