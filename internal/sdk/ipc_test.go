package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte(`{"v":1,"client_id":"123"}`)
	require.NoError(t, writeFrame(&buf, opHandshake, payload))

	op, data, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, opHandshake, op)
	assert.Equal(t, payload, data)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 8)
	header[4] = 0xFF
	header[5] = 0xFF
	header[6] = 0xFF
	buf.Write(header)

	_, _, err := readFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameShortHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{1, 2, 3})
	_, _, err := readFrame(buf)
	require.Error(t, err)
}

// fakeService accepts one connection on a unix socket and answers every
// frame with a success response, recording what it saw.
type fakeService struct {
	listener net.Listener
	frames   chan []byte
}

func startFakeService(t *testing.T) *fakeService {
	t.Helper()

	path := filepath.Join(t.TempDir(), "discord-ipc-0")
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	t.Setenv("XDG_RUNTIME_DIR", filepath.Dir(path))

	svc := &fakeService{listener: listener, frames: make(chan []byte, 16)}
	go svc.serve()
	return svc
}

func (s *fakeService) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := readFrame(conn)
		if err != nil {
			return
		}
		s.frames <- data
		writeFrame(conn, opFrame, []byte(`{"evt":"READY"}`))
	}
}

func TestLoginAndSetActivity(t *testing.T) {
	svc := startFakeService(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	connector := NewIPCConnector(zerolog.Nop())
	conn, err := connector.Login(ctx, "client-123")
	require.NoError(t, err)
	defer conn.Close()

	handshake := <-svc.frames
	var hs map[string]interface{}
	require.NoError(t, json.Unmarshal(handshake, &hs))
	assert.Equal(t, "client-123", hs["client_id"])

	require.NoError(t, conn.SetActivity(ctx, Activity{Details: "Using App A", StartTimestamp: 1700000000}))

	frame := <-svc.frames
	var cmd struct {
		Cmd  string `json:"cmd"`
		Args struct {
			Activity *struct {
				Details    string `json:"details"`
				Timestamps *struct {
					Start int64 `json:"start"`
				} `json:"timestamps"`
			} `json:"activity"`
		} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(frame, &cmd))
	assert.Equal(t, "SET_ACTIVITY", cmd.Cmd)
	require.NotNil(t, cmd.Args.Activity)
	assert.Equal(t, "Using App A", cmd.Args.Activity.Details)
	require.NotNil(t, cmd.Args.Activity.Timestamps)
	assert.EqualValues(t, 1700000000, cmd.Args.Activity.Timestamps.Start)
}

func TestClearSendsNullActivity(t *testing.T) {
	svc := startFakeService(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	connector := NewIPCConnector(zerolog.Nop())
	conn, err := connector.Login(ctx, "client-123")
	require.NoError(t, err)
	defer conn.Close()

	<-svc.frames // handshake

	require.NoError(t, conn.Clear(ctx))

	frame := <-svc.frames
	var cmd struct {
		Args struct {
			Activity json.RawMessage `json:"activity"`
		} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(frame, &cmd))
	assert.Equal(t, "null", string(cmd.Args.Activity))
}

func TestLoginFailsWithoutService(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	t.Setenv("TMPDIR", t.TempDir())
	t.Setenv("TMP", "")
	t.Setenv("TEMP", "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	connector := NewIPCConnector(zerolog.Nop())
	_, err := connector.Login(ctx, "client-123")
	require.Error(t, err)
}
