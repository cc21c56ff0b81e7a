package sdk

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// IPC opcodes of the local presence service.
const (
	opHandshake uint32 = 0
	opFrame     uint32 = 1
	opClose     uint32 = 2
)

const maxFrameLen = 64 * 1024

// IPCConnector dials the presence service's local socket
// (discord-ipc-0..9 under the runtime directory).
type IPCConnector struct {
	log zerolog.Logger
}

func NewIPCConnector(logger zerolog.Logger) *IPCConnector {
	return &IPCConnector{log: logger.With().Str("component", "presence-ipc").Logger()}
}

// Login dials the socket and performs the handshake for clientID.
func (c *IPCConnector) Login(ctx context.Context, clientID string) (Conn, error) {
	sock, err := dialSocket(ctx)
	if err != nil {
		return nil, fmt.Errorf("presence service unreachable: %w", err)
	}

	conn := &ipcConn{sock: sock, pid: os.Getpid()}

	handshake := map[string]interface{}{"v": 1, "client_id": clientID}
	if err := conn.roundTrip(ctx, opHandshake, handshake); err != nil {
		sock.Close()
		return nil, fmt.Errorf("handshake for client %s failed: %w", clientID, err)
	}

	c.log.Info().Str("client_id", clientID).Msg("presence session established")
	return conn, nil
}

type ipcConn struct {
	sock  net.Conn
	pid   int
	mu    sync.Mutex
	nonce uint64
}

type activityTimestamps struct {
	Start int64 `json:"start"`
}

type activityPayload struct {
	Details    string              `json:"details,omitempty"`
	Timestamps *activityTimestamps `json:"timestamps,omitempty"`
}

type commandArgs struct {
	PID      int              `json:"pid"`
	Activity *activityPayload `json:"activity"`
}

type command struct {
	Cmd   string      `json:"cmd"`
	Args  commandArgs `json:"args"`
	Nonce string      `json:"nonce"`
}

func (c *ipcConn) SetActivity(ctx context.Context, activity Activity) error {
	payload := &activityPayload{Details: activity.Details}
	if activity.StartTimestamp > 0 {
		payload.Timestamps = &activityTimestamps{Start: activity.StartTimestamp}
	}
	return c.setActivity(ctx, payload)
}

// Clear sends a SET_ACTIVITY with a null activity, which removes the
// displayed presence.
func (c *ipcConn) Clear(ctx context.Context) error {
	return c.setActivity(ctx, nil)
}

func (c *ipcConn) Close() error {
	return c.sock.Close()
}

func (c *ipcConn) setActivity(ctx context.Context, payload *activityPayload) error {
	c.mu.Lock()
	c.nonce++
	nonce := c.nonce
	c.mu.Unlock()

	cmd := command{
		Cmd:   "SET_ACTIVITY",
		Args:  commandArgs{PID: c.pid, Activity: payload},
		Nonce: fmt.Sprintf("%d", nonce),
	}
	return c.roundTrip(ctx, opFrame, cmd)
}

// roundTrip writes one frame and waits for the service's response
// frame, honoring the context deadline on both directions.
func (c *ipcConn) roundTrip(ctx context.Context, op uint32, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := c.sock.SetDeadline(deadline); err != nil {
		return err
	}
	defer c.sock.SetDeadline(time.Time{})

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := writeFrame(c.sock, op, data); err != nil {
		return err
	}

	respOp, respData, err := readFrame(c.sock)
	if err != nil {
		return err
	}
	if respOp == opClose {
		return fmt.Errorf("presence service closed the connection: %s", respData)
	}

	var resp struct {
		Evt  string `json:"evt"`
		Data struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respData, &resp); err != nil {
		return fmt.Errorf("undecodable response frame: %w", err)
	}
	if resp.Evt == "ERROR" {
		return fmt.Errorf("presence service error %d: %s", resp.Data.Code, resp.Data.Message)
	}
	return nil
}

// writeFrame encodes op and length as little-endian uint32s followed by
// the JSON payload.
func writeFrame(w io.Writer, op uint32, payload []byte) error {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], op)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (uint32, []byte, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	op := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > maxFrameLen {
		return 0, nil, fmt.Errorf("frame length %d exceeds limit", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return op, payload, nil
}

// dialSocket tries the well-known socket names under the runtime
// directories until one accepts the connection.
func dialSocket(ctx context.Context) (net.Conn, error) {
	var dialer net.Dialer
	var lastErr error

	for _, dir := range socketDirs() {
		for i := 0; i < 10; i++ {
			path := filepath.Join(dir, fmt.Sprintf("discord-ipc-%d", i))
			conn, err := dialer.DialContext(ctx, "unix", path)
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate socket directory")
	}
	return nil, lastErr
}

func socketDirs() []string {
	var dirs []string
	for _, env := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if dir := os.Getenv(env); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return append(dirs, "/tmp")
}
