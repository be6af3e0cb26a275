package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WebsocketDialer implements Dialer over gorilla/websocket, grounded in
// api_realtime/internal/websocket/hub.go's connection-handling idiom
// (adapted here from an inbound hub to an outbound dialer, since the host
// in this protocol dials out to the discovered client — see spec.md §4.5
// step 1).
type WebsocketDialer struct{}

// DialControl opens a control-plane websocket connection to addr.
func (WebsocketDialer) DialControl(ctx context.Context, addr string) (ControlSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/control", nil)
	if err != nil {
		return nil, fmt.Errorf("dial control socket: %w", err)
	}
	return &wsControlSocket{conn: conn}, nil
}

// DialStream opens a data-plane websocket connection to addr.
func (WebsocketDialer) DialStream(ctx context.Context, addr string) (StreamSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+"/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream socket: %w", err)
	}
	return &wsStreamSocket{conn: conn}, nil
}

// watchCancel unblocks a goroutine parked in conn.ReadMessage/WriteMessage
// when ctx is canceled: gorilla/websocket has no context-aware read/write,
// so the only way to interrupt an in-flight call is to force-close the
// underlying connection out from under it. The returned stop func must be
// deferred immediately after calling watchCancel to avoid leaking the
// watcher goroutine once the call returns on its own.
func watchCancel(ctx context.Context, conn *websocket.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// wsControlSocket wraps one *websocket.Conn. gorilla/websocket requires
// callers to serialize writers (concurrent WriteMessage calls interleave
// frame bytes on the wire); writeMu is the "control_sender shared via an
// async mutex" from spec.md §5, since keepalive and time_sync_send both
// write to this socket concurrently (internal/streaming/supervisor.go).
type wsControlSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsControlSocket) Send(ctx context.Context, p ControlPacket) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal control packet: %w", err)
	}
	stop := watchCancel(ctx, s.conn)
	defer stop()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *wsControlSocket) Recv(ctx context.Context) (ControlPacket, error) {
	stop := watchCancel(ctx, s.conn)
	defer stop()
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return ControlPacket{}, ctx.Err()
		}
		return ControlPacket{}, fmt.Errorf("recv control packet: %w", err)
	}
	var p ControlPacket
	if err := json.Unmarshal(data, &p); err != nil {
		return ControlPacket{}, fmt.Errorf("unmarshal control packet: %w", err)
	}
	return p, nil
}

func (s *wsControlSocket) Close() error { return s.conn.Close() }

// wsStreamSocket multiplexes the VIDEO/AUDIO/HAPTICS/INPUT channels over a
// single websocket connection using a small binary header: 1 byte channel
// id, 4 bytes big-endian header length, header bytes, then payload bytes.
// writeMu serializes the concurrent video_send/haptics_send/game_audio
// writers onto the one underlying connection, for the same reason
// wsControlSocket.writeMu exists.
type wsStreamSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsStreamSocket) Send(ctx context.Context, m StreamMessage) error {
	stop := watchCancel(ctx, s.conn)
	defer stop()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, encodeStreamFrame(m)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *wsStreamSocket) Recv(ctx context.Context) (StreamMessage, error) {
	stop := watchCancel(ctx, s.conn)
	defer stop()
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return StreamMessage{}, ctx.Err()
		}
		return StreamMessage{}, fmt.Errorf("recv stream message: %w", err)
	}
	return decodeStreamFrame(data)
}

func (s *wsStreamSocket) Close() error { return s.conn.Close() }

// encodeStreamFrame lays out one channel id byte, a 4-byte big-endian
// header length, the header bytes, then the payload bytes.
func encodeStreamFrame(m StreamMessage) []byte {
	frame := make([]byte, 0, 5+len(m.Header)+len(m.Payload))
	frame = append(frame, byte(m.Channel))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(m.Header)))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, m.Header...)
	frame = append(frame, m.Payload...)
	return frame
}

func decodeStreamFrame(data []byte) (StreamMessage, error) {
	if len(data) < 5 {
		return StreamMessage{}, fmt.Errorf("stream frame too short: %d bytes", len(data))
	}
	channel := Channel(data[0])
	headerLen := binary.BigEndian.Uint32(data[1:5])
	if int(headerLen) > len(data)-5 {
		return StreamMessage{}, fmt.Errorf("stream frame header length %d exceeds frame size", headerLen)
	}
	header := data[5 : 5+headerLen]
	payload := data[5+headerLen:]
	return StreamMessage{Channel: channel, Header: header, Payload: payload}, nil
}
