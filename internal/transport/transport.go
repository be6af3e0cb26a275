// Package transport defines the control-plane and data-plane socket
// contracts spec.md §1/§6 name as an external collaborator (the stream
// socket transport), along with a concrete gorilla/websocket
// implementation so the rest of the runtime can run end-to-end.
package transport

import "context"

// Channel identifies one of the logical data-plane sub-streams
// multiplexed over the stream socket, per spec.md §6.
type Channel int

const (
	ChannelVideo Channel = iota
	ChannelAudio
	ChannelHaptics
	ChannelInput
)

// ControlPacket is the tagged union of reliable, ordered control-plane
// messages exchanged over the ControlSocket, per spec.md §6.
type ControlPacket struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload,omitempty"`
}

// Control packet kinds.
const (
	PacketStartStream       = "StartStream"
	PacketRestarting        = "Restarting"
	PacketKeepAlive         = "KeepAlive"
	PacketTimeSync          = "TimeSync"
	PacketStreamReady       = "StreamReady"
	PacketPlayspaceSync     = "PlayspaceSync"
	PacketRequestIdr        = "RequestIdr"
	PacketVideoErrorReport  = "VideoErrorReport"
	PacketViewsConfig       = "ViewsConfig"
	PacketBattery           = "Battery"
)

// ControlSocket is the reliable ordered control-plane connection between
// host and client. Send/Recv both suspend the caller, matching spec.md §5's
// suspension-point model.
type ControlSocket interface {
	Send(ctx context.Context, p ControlPacket) error
	Recv(ctx context.Context) (ControlPacket, error)
	Close() error
}

// StreamMessage is one framed message on a data-plane channel.
type StreamMessage struct {
	Channel Channel
	Header  []byte
	Payload []byte
}

// StreamSocket is the multiplexed data-plane connection carrying
// VIDEO/AUDIO/HAPTICS/INPUT channels, per spec.md §6.
type StreamSocket interface {
	Send(ctx context.Context, m StreamMessage) error
	Recv(ctx context.Context) (StreamMessage, error)
	Close() error
}

// Dialer opens control and stream sockets to a candidate client address.
type Dialer interface {
	DialControl(ctx context.Context, addr string) (ControlSocket, error)
	DialStream(ctx context.Context, addr string) (StreamSocket, error)
}
