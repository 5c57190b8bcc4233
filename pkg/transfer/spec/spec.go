// Package spec contains constants for the transfer protocol.
package spec

import "time"

const (
	// ChunkSize is the size of a filler-data chunk. Senders never write
	// more than this per send call and receivers never ask for more per
	// read call.
	ChunkSize = 1000

	// StartLinePrefix is the prefix of the informational greeting line a
	// sender may transmit right after connecting. The line is terminated
	// by '\n' and carries the sender's epoch start time. Receivers strip
	// it before counting payload bytes and may otherwise ignore it.
	StartLinePrefix = "START "

	// ByeMessage is the terminal marker a sender transmits once it is
	// done sending payload. It is never counted as payload.
	ByeMessage = "BYE"

	// AckMessage is the receiver's reply to ByeMessage. Once the sender
	// reads it, both sides may tear the connection down.
	AckMessage = "ACK: BYE"

	// DrainDelay is how long a sender waits between its last payload
	// chunk and ByeMessage, so a slow receiver can drain its buffer
	// before the teardown exchange. Kept as a fixed delay for wire
	// compatibility.
	DrainDelay = 6 * time.Second

	// AckTimeout bounds how long a sender waits for AckMessage before
	// giving up on the handshake.
	AckTimeout = 10 * time.Second

	// DefaultDuration is how long a sender transmits when neither a byte
	// target nor an explicit duration is configured.
	DefaultDuration = 25 * time.Second

	// DefaultPort is the TCP port used when none is configured.
	DefaultPort = 8088

	// MinMeasureInterval is the minimum interval between subsequent
	// kernel-level measurements of an open connection.
	MinMeasureInterval = 100 * time.Millisecond

	// AvgMeasureInterval is the average interval between subsequent
	// kernel-level measurements of an open connection.
	AvgMeasureInterval = 250 * time.Millisecond

	// MaxMeasureInterval is the maximum interval between subsequent
	// kernel-level measurements of an open connection.
	MaxMeasureInterval = 400 * time.Millisecond

	// PeerGroupTTL is how long the server keeps a peer's finished
	// sessions around, waiting for its remaining parallel connections,
	// before emitting the aggregate line for that peer.
	PeerGroupTTL = 10 * time.Second
)

// Direction indicates which way payload flows in a session.
type Direction string

const (
	// DirectionSend is the sending (client) side of a session.
	DirectionSend = Direction("send")

	// DirectionReceive is the receiving (server) side of a session.
	DirectionReceive = Direction("receive")
)
