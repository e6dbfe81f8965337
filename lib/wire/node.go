// Package wire implements the framed message stream the bridge runs over.
// Messages are split into chunked frames so large payloads do not block the
// pipe, and every frame carries a sequence number so responses can be
// correlated with the request that produced them.
package wire

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const (
	frameStart = uint8(0x01) // opens a message, length field holds the total size
	frameData  = uint8(0x02) // payload chunk
	frameEnd   = uint8(0x03) // closes a message
	frameAbort = uint8(0x04) // sender gave up mid-message
)

const (
	// frameHeaderSize is 1 byte frame type + 4 bytes sequence + 4 bytes length.
	frameHeaderSize = 9

	// DefaultChunkSize is the payload size of a single data frame.
	DefaultChunkSize = 4 * 1024

	// DefaultMaxMessageSize bounds a reassembled message.
	DefaultMaxMessageSize = 8 * 1024 * 1024
)

// Message is a fully reassembled message delivered by ReadMessages.
type Message struct {
	Sequence uint32
	Data     []byte
}

// Node frames messages onto a writer and reassembles them from a reader.
// Writes are safe for concurrent use; ReadMessages must be called once.
type Node struct {
	reader io.Reader
	writer io.Writer

	writeMu sync.Mutex

	partialMu sync.Mutex
	partial   map[uint32][]byte

	sequence atomic.Uint32
	seqEven  bool

	chunkSize      int
	maxMessageSize int
}

// NewNode creates a Node with the default chunk and message size limits.
// Sequences the node assigns itself are odd.
func NewNode(reader io.Reader, writer io.Writer) *Node {
	return newNode(reader, writer, false)
}

// NewPeerNode is NewNode with the node's own sequences drawn from the
// even half of the space. A stream carries locally assigned sequences
// next to echoes of the peer's, so the two ends must assign from
// disjoint halves or their frames share a reassembly slot.
func NewPeerNode(reader io.Reader, writer io.Writer) *Node {
	return newNode(reader, writer, true)
}

func newNode(reader io.Reader, writer io.Writer, seqEven bool) *Node {
	return &Node{
		reader:         reader,
		writer:         writer,
		partial:        make(map[uint32][]byte),
		seqEven:        seqEven,
		chunkSize:      DefaultChunkSize,
		maxMessageSize: DefaultMaxMessageSize,
	}
}

func (n *Node) writeFrame(frameType uint8, seq uint32, data []byte) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	if n.writer == nil {
		return fmt.Errorf("wire: writer is nil")
	}

	header := [frameHeaderSize]byte{frameType}
	header[1] = byte(seq >> 24)
	header[2] = byte(seq >> 16)
	header[3] = byte(seq >> 8)
	header[4] = byte(seq)
	header[5] = byte(len(data) >> 24)
	header[6] = byte(len(data) >> 16)
	header[7] = byte(len(data) >> 8)
	header[8] = byte(len(data))

	if _, err := n.writer.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if frameType == frameData && len(data) > 0 {
		if _, err := n.writer.Write(data); err != nil {
			return fmt.Errorf("wire: write frame data: %w", err)
		}
	}
	return nil
}

// WriteMessageWithSequence frames data under the given sequence number.
// If ctx is cancelled mid-message an abort frame is emitted so the peer
// discards the partial message.
func (n *Node) WriteMessageWithSequence(ctx context.Context, seq uint32, data []byte) error {
	if len(data) > n.maxMessageSize {
		return fmt.Errorf("wire: message size %d exceeds maximum %d", len(data), n.maxMessageSize)
	}

	if err := n.writeFrame(frameStart, seq, data); err != nil {
		return err
	}

	for len(data) > 0 {
		select {
		case <-ctx.Done():
			if err := n.writeFrame(frameAbort, seq, nil); err != nil {
				return fmt.Errorf("wire: abort after cancellation: %w", err)
			}
			return ctx.Err()
		default:
		}

		chunk := min(len(data), n.chunkSize)
		if err := n.writeFrame(frameData, seq, data[:chunk]); err != nil {
			return err
		}
		data = data[chunk:]
	}

	return n.writeFrame(frameEnd, seq, nil)
}

// WriteMessage frames data under a freshly assigned sequence number.
func (n *Node) WriteMessage(ctx context.Context, data []byte) error {
	return n.WriteMessageWithSequence(ctx, n.NextSequence(), data)
}

// NextSequence reserves and returns a fresh sequence number of the
// node's parity.
func (n *Node) NextSequence() uint32 {
	seq := n.sequence.Add(2)
	if n.seqEven {
		return seq
	}
	return seq - 1
}

// ReadMessages starts the read loop and returns the channel complete
// messages are delivered on. The channel is closed when the underlying
// reader fails or the context is cancelled. Protocol-level problems
// (oversized messages, frames for unknown sequences) drop the offending
// message and keep the loop alive.
func (n *Node) ReadMessages(ctx context.Context) (<-chan *Message, error) {
	if n.reader == nil {
		return nil, fmt.Errorf("wire: reader is nil")
	}

	out := make(chan *Message, 256)
	go n.readLoop(ctx, out)
	return out, nil
}

func (n *Node) readLoop(ctx context.Context, out chan<- *Message) {
	defer close(out)

	header := make([]byte, frameHeaderSize)
	chunk := make([]byte, n.chunkSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(n.reader, header); err != nil {
			// EOF or a broken pipe ends the stream either way.
			return
		}

		frameType := header[0]
		seq := uint32(header[1])<<24 | uint32(header[2])<<16 | uint32(header[3])<<8 | uint32(header[4])
		length := uint32(header[5])<<24 | uint32(header[6])<<16 | uint32(header[7])<<8 | uint32(header[8])

		switch frameType {
		case frameStart:
			if int(length) > n.maxMessageSize {
				// Oversized announcement: remember nothing, the data
				// frames that follow will be skipped as unknown.
				continue
			}
			n.partialMu.Lock()
			n.partial[seq] = make([]byte, 0, length)
			n.partialMu.Unlock()

		case frameData:
			if int(length) > n.chunkSize {
				if !n.discard(int(length)) {
					return
				}
				n.drop(seq)
				continue
			}
			if length > 0 {
				if _, err := io.ReadFull(n.reader, chunk[:length]); err != nil {
					return
				}
			}

			n.partialMu.Lock()
			if buf, ok := n.partial[seq]; ok {
				if len(buf)+int(length) > n.maxMessageSize {
					delete(n.partial, seq)
				} else {
					n.partial[seq] = append(buf, chunk[:length]...)
				}
			}
			n.partialMu.Unlock()

		case frameEnd:
			n.partialMu.Lock()
			buf, ok := n.partial[seq]
			delete(n.partial, seq)
			n.partialMu.Unlock()
			if !ok {
				continue
			}

			select {
			case out <- &Message{Sequence: seq, Data: buf}:
			case <-ctx.Done():
				return
			}

		case frameAbort:
			n.drop(seq)

		default:
			// Unknown frame type means the stream is desynchronized.
			return
		}
	}
}

// discard reads and throws away length bytes to keep the stream aligned.
func (n *Node) discard(length int) bool {
	_, err := io.CopyN(io.Discard, n.reader, int64(length))
	return err == nil
}

func (n *Node) drop(seq uint32) {
	n.partialMu.Lock()
	delete(n.partial, seq)
	n.partialMu.Unlock()
}

// PendingCount reports how many messages are partially reassembled.
func (n *Node) PendingCount() int {
	n.partialMu.Lock()
	defer n.partialMu.Unlock()
	return len(n.partial)
}

// Close discards any partially reassembled messages.
func (n *Node) Close() error {
	n.partialMu.Lock()
	defer n.partialMu.Unlock()
	for seq := range n.partial {
		delete(n.partial, seq)
	}
	return nil
}
