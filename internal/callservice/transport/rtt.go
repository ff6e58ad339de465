package transport

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// T140PayloadType is the dynamic payload type offered for real-time text
// (RFC 4103).
const T140PayloadType = 98

// rttStream sends T.140 text to the peer. The RTP clock runs at 1000 Hz, so
// timestamps are milliseconds since the stream started.
type rttStream struct {
	mu     sync.Mutex
	conn   net.PacketConn
	remote net.Addr

	ssrc    uint32
	pt      uint8
	seq     uint16
	base    uint32
	started time.Time
	sent    bool
	closed  bool
}

func newRTTStream(conn net.PacketConn, remote net.Addr, payloadType uint8) *rttStream {
	return &rttStream{
		conn:    conn,
		remote:  remote,
		ssrc:    random32(),
		pt:      payloadType,
		seq:     uint16(random32()),
		base:    random32(),
		started: time.Now(),
	}
}

func random32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x5a5a5a5a
	}
	return binary.BigEndian.Uint32(b[:])
}

// Send writes text as one T.140 block. The first block carries the marker
// bit.
func (s *rttStream) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         !s.sent,
			PayloadType:    s.pt,
			SequenceNumber: s.seq,
			Timestamp:      s.base + uint32(time.Since(s.started).Milliseconds()),
			SSRC:           s.ssrc,
		},
		Payload: []byte(text),
	}
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteTo(data, s.remote); err != nil {
		return err
	}
	s.seq++
	s.sent = true
	return nil
}

func (s *rttStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
