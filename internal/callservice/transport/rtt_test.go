package transport

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
)

const textOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 192.0.2.10\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.0.2.10\r\n" +
	"t=0 0\r\n" +
	"m=audio 4000 RTP/AVP 0\r\n" +
	"m=text 4004 RTP/AVP 100\r\n" +
	"a=rtpmap:100 t140/1000\r\n"

func TestTextStreamFromSDP(t *testing.T) {
	addr, pt, ok, err := TextStreamFromSDP([]byte(textOffer))
	if err != nil || !ok {
		t.Fatalf("TextStreamFromSDP() = %v, %v", ok, err)
	}
	if addr.String() != "192.0.2.10:4004" || pt != 100 {
		t.Errorf("TextStreamFromSDP() = %s pt %d", addr, pt)
	}

	t.Run("no text stream", func(t *testing.T) {
		_, _, ok, err := TextStreamFromSDP([]byte(videoOffer))
		if err != nil || ok {
			t.Errorf("TextStreamFromSDP() = %v, %v; want no stream", ok, err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		_, _, ok, _ := TextStreamFromSDP([]byte(strings.Replace(textOffer, "m=text 4004", "m=text 0", 1)))
		if ok {
			t.Error("disabled text stream reported as present")
		}
	})
}

func TestBuildAnswerSDPText(t *testing.T) {
	offer, err := BuildAnswerSDP(nil, "198.51.100.1", 5000, call.VideoVoice)
	if err != nil {
		t.Fatalf("BuildAnswerSDP(nil) error = %v", err)
	}
	if !strings.Contains(string(offer), "m=text 5004 RTP/AVP 98") {
		t.Errorf("offer has no text stream:\n%s", offer)
	}

	answer, err := BuildAnswerSDP([]byte(textOffer), "198.51.100.1", 5000, call.VideoVoice)
	if err != nil {
		t.Fatalf("BuildAnswerSDP() error = %v", err)
	}
	if !strings.Contains(string(answer), "a=rtpmap:100 t140/1000") {
		t.Errorf("answer does not mirror the text format:\n%s", answer)
	}

	noText, _ := BuildAnswerSDP([]byte(videoOffer), "198.51.100.1", 5000, call.VideoVoice)
	if strings.Contains(string(noText), "m=text") {
		t.Errorf("answer added text the peer never offered:\n%s", noText)
	}
}

func TestRTTStreamSend(t *testing.T) {
	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	defer peer.Close()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}

	s := newRTTStream(conn, peer.LocalAddr(), T140PayloadType)
	for _, text := range []string{"hel", "lo"} {
		if err := s.Send(text); err != nil {
			t.Fatalf("Send(%q) error = %v", text, err)
		}
	}

	var pkts []rtp.Packet
	for range 2 {
		buf := make([]byte, 1500)
		_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := peer.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom() error = %v", err)
		}
		var p rtp.Packet
		if err := p.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		pkts = append(pkts, p)
	}

	if string(pkts[0].Payload) != "hel" || string(pkts[1].Payload) != "lo" {
		t.Errorf("payloads = %q, %q", pkts[0].Payload, pkts[1].Payload)
	}
	if !pkts[0].Marker || pkts[1].Marker {
		t.Errorf("markers = %v, %v; want only the first set", pkts[0].Marker, pkts[1].Marker)
	}
	if pkts[1].SequenceNumber != pkts[0].SequenceNumber+1 {
		t.Errorf("sequence %d then %d", pkts[0].SequenceNumber, pkts[1].SequenceNumber)
	}
	if pkts[0].SSRC != pkts[1].SSRC || pkts[0].PayloadType != T140PayloadType {
		t.Errorf("headers = %+v / %+v", pkts[0].Header, pkts[1].Header)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Send("x"); err == nil {
		t.Error("Send() after Close succeeded")
	}
}

func TestSIPAdapterCallTypeAndRTTLookup(t *testing.T) {
	for _, tt := range []struct {
		in, want call.CallType
	}{
		{call.TypeCS, call.TypeVoIP},
		{call.TypeVoIP, call.TypeVoIP},
		{call.TypeIMS, call.TypeIMS},
	} {
		a, err := NewSIPAdapter(SIPConfig{AdvertiseAddr: "192.0.2.1", Port: 5060, CallType: tt.in})
		if err != nil {
			t.Fatalf("NewSIPAdapter() error = %v", err)
		}
		if got := a.CallType(); got != tt.want {
			t.Errorf("CallType() with %s = %s, want %s", tt.in, got, tt.want)
		}
		if err := a.StartRtt(context.Background(), 7, "hi"); callerr.KindOf(err) != callerr.KindNotFound {
			t.Errorf("StartRtt() of unknown call error = %v, want NotFound", err)
		}
		a.Close()
	}
}
