package transport

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pion/sdp/v3"

	"github.com/sebas/callservice/internal/callservice/call"
)

// VideoStateFromSDP derives the media capability of an offer. An offer
// without an enabled video stream is voice only.
func VideoStateFromSDP(body []byte) (call.VideoState, error) {
	if len(body) == 0 {
		return call.VideoVoice, nil
	}
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return call.VideoVoice, fmt.Errorf("failed to parse SDP: %w", err)
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "video" || md.MediaName.Port.Value == 0 {
			continue
		}
		switch {
		case hasAttribute(md, "sendonly"):
			return call.VideoSendOnly, nil
		case hasAttribute(md, "recvonly"):
			return call.VideoReceiveOnly, nil
		case hasAttribute(md, "inactive"):
			continue
		default:
			return call.VideoBidirectional, nil
		}
	}
	return call.VideoVoice, nil
}

func hasAttribute(md *sdp.MediaDescription, key string) bool {
	_, ok := md.Attribute(key)
	return ok
}

// offeredFormat returns the first payload type offered for media, or
// fallback when the offer has none.
func offeredFormat(desc *sdp.SessionDescription, media, fallback string) string {
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == media && len(md.MediaName.Formats) > 0 {
			return md.MediaName.Formats[0]
		}
	}
	return fallback
}

// BuildAnswerSDP builds the SDP body for a 200 OK. The audio codec mirrors
// the first one offered (PCMU when there is no offer); a video stream is
// added only when video is bidirectional.
func BuildAnswerSDP(offer []byte, addr string, port int, video call.VideoState) ([]byte, error) {
	offered := &sdp.SessionDescription{}
	if len(offer) > 0 {
		if err := offered.Unmarshal(offer); err != nil {
			return nil, fmt.Errorf("failed to parse offer: %w", err)
		}
	}
	audioFormat := offeredFormat(offered, "audio", "0")

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "callservice",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "Call Service Session",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{audioFormat},
				},
				Attributes: audioAttributes(audioFormat),
			},
		},
	}

	if video == call.VideoBidirectional {
		videoFormat := offeredFormat(offered, "video", "96")
		desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   "video",
				Port:    sdp.RangedPort{Value: port + 2},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{videoFormat},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: videoFormat + " H264/90000"},
				{Key: "sendrecv"},
			},
		})
	}

	// Offers always carry a text stream so RTT can start mid-call; answers
	// only when the peer offered one.
	if len(offer) == 0 || hasMedia(offered, "text") {
		textFormat := offeredFormat(offered, "text", strconv.Itoa(T140PayloadType))
		desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   "text",
				Port:    sdp.RangedPort{Value: port + 4},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{textFormat},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: textFormat + " t140/1000"},
				{Key: "sendrecv"},
			},
		})
	}

	return desc.Marshal()
}

func hasMedia(desc *sdp.SessionDescription, media string) bool {
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == media && md.MediaName.Port.Value != 0 {
			return true
		}
	}
	return false
}

// TextStreamFromSDP returns where the peer receives real-time text and the
// payload type it expects. ok is false when the description has no enabled
// text stream.
func TextStreamFromSDP(body []byte) (addr *net.UDPAddr, payloadType uint8, ok bool, err error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return nil, 0, false, fmt.Errorf("failed to parse SDP: %w", err)
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "text" || md.MediaName.Port.Value == 0 {
			continue
		}
		conn := md.ConnectionInformation
		if conn == nil {
			conn = desc.ConnectionInformation
		}
		if conn == nil || conn.Address == nil {
			return nil, 0, false, fmt.Errorf("text stream has no connection address")
		}
		ip := net.ParseIP(conn.Address.Address)
		if ip == nil {
			return nil, 0, false, fmt.Errorf("invalid connection address %q", conn.Address.Address)
		}
		pt := uint64(T140PayloadType)
		if len(md.MediaName.Formats) > 0 {
			if pt, err = strconv.ParseUint(md.MediaName.Formats[0], 10, 7); err != nil {
				return nil, 0, false, fmt.Errorf("invalid text payload type %q", md.MediaName.Formats[0])
			}
		}
		return &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value}, uint8(pt), true, nil
	}
	return nil, 0, false, nil
}

var rtpmaps = map[string]string{
	"0":   "PCMU/8000",
	"8":   "PCMA/8000",
	"18":  "G729/8000",
	"96":  "opus/48000/2",
	"101": "telephone-event/8000",
}

func audioAttributes(format string) []sdp.Attribute {
	attrs := []sdp.Attribute{}
	if rtpmap, ok := rtpmaps[format]; ok {
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: format + " " + rtpmap})
	}
	attrs = append(attrs,
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: "sendrecv"},
	)
	return attrs
}
