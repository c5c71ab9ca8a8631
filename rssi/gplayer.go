package rssi

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerTypeRSSI registers the wire format with gopacket so a capture
// pipeline (tcpdump-style debug tooling, or transport/rawip's dump path)
// can decode RSSI segments riding over a raw IP capture the same way it
// decodes any other protocol layer.
var LayerTypeRSSI = gopacket.RegisterLayerType(
	12283,
	gopacket.LayerTypeMetadata{Name: "RSSI", Decoder: gopacket.DecodeFunc(decodeRSSILayer)},
)

// GLayer is a read-only gopacket view onto one segment's header, used for
// dissection/debug dumps. It intentionally doesn't share Header's
// Retain/Release bookkeeping — a GLayer never owns a Buffer, it just
// describes bytes gopacket already owns.
type GLayer struct {
	layers.BaseLayer

	Syn, Ack, Eak, Rst, Nul, Busy bool
	Sequence, Acknowledge         uint8

	Version                uint8
	MaxOutstandingSegments uint8
	MaxSegmentSize         uint16
	RetransmissionTimeout  uint16
	CumulativeAckTimeout   uint16
	NullTimeout            uint16
	MaxRetransmissions     uint8
	MaxCumulativeAck       uint8
	TimeoutUnit            uint8
	ConnectionID           uint32
}

func decodeRSSILayer(data []byte, p gopacket.PacketBuilder) error {
	g := &GLayer{}
	if err := g.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(g)
	return p.NextDecoder(g.NextLayerType())
}

// LayerType satisfies gopacket.Layer.
func (g *GLayer) LayerType() gopacket.LayerType { return LayerTypeRSSI }

// CanDecode satisfies gopacket.DecodingLayer.
func (g *GLayer) CanDecode() gopacket.LayerClass { return LayerTypeRSSI }

// NextLayerType satisfies gopacket.DecodingLayer: whatever follows the
// header is opaque application payload, never another registered layer.
func (g *GLayer) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// DecodeFromBytes satisfies gopacket.DecodingLayer. Unlike Header.Verify
// it does not reject a bad checksum outright — a dissector's job is to
// show what's on the wire, not to enforce protocol conformance — but it
// does refuse data too short to hold even a non-SYN header.
func (g *GLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("rssi: gopacket layer: %d bytes is shorter than a header", len(data))
	}

	flags := data[0]
	g.Busy = flags&FlagBusy != 0
	g.Nul = flags&FlagNul != 0
	g.Rst = flags&FlagRst != 0
	g.Eak = flags&FlagEak != 0
	g.Ack = flags&FlagAck != 0
	g.Syn = flags&FlagSyn != 0

	n := HeaderSize
	if g.Syn {
		n = SynHeaderSize
	}
	if len(data) < n {
		return fmt.Errorf("rssi: gopacket layer: %d bytes is shorter than a SYN header", len(data))
	}

	g.Sequence = data[2]
	g.Acknowledge = data[3]

	if g.Syn {
		g.Version = data[8] >> 4
		g.MaxOutstandingSegments = data[9]
		g.MaxSegmentSize = binary.BigEndian.Uint16(data[10:12])
		g.RetransmissionTimeout = binary.BigEndian.Uint16(data[12:14])
		g.CumulativeAckTimeout = binary.BigEndian.Uint16(data[14:16])
		g.NullTimeout = binary.BigEndian.Uint16(data[16:18])
		g.MaxRetransmissions = data[18]
		g.MaxCumulativeAck = data[19]
		g.TimeoutUnit = data[20]
		g.ConnectionID = binary.BigEndian.Uint32(data[22:26])
	}

	g.BaseLayer = layers.BaseLayer{Contents: data[:n], Payload: data[n:]}
	return nil
}

func (g *GLayer) flagString() string {
	s := ""
	for _, f := range []struct {
		set  bool
		name string
	}{
		{g.Syn, "SYN"}, {g.Ack, "ACK"}, {g.Eak, "EAK"},
		{g.Rst, "RST"}, {g.Nul, "NUL"}, {g.Busy, "BUSY"},
	} {
		if f.set {
			if s != "" {
				s += "|"
			}
			s += f.name
		}
	}
	if s == "" {
		return "-"
	}
	return s
}

// String renders a one-line dissection: flags, sequence and ack, plus
// version, max segment size and connection id on a SYN. Header.Dump
// produces the same form.
func (g *GLayer) String() string {
	if g.Syn {
		return fmt.Sprintf("RSSI[%s seq=%d ack=%d ver=%d maxSeg=%d connID=%#x]",
			g.flagString(), g.Sequence, g.Acknowledge, g.Version, g.MaxSegmentSize, g.ConnectionID)
	}
	return fmt.Sprintf("RSSI[%s seq=%d ack=%d]", g.flagString(), g.Sequence, g.Acknowledge)
}

// Dump renders a Header as the same compact one-line form GLayer.String
// produces, for use in Controller's own debug logging (head->dump() in
// the original) without routing every log line through a full gopacket
// decode.
func (h *Header) Dump() string {
	g := &GLayer{
		Syn: h.syn, Ack: h.ack, Eak: h.eak, Rst: h.rst, Nul: h.nul, Busy: h.busy,
		Sequence: h.sequence, Acknowledge: h.acknowledge,
		Version: h.version, MaxSegmentSize: h.maxSegmentSize, ConnectionID: h.connectionID,
	}
	return g.String()
}
