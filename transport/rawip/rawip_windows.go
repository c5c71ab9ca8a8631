//go:build windows
// +build windows

package rawip

import (
	"fmt"
	"net"

	"github.com/Clouded-Sabre/rssi-go/rssi"
	"github.com/Clouded-Sabre/rssi-go/stream"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	divert "github.com/imgk/divert-go"
)

// winTransport is the Windows analogue of Transport: net.ListenPacket
// and net.DialIP can't bind an arbitrary IP protocol number on
// Windows the way they can on Linux/macOS (lib/pconn.go's approach),
// so the Windows side captures and injects raw IP traffic through
// WinDivert instead, the same handle-based Recv/Send loop
// filter/filter-win.go already uses to drop ICMP protocol-unreachable
// replies.
type winTransport struct {
	protocolID int
	filterExpr string
	handle     *divert.Handle

	local, remote net.IP
	isServer      bool

	pool        *stream.RingBufferPool
	rawSize     int
	controller  *rssi.Controller
	closeSignal chan struct{}
	done        chan struct{}
}

// DialWindows opens a client-side Transport that captures and injects
// protocolID traffic between local and remote via WinDivert.
func DialWindows(protocolID int, local, remote string, rawSize, poolSize int) (*winTransport, error) {
	localIP := net.ParseIP(local)
	remoteIP := net.ParseIP(remote)
	if localIP == nil || remoteIP == nil {
		return nil, fmt.Errorf("rawip: invalid address local=%q remote=%q", local, remote)
	}
	expr := fmt.Sprintf("ip.Protocol == %d && ((ip.SrcAddr == %s && ip.DstAddr == %s) || (ip.SrcAddr == %s && ip.DstAddr == %s))",
		protocolID, localIP, remoteIP, remoteIP, localIP)
	return newWinTransport(protocolID, expr, localIP, remoteIP, false, rawSize, poolSize)
}

// ListenWindows opens a server-side Transport capturing protocolID
// traffic destined to local, from any remote.
func ListenWindows(protocolID int, local string, rawSize, poolSize int) (*winTransport, error) {
	localIP := net.ParseIP(local)
	if localIP == nil {
		return nil, fmt.Errorf("rawip: invalid address local=%q", local)
	}
	expr := fmt.Sprintf("ip.Protocol == %d && (ip.SrcAddr == %s || ip.DstAddr == %s)", protocolID, localIP, localIP)
	return newWinTransport(protocolID, expr, localIP, nil, true, rawSize, poolSize)
}

func newWinTransport(protocolID int, expr string, local, remote net.IP, isServer bool, rawSize, poolSize int) (*winTransport, error) {
	h, err := divert.Open(expr, divert.LayerNetwork, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("rawip: divert open: %w", err)
	}
	return &winTransport{
		protocolID:  protocolID,
		filterExpr:  expr,
		handle:      h,
		local:       local,
		remote:      remote,
		isServer:    isServer,
		pool:        stream.NewRingBufferPool("rawip-win: ", poolSize, rawSize, false),
		rawSize:     rawSize,
		closeSignal: make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Attach wires the Controller and starts the capture loop, same
// two-phase pattern as Transport.Attach.
func (t *winTransport) Attach(c *rssi.Controller) {
	t.controller = c
	go t.recvLoop()
}

func (t *winTransport) recvLoop() {
	defer close(t.done)

	buf := make([]byte, t.rawSize)
	addr := divert.Address{}
	for {
		n, err := t.handle.Recv(buf, &addr)
		if err != nil {
			select {
			case <-t.closeSignal:
				return
			default:
				continue
			}
		}

		packet := gopacket.NewPacket(buf[:n], layers.LayerTypeIPv4, gopacket.Default)
		ipv4Layer := packet.Layer(layers.LayerTypeIPv4)
		if ipv4Layer == nil {
			continue
		}
		ipv4, _ := ipv4Layer.(*layers.IPv4)
		if t.local != nil && ipv4.DstIP.String() != t.local.String() {
			// WinDivert handed us our own outbound copy; only the
			// half addressed to us carries an inbound segment.
			continue
		}
		if t.isServer && t.remote == nil {
			t.remote = ipv4.SrcIP
		}

		body := ipv4.Payload
		pbuf, err := t.pool.ReqBuffer(t.rawSize)
		if err != nil {
			continue
		}
		copy(pbuf.Bytes(), body)
		if err := pbuf.SetPayload(len(body), true); err != nil {
			continue
		}

		frame := stream.NewFrame()
		frame.AppendBuffer(pbuf)
		t.controller.TransportRx(frame)
	}
}

// ReqFrame satisfies rssi.Transport.
func (t *winTransport) ReqFrame(size int, zeroCopy bool, maxBuffSize int) (*stream.Frame, error) {
	buf, err := t.pool.ReqBuffer(t.rawSize)
	if err != nil {
		return nil, err
	}
	frame := stream.NewFrame()
	frame.AppendBuffer(buf)
	return frame, nil
}

// SendFrame builds a minimal IPv4 datagram around the segment and
// injects it back through the same WinDivert handle; WinDivert fills
// in checksums/length on send when DIVERT_LAYER_NETWORK is used for
// locally-originated traffic.
func (t *winTransport) SendFrame(frame *stream.Frame) error {
	if t.remote == nil {
		return fmt.Errorf("rawip: no peer learned yet")
	}
	buf := frame.GetBuffer(0)
	payload := buf.Bytes()[buf.Begin():buf.EndPayload()]

	pkt := buildIPv4Packet(t.local, t.remote, t.protocolID, payload)
	addr := divert.Address{}
	_, err := t.handle.Send(pkt, &addr)
	return err
}

func (t *winTransport) Close() error {
	close(t.closeSignal)
	err := t.handle.Close()
	<-t.done
	return err
}

func buildIPv4Packet(src, dst net.IP, protocolID int, payload []byte) []byte {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layerProto(protocolID),
		SrcIP:    src,
		DstIP:    dst,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload(payload))
	return buf.Bytes()
}

func layerProto(protocolID int) layers.IPProtocol {
	return layers.IPProtocol(protocolID)
}
