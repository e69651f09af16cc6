// Package packet reads packets to classify and writes classification results.
package packet

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"hypersplit/pkg/filter"
)

// Format 报文输入格式
type Format string

const (
	FormatAuto   Format = "auto"   // 按扩展名判断
	FormatText   Format = "text"   // 每行 5 个整数
	FormatPcap   Format = "pcap"   // libpcap 抓包文件
	FormatPcapNG Format = "pcapng" // pcapng 抓包文件
)

var ErrUnknownFormat = errors.New("unknown packet format")

// ParseFormat validates a format name. The empty string means FormatAuto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatText, FormatPcap, FormatPcapNG:
		return f, nil
	default:
		return "", errors.Wrapf(ErrUnknownFormat, "%q", s)
	}
}

func detect(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".cap":
		return FormatPcap
	case ".pcapng":
		return FormatPcapNG
	default:
		return FormatText
	}
}

// Stats 读取统计
type Stats struct {
	Frames  int // 读取的记录/帧数
	Skipped int // 无法提取五元组而跳过的帧数
}

// ReadText reads one packet per line: sip dip sport dport proto. Reading
// stops at the first malformed line; the packets before it are returned
// together with a *filter.LineError.
func ReadText(r io.Reader) ([]filter.Packet, error) {
	var packets []filter.Packet
	err := filter.ScanRecords(r, filter.NumFields, func(vals []uint32) {
		var p filter.Packet
		copy(p[:], vals)
		packets = append(packets, p)
	})
	return packets, err
}

type captureReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// ReadPcap decodes a libpcap capture and extracts the five tuple of every
// IPv4 frame. Frames without an IPv4 layer are skipped.
func ReadPcap(r io.Reader) ([]filter.Packet, Stats, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, Stats{}, errors.Wrap(err, "pcap header")
	}
	return readCapture(pr)
}

// ReadPcapNG is ReadPcap for the pcapng container.
func ReadPcapNG(r io.Reader) ([]filter.Packet, Stats, error) {
	nr, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, Stats{}, errors.Wrap(err, "pcapng header")
	}
	return readCapture(nr)
}

func readCapture(cr captureReader) ([]filter.Packet, Stats, error) {
	var (
		packets []filter.Packet
		stats   Stats
	)
	src := gopacket.NewPacketSource(cr, cr.LinkType())
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for {
		pkt, err := src.NextPacket()
		if err == io.EOF {
			return packets, stats, nil
		}
		if err != nil {
			return packets, stats, errors.Wrapf(err, "frame %d", stats.Frames+1)
		}
		stats.Frames++

		p, ok := FiveTuple(pkt)
		if !ok {
			stats.Skipped++
			continue
		}
		packets = append(packets, p)
	}
}

// FiveTuple extracts (src ip, dst ip, src port, dst port, protocol) from a
// decoded IPv4 packet. Ports are zero for protocols without them.
func FiveTuple(pkt gopacket.Packet) (filter.Packet, bool) {
	var p filter.Packet

	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return p, false
	}
	ip, _ := ipLayer.(*layers.IPv4)
	src, dst := ip.SrcIP.To4(), ip.DstIP.To4()
	if src == nil || dst == nil {
		return p, false
	}
	p[filter.FieldSrcIP] = binary.BigEndian.Uint32(src)
	p[filter.FieldDstIP] = binary.BigEndian.Uint32(dst)
	p[filter.FieldProto] = uint32(ip.Protocol)

	switch l4 := pkt.TransportLayer().(type) {
	case *layers.TCP:
		p[filter.FieldSrcPort] = uint32(l4.SrcPort)
		p[filter.FieldDstPort] = uint32(l4.DstPort)
	case *layers.UDP:
		p[filter.FieldSrcPort] = uint32(l4.SrcPort)
		p[filter.FieldDstPort] = uint32(l4.DstPort)
	case *layers.SCTP:
		p[filter.FieldSrcPort] = uint32(l4.SrcPort)
		p[filter.FieldDstPort] = uint32(l4.DstPort)
	}
	return p, true
}

// Load reads the packet file at path in the given format. Like
// filter.LoadRules, a *filter.LineError comes back with the packets read
// before the malformed line.
func Load(path string, format Format) ([]filter.Packet, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, errors.Wrap(err, "open packet file")
	}
	defer f.Close()

	if format == FormatAuto || format == "" {
		format = detect(path)
	}

	switch format {
	case FormatText:
		packets, err := ReadText(f)
		return packets, Stats{Frames: len(packets)}, err
	case FormatPcap:
		return ReadPcap(f)
	case FormatPcapNG:
		return ReadPcapNG(f)
	default:
		return nil, Stats{}, errors.Wrapf(ErrUnknownFormat, "%q", format)
	}
}
