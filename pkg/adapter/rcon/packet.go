package rcon

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wilhg/toolgate/pkg/errmodel"
)

// Packet types. exec and auth-response share a value; the direction tells them apart.
const (
	typeResponseValue int32 = 0
	typeExecCommand   int32 = 2
	typeAuthResponse  int32 = 2
	typeAuth          int32 = 3
)

const (
	// sizeFieldLen is the length prefix, not counted by the size it carries.
	sizeFieldLen = 4
	// minPacketSize covers id, type and the two terminating zero bytes.
	minPacketSize = 10
	// maxBodySize bounds what a peer can make us allocate.
	maxBodySize = 4096
)

type packet struct {
	ID   int32
	Type int32
	Body string
}

// encode lays out: size | id | type | body | 0x00 0x00, all integers little-endian.
func (p packet) encode() []byte {
	size := minPacketSize + len(p.Body)
	buf := make([]byte, sizeFieldLen+size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Type))
	copy(buf[12:], p.Body)
	return buf
}

func writePacket(w io.Writer, p packet) error {
	if len(p.Body) > maxBodySize {
		return errmodel.ProtocolError(fmt.Sprintf("packet body too large (%d > %d)", len(p.Body), maxBodySize), map[string]any{"size": len(p.Body), "max": maxBodySize})
	}
	_, err := w.Write(p.encode())
	return err
}

// readPacket reads exactly one packet. Size violations are ProtocolError;
// I/O failures are returned unchanged for the caller to classify.
func readPacket(r io.Reader) (packet, error) {
	var hdr [sizeFieldLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return packet{}, err
	}
	size := int32(binary.LittleEndian.Uint32(hdr[:]))
	if size < minPacketSize {
		return packet{}, errmodel.ProtocolError(fmt.Sprintf("packet size %d below minimum %d", size, minPacketSize), map[string]any{"size": size})
	}
	if body := size - minPacketSize; body > maxBodySize {
		return packet{}, errmodel.ProtocolError(fmt.Sprintf("packet body too large (%d > %d)", body, maxBodySize), map[string]any{"size": body, "max": maxBodySize})
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return packet{}, err
	}
	return packet{
		ID:   int32(binary.LittleEndian.Uint32(buf[0:4])),
		Type: int32(binary.LittleEndian.Uint32(buf[4:8])),
		Body: string(buf[8 : size-2]),
	}, nil
}
