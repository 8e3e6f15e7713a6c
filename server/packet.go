// Request and response container for the network front-end. Every message is
// an info record, optionally followed by payload fragments; the receiver
// keeps reading fragments until one arrives with the more-fragments bit
// cleared. All fields are little-endian.
package server

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	vfs "github.com/RSKELT0N/VFS"
)

// FlagsLength bounds the argument string carried by an info record.
const FlagsLength = 64

// PayloadCapacity is the body size of a single payload fragment.
const PayloadCapacity = 1024

var packetEncoding = binary.LittleEndian

// Opcode selects the command a request maps to.
type Opcode uint8

const (
	OpInvalid Opcode = iota
	OpHelp
	OpVFS
	OpLs
	OpMkdir
	OpCd
	OpTouch
	OpCat
	OpRm
	OpMv
	OpCp
)

var opcodeNames = map[Opcode]string{
	OpHelp:  "/help",
	OpVFS:   "/vfs",
	OpLs:    "ls",
	OpMkdir: "mkdir",
	OpCd:    "cd",
	OpTouch: "touch",
	OpCat:   "cat",
	OpRm:    "rm",
	OpMv:    "mv",
	OpCp:    "cp",
}

// Info is the fixed-size header of every message.
type Info struct {
	Command    uint8
	Flags      [FlagsLength]byte
	HasPayload uint8
}

// Payload is one fragment of a message body.
type Payload struct {
	MoreFragments uint8
	Size          uint16
	Data          [PayloadCapacity]byte
}

// Request is a fully reassembled incoming message.
type Request struct {
	Op      Opcode
	Flags   string
	Payload []byte
}

// CommandLine renders the request as the terminal command it stands for.
func (req *Request) CommandLine() (string, error) {
	name, known := opcodeNames[req.Op]
	if !known {
		return "", vfs.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"unknown opcode %d", req.Op))
	}

	if req.Flags == "" {
		return name, nil
	}
	return name + " " + req.Flags, nil
}

// ReadMessage reads an info record and, if announced, every payload fragment
// of one message from r.
func ReadMessage(r io.Reader) (*Request, error) {
	var info Info
	if err := binary.Read(r, packetEncoding, &info); err != nil {
		return nil, err
	}

	req := &Request{
		Op:    Opcode(info.Command),
		Flags: strings.TrimRight(string(info.Flags[:]), "\x00"),
	}

	if info.HasPayload == 0 {
		return req, nil
	}

	for {
		var fragment Payload
		if err := binary.Read(r, packetEncoding, &fragment); err != nil {
			return nil, err
		}
		if int(fragment.Size) > PayloadCapacity {
			return nil, vfs.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"payload fragment of %d bytes exceeds capacity", fragment.Size))
		}

		req.Payload = append(req.Payload, fragment.Data[:fragment.Size]...)
		if fragment.MoreFragments == 0 {
			return req, nil
		}
	}
}

// WriteMessage writes one message to w, fragmenting the payload as needed.
// An empty payload is announced as absent, so the receiver reads no
// fragments at all.
func WriteMessage(w io.Writer, op Opcode, flags string, payload []byte) error {
	if len(flags) > FlagsLength {
		return vfs.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"flags string of %d bytes exceeds %d", len(flags), FlagsLength))
	}

	info := Info{Command: uint8(op)}
	copy(info.Flags[:], flags)
	if len(payload) > 0 {
		info.HasPayload = 1
	}

	if err := binary.Write(w, packetEncoding, &info); err != nil {
		return err
	}
	if info.HasPayload == 0 {
		return nil
	}

	for offset := 0; offset < len(payload); offset += PayloadCapacity {
		end := offset + PayloadCapacity
		if end > len(payload) {
			end = len(payload)
		}

		var fragment Payload
		fragment.Size = uint16(end - offset)
		copy(fragment.Data[:], payload[offset:end])
		if end < len(payload) {
			fragment.MoreFragments = 1
		}

		if err := binary.Write(w, packetEncoding, &fragment); err != nil {
			return err
		}
	}
	return nil
}
