package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/danmuck/ledgerctl/pkg/ledger"
)

const (
	Magic          uint32 = 0x5247444C // "LDGR" little-endian
	Version        uint16 = 1
	FixedHeaderLen uint16 = 64

	FlagIsResponse uint16 = 0x01
	FlagIsError    uint16 = 0x02
)

// Status is the packet-level outcome carried in reply headers.
type Status uint8

const (
	StatusOK Status = iota
	StatusTooMuchData
	StatusInvalidOperation
	StatusInvalidDataSize
	StatusClusterMismatch
)

var statusNames = [...]string{
	StatusOK:               "ok",
	StatusTooMuchData:      "too_much_data",
	StatusInvalidOperation: "invalid_operation",
	StatusInvalidDataSize:  "invalid_data_size",
	StatusClusterMismatch:  "cluster_mismatch",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrBadMagic           = errors.New("frame: bad magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenMismatch  = errors.New("frame: header_len does not match fixed header")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrChecksumMismatch   = errors.New("frame: payload checksum mismatch")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	RequestID  uint64
	ClusterID  ledger.Uint128
	ClientID   ledger.Uint128
	Operation  ledger.Operation
	Status     Status
	Flags      uint16
	PayloadLen uint32
	Checksum   uint32
	Reserved   uint32
}

// IsResponse reports whether the frame travels server to client.
func (h Header) IsResponse() bool {
	return h.Flags&FlagIsResponse != 0
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

// DefaultMessageSize is the largest frame, header included.
const DefaultMessageSize = 1 << 20

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: DefaultMessageSize - uint32(FixedHeaderLen),
	}
}

// Checksum returns the CRC32-C of payload.
func Checksum(payload []byte) uint32 {
	return crc32.Checksum(payload, castagnoli)
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, fmt.Errorf("%w: %#x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.HeaderLen != FixedHeaderLen {
		return Frame{}, ErrHeaderLenMismatch
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	if Checksum(payload) != h.Checksum {
		return Frame{}, ErrChecksumMismatch
	}

	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame fills in magic, version, lengths and checksum before writing f.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = uint32(len(f.Payload))
	h.Checksum = Checksum(f.Payload)

	buf := make([]byte, 0, int(FixedHeaderLen)+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.LittleEndian.PutUint64(buf[8:16], h.RequestID)
	cluster := h.ClusterID.Bytes()
	copy(buf[16:32], cluster[:])
	client := h.ClientID.Bytes()
	copy(buf[32:48], client[:])
	buf[48] = uint8(h.Operation)
	buf[49] = uint8(h.Status)
	binary.LittleEndian.PutUint16(buf[50:52], h.Flags)
	binary.LittleEndian.PutUint32(buf[52:56], h.PayloadLen)
	binary.LittleEndian.PutUint32(buf[56:60], h.Checksum)
	binary.LittleEndian.PutUint32(buf[60:64], h.Reserved)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	var cluster, client [16]byte
	copy(cluster[:], b[16:32])
	copy(client[:], b[32:48])
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint16(b[4:6]),
		HeaderLen:  binary.LittleEndian.Uint16(b[6:8]),
		RequestID:  binary.LittleEndian.Uint64(b[8:16]),
		ClusterID:  ledger.BytesToUint128(cluster),
		ClientID:   ledger.BytesToUint128(client),
		Operation:  ledger.Operation(b[48]),
		Status:     Status(b[49]),
		Flags:      binary.LittleEndian.Uint16(b[50:52]),
		PayloadLen: binary.LittleEndian.Uint32(b[52:56]),
		Checksum:   binary.LittleEndian.Uint32(b[56:60]),
		Reserved:   binary.LittleEndian.Uint32(b[60:64]),
	}, nil
}
