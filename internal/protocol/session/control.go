package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/ledgerctl/pkg/ledger"
)

const (
	controlTypeHello    = "ledger.hello"
	controlTypeHelloAck = "ledger.hello.ack"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"

	// Handshake rejection codes carried in HelloAck.Code.
	AckCodeOK                 uint32 = 0
	AckCodeClusterMismatch    uint32 = 1
	AckCodeVersionUnsupported uint32 = 2
	AckCodeInvalidClient      uint32 = 3

	controlMessageMax = 128 * 1024
)

var (
	ErrInvalidHello           = errors.New("session: invalid hello")
	ErrInvalidHelloAck        = errors.New("session: invalid hello ack")
	ErrControlMessageTooLarge = errors.New("session: control message too large")
)

// Hello opens a client session before any binary frame is exchanged.
type Hello struct {
	ClientID  ledger.Uint128 `json:"client_id"`
	ClusterID ledger.Uint128 `json:"cluster_id"`
	Version   uint16         `json:"version"`
}

func (h Hello) Validate() error {
	if h.ClientID.IsZero() {
		return fmt.Errorf("%w: missing client_id", ErrInvalidHello)
	}
	if h.Version == 0 {
		return fmt.Errorf("%w: missing version", ErrInvalidHello)
	}
	return nil
}

// HelloAck is the server response to Hello. BatchPayloadMax advertises the
// payload limit the replica enforces.
type HelloAck struct {
	Status          string `json:"status"`
	Code            uint32 `json:"code"`
	Message         string `json:"message"`
	ReplicaID       string `json:"replica_id"`
	BatchPayloadMax uint32 `json:"batch_payload_max"`
	TimestampMS     uint64 `json:"timestamp_ms"`
}

func (a HelloAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidHelloAck)
	}
	if strings.TrimSpace(a.ReplicaID) == "" {
		return fmt.Errorf("%w: missing replica_id", ErrInvalidHelloAck)
	}
	if a.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidHelloAck)
	}
	return nil
}

func (a HelloAck) Accepted() bool {
	return a.Status == AckStatusAccepted
}

type controlEnvelope struct {
	Type  string    `json:"type"`
	Hello *Hello    `json:"hello,omitempty"`
	Ack   *HelloAck `json:"hello_ack,omitempty"`
}

func WriteHello(w io.Writer, hello Hello) error {
	if err := hello.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{
		Type:  controlTypeHello,
		Hello: &hello,
	})
}

func ReadHello(r *bufio.Reader) (Hello, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != controlTypeHello || env.Hello == nil {
		return Hello{}, fmt.Errorf("%w: unexpected control type", ErrInvalidHello)
	}
	if err := env.Hello.Validate(); err != nil {
		return Hello{}, err
	}
	return *env.Hello, nil
}

func WriteHelloAck(w io.Writer, ack HelloAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{
		Type: controlTypeHelloAck,
		Ack:  &ack,
	})
}

func ReadHelloAck(r *bufio.Reader) (HelloAck, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return HelloAck{}, err
	}
	if env.Type != controlTypeHelloAck || env.Ack == nil {
		return HelloAck{}, fmt.Errorf("%w: unexpected control type", ErrInvalidHelloAck)
	}
	if err := env.Ack.Validate(); err != nil {
		return HelloAck{}, err
	}
	return *env.Ack, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// readControlEnvelope reads one line without buffering past controlMessageMax.
// Bytes after the newline stay in r for the binary frames that follow.
func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > controlMessageMax {
			return controlEnvelope{}, ErrControlMessageTooLarge
		}
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return controlEnvelope{}, err
		}
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, err
	}
	return env, nil
}
