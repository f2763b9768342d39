package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/ledgerctl/internal/protocol/frame"
	"github.com/danmuck/ledgerctl/pkg/ledger"
)

const (
	AccountSize        = 128
	TransferSize       = 128
	AccountFilterSize  = 128
	AccountBalanceSize = 128
	IDSize             = 16
	CreateResultSize   = 8
)

var (
	ErrInvalidLength       = errors.New("codec: payload length is not a multiple of element size")
	ErrInvalidOperation    = errors.New("codec: invalid operation")
	ErrInvalidResultLength = errors.New("codec: invalid result length")
)

// CreateResult is one sparse entry of a create reply: the event index and its result code.
type CreateResult struct {
	Index  uint32
	Result uint32
}

// EventSize returns the request element size for op.
func EventSize(op ledger.Operation) (int, error) {
	switch op {
	case ledger.OperationPulse:
		return 0, nil
	case ledger.OperationCreateAccounts:
		return AccountSize, nil
	case ledger.OperationCreateTransfers:
		return TransferSize, nil
	case ledger.OperationLookupAccounts, ledger.OperationLookupTransfers:
		return IDSize, nil
	case ledger.OperationGetAccountTransfers, ledger.OperationGetAccountBalances:
		return AccountFilterSize, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidOperation, op)
	}
}

// ResultSize returns the reply element size for op.
func ResultSize(op ledger.Operation) (int, error) {
	switch op {
	case ledger.OperationPulse:
		return 0, nil
	case ledger.OperationCreateAccounts, ledger.OperationCreateTransfers:
		return CreateResultSize, nil
	case ledger.OperationLookupAccounts:
		return AccountSize, nil
	case ledger.OperationLookupTransfers, ledger.OperationGetAccountTransfers:
		return TransferSize, nil
	case ledger.OperationGetAccountBalances:
		return AccountBalanceSize, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidOperation, op)
	}
}

// BatchMax is the largest event count of one op request whose request and
// worst-case reply both fit in limits. Filter queries always carry one event.
func BatchMax(op ledger.Operation, limits frame.Limits) (int, error) {
	eventSize, err := EventSize(op)
	if err != nil {
		return 0, err
	}
	if op.IsQuery() {
		return 1, nil
	}
	if eventSize == 0 {
		return 0, nil
	}
	resultSize, _ := ResultSize(op)
	batchMax := int(limits.MaxPayloadBytes) / eventSize
	if byReply := int(limits.MaxPayloadBytes) / resultSize; byReply < batchMax {
		batchMax = byReply
	}
	return batchMax, nil
}

// QueryResultMax is the number of query results that fit in one reply.
func QueryResultMax(op ledger.Operation, limits frame.Limits) int {
	resultSize, err := ResultSize(op)
	if err != nil || resultSize == 0 {
		return 0
	}
	return int(limits.MaxPayloadBytes) / resultSize
}

// ValidateReply checks a reply length against the request that produced it.
// Reply length must be a multiple of the result size and, except for filter
// queries, no larger than one result per request event.
func ValidateReply(op ledger.Operation, requestLen, replyLen int) error {
	eventSize, err := EventSize(op)
	if err != nil {
		return err
	}
	resultSize, _ := ResultSize(op)
	if resultSize == 0 {
		if replyLen != 0 {
			return fmt.Errorf("%w: %s reply has %d bytes", ErrInvalidResultLength, op, replyLen)
		}
		return nil
	}
	if replyLen%resultSize != 0 {
		return fmt.Errorf("%w: %s reply %d not a multiple of %d", ErrInvalidResultLength, op, replyLen, resultSize)
	}
	if op.IsQuery() {
		return nil
	}
	count := requestLen / eventSize
	if count*resultSize < replyLen {
		return fmt.Errorf("%w: %s reply %d exceeds %d events", ErrInvalidResultLength, op, replyLen, count)
	}
	return nil
}

func checkLength(data []byte, size int) (int, error) {
	if len(data)%size != 0 {
		return 0, fmt.Errorf("%w: %d %% %d", ErrInvalidLength, len(data), size)
	}
	return len(data) / size, nil
}

func putUint128(b []byte, v ledger.Uint128) {
	binary.LittleEndian.PutUint64(b[0:8], v.Lo)
	binary.LittleEndian.PutUint64(b[8:16], v.Hi)
}

func uint128At(b []byte) ledger.Uint128 {
	return ledger.Uint128{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

func PutAccount(b []byte, a ledger.Account) {
	putUint128(b[0:16], a.ID)
	putUint128(b[16:32], a.DebitsPending)
	putUint128(b[32:48], a.DebitsPosted)
	putUint128(b[48:64], a.CreditsPending)
	putUint128(b[64:80], a.CreditsPosted)
	putUint128(b[80:96], a.UserData128)
	binary.LittleEndian.PutUint64(b[96:104], a.UserData64)
	binary.LittleEndian.PutUint32(b[104:108], a.UserData32)
	binary.LittleEndian.PutUint32(b[108:112], a.Reserved)
	binary.LittleEndian.PutUint32(b[112:116], a.Ledger)
	binary.LittleEndian.PutUint16(b[116:118], a.Code)
	binary.LittleEndian.PutUint16(b[118:120], a.Flags)
	binary.LittleEndian.PutUint64(b[120:128], a.Timestamp)
}

func AccountAt(b []byte) ledger.Account {
	return ledger.Account{
		ID:             uint128At(b[0:16]),
		DebitsPending:  uint128At(b[16:32]),
		DebitsPosted:   uint128At(b[32:48]),
		CreditsPending: uint128At(b[48:64]),
		CreditsPosted:  uint128At(b[64:80]),
		UserData128:    uint128At(b[80:96]),
		UserData64:     binary.LittleEndian.Uint64(b[96:104]),
		UserData32:     binary.LittleEndian.Uint32(b[104:108]),
		Reserved:       binary.LittleEndian.Uint32(b[108:112]),
		Ledger:         binary.LittleEndian.Uint32(b[112:116]),
		Code:           binary.LittleEndian.Uint16(b[116:118]),
		Flags:          binary.LittleEndian.Uint16(b[118:120]),
		Timestamp:      binary.LittleEndian.Uint64(b[120:128]),
	}
}

func EncodeAccounts(accounts []ledger.Account) []byte {
	out := make([]byte, len(accounts)*AccountSize)
	for i, a := range accounts {
		PutAccount(out[i*AccountSize:], a)
	}
	return out
}

func DecodeAccounts(data []byte) ([]ledger.Account, error) {
	n, err := checkLength(data, AccountSize)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Account, n)
	for i := range out {
		out[i] = AccountAt(data[i*AccountSize:])
	}
	return out, nil
}

func PutTransfer(b []byte, t ledger.Transfer) {
	putUint128(b[0:16], t.ID)
	putUint128(b[16:32], t.DebitAccountID)
	putUint128(b[32:48], t.CreditAccountID)
	putUint128(b[48:64], t.Amount)
	putUint128(b[64:80], t.PendingID)
	putUint128(b[80:96], t.UserData128)
	binary.LittleEndian.PutUint64(b[96:104], t.UserData64)
	binary.LittleEndian.PutUint32(b[104:108], t.UserData32)
	binary.LittleEndian.PutUint32(b[108:112], t.Timeout)
	binary.LittleEndian.PutUint32(b[112:116], t.Ledger)
	binary.LittleEndian.PutUint16(b[116:118], t.Code)
	binary.LittleEndian.PutUint16(b[118:120], t.Flags)
	binary.LittleEndian.PutUint64(b[120:128], t.Timestamp)
}

func TransferAt(b []byte) ledger.Transfer {
	return ledger.Transfer{
		ID:              uint128At(b[0:16]),
		DebitAccountID:  uint128At(b[16:32]),
		CreditAccountID: uint128At(b[32:48]),
		Amount:          uint128At(b[48:64]),
		PendingID:       uint128At(b[64:80]),
		UserData128:     uint128At(b[80:96]),
		UserData64:      binary.LittleEndian.Uint64(b[96:104]),
		UserData32:      binary.LittleEndian.Uint32(b[104:108]),
		Timeout:         binary.LittleEndian.Uint32(b[108:112]),
		Ledger:          binary.LittleEndian.Uint32(b[112:116]),
		Code:            binary.LittleEndian.Uint16(b[116:118]),
		Flags:           binary.LittleEndian.Uint16(b[118:120]),
		Timestamp:       binary.LittleEndian.Uint64(b[120:128]),
	}
}

func EncodeTransfers(transfers []ledger.Transfer) []byte {
	out := make([]byte, len(transfers)*TransferSize)
	for i, t := range transfers {
		PutTransfer(out[i*TransferSize:], t)
	}
	return out
}

func DecodeTransfers(data []byte) ([]ledger.Transfer, error) {
	n, err := checkLength(data, TransferSize)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transfer, n)
	for i := range out {
		out[i] = TransferAt(data[i*TransferSize:])
	}
	return out, nil
}

func EncodeIDs(ids []ledger.Uint128) []byte {
	out := make([]byte, len(ids)*IDSize)
	for i, id := range ids {
		putUint128(out[i*IDSize:], id)
	}
	return out
}

func DecodeIDs(data []byte) ([]ledger.Uint128, error) {
	n, err := checkLength(data, IDSize)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Uint128, n)
	for i := range out {
		out[i] = uint128At(data[i*IDSize:])
	}
	return out, nil
}

// EncodeAccountFilter writes f followed by zeroed reserved bytes.
func EncodeAccountFilter(f ledger.AccountFilter) []byte {
	out := make([]byte, AccountFilterSize)
	putUint128(out[0:16], f.AccountID)
	binary.LittleEndian.PutUint64(out[16:24], f.TimestampMin)
	binary.LittleEndian.PutUint64(out[24:32], f.TimestampMax)
	binary.LittleEndian.PutUint32(out[32:36], f.Limit)
	binary.LittleEndian.PutUint32(out[36:40], f.Flags)
	return out
}

// DecodeAccountFilter reads exactly one filter.
func DecodeAccountFilter(data []byte) (ledger.AccountFilter, error) {
	if len(data) != AccountFilterSize {
		return ledger.AccountFilter{}, fmt.Errorf("%w: filter has %d bytes", ErrInvalidLength, len(data))
	}
	return ledger.AccountFilter{
		AccountID:    uint128At(data[0:16]),
		TimestampMin: binary.LittleEndian.Uint64(data[16:24]),
		TimestampMax: binary.LittleEndian.Uint64(data[24:32]),
		Limit:        binary.LittleEndian.Uint32(data[32:36]),
		Flags:        binary.LittleEndian.Uint32(data[36:40]),
	}, nil
}

func EncodeAccountBalances(balances []ledger.AccountBalance) []byte {
	out := make([]byte, len(balances)*AccountBalanceSize)
	for i, b := range balances {
		base := out[i*AccountBalanceSize:]
		putUint128(base[0:16], b.DebitsPending)
		putUint128(base[16:32], b.DebitsPosted)
		putUint128(base[32:48], b.CreditsPending)
		putUint128(base[48:64], b.CreditsPosted)
		binary.LittleEndian.PutUint64(base[64:72], b.Timestamp)
	}
	return out
}

func DecodeAccountBalances(data []byte) ([]ledger.AccountBalance, error) {
	n, err := checkLength(data, AccountBalanceSize)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.AccountBalance, n)
	for i := range out {
		base := data[i*AccountBalanceSize:]
		out[i] = ledger.AccountBalance{
			DebitsPending:  uint128At(base[0:16]),
			DebitsPosted:   uint128At(base[16:32]),
			CreditsPending: uint128At(base[32:48]),
			CreditsPosted:  uint128At(base[48:64]),
			Timestamp:      binary.LittleEndian.Uint64(base[64:72]),
		}
	}
	return out, nil
}

func EncodeCreateResults(results []CreateResult) []byte {
	out := make([]byte, len(results)*CreateResultSize)
	for i, r := range results {
		binary.LittleEndian.PutUint32(out[i*CreateResultSize:], r.Index)
		binary.LittleEndian.PutUint32(out[i*CreateResultSize+4:], r.Result)
	}
	return out
}

func DecodeCreateResults(data []byte) ([]CreateResult, error) {
	n, err := checkLength(data, CreateResultSize)
	if err != nil {
		return nil, err
	}
	out := make([]CreateResult, n)
	for i := range out {
		out[i] = CreateResult{
			Index:  binary.LittleEndian.Uint32(data[i*CreateResultSize:]),
			Result: binary.LittleEndian.Uint32(data[i*CreateResultSize+4:]),
		}
	}
	return out, nil
}
