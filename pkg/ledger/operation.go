package ledger

import "fmt"

// Operation identifies a request kind on the wire.
type Operation uint8

const (
	OperationRegister            Operation = 1
	OperationPulse               Operation = 128
	OperationCreateAccounts      Operation = 129
	OperationCreateTransfers     Operation = 130
	OperationLookupAccounts      Operation = 131
	OperationLookupTransfers     Operation = 132
	OperationGetAccountTransfers Operation = 133
	OperationGetAccountBalances  Operation = 134
)

func (o Operation) String() string {
	switch o {
	case OperationRegister:
		return "register"
	case OperationPulse:
		return "pulse"
	case OperationCreateAccounts:
		return "create_accounts"
	case OperationCreateTransfers:
		return "create_transfers"
	case OperationLookupAccounts:
		return "lookup_accounts"
	case OperationLookupTransfers:
		return "lookup_transfers"
	case OperationGetAccountTransfers:
		return "get_account_transfers"
	case OperationGetAccountBalances:
		return "get_account_balances"
	default:
		return fmt.Sprintf("operation(%d)", uint8(o))
	}
}

// IsQuery reports operations whose reply size is not bounded by the request size.
func (o Operation) IsQuery() bool {
	return o == OperationGetAccountTransfers || o == OperationGetAccountBalances
}

// Valid reports whether o is a client-submittable operation.
func (o Operation) Valid() bool {
	return o >= OperationPulse && o <= OperationGetAccountBalances
}
