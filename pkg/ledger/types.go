package ledger

// Account is one ledger account. Balances and Timestamp are assigned by the server.
type Account struct {
	ID             Uint128 `json:"id" yaml:"id"`
	DebitsPending  Uint128 `json:"debits_pending" yaml:"debits_pending"`
	DebitsPosted   Uint128 `json:"debits_posted" yaml:"debits_posted"`
	CreditsPending Uint128 `json:"credits_pending" yaml:"credits_pending"`
	CreditsPosted  Uint128 `json:"credits_posted" yaml:"credits_posted"`
	UserData128    Uint128 `json:"user_data_128" yaml:"user_data_128"`
	UserData64     uint64  `json:"user_data_64" yaml:"user_data_64"`
	UserData32     uint32  `json:"user_data_32" yaml:"user_data_32"`
	Reserved       uint32  `json:"reserved" yaml:"reserved"`
	Ledger         uint32  `json:"ledger" yaml:"ledger"`
	Code           uint16  `json:"code" yaml:"code"`
	Flags          uint16  `json:"flags" yaml:"flags"`
	Timestamp      uint64  `json:"timestamp" yaml:"timestamp"`
}

// AccountFlags decodes a.Flags.
func (a Account) AccountFlags() AccountFlags {
	return AccountFlagsFromUint16(a.Flags)
}

// Transfer moves Amount from DebitAccountID to CreditAccountID.
type Transfer struct {
	ID              Uint128 `json:"id" yaml:"id"`
	DebitAccountID  Uint128 `json:"debit_account_id" yaml:"debit_account_id"`
	CreditAccountID Uint128 `json:"credit_account_id" yaml:"credit_account_id"`
	Amount          Uint128 `json:"amount" yaml:"amount"`
	PendingID       Uint128 `json:"pending_id" yaml:"pending_id"`
	UserData128     Uint128 `json:"user_data_128" yaml:"user_data_128"`
	UserData64      uint64  `json:"user_data_64" yaml:"user_data_64"`
	UserData32      uint32  `json:"user_data_32" yaml:"user_data_32"`
	Timeout         uint32  `json:"timeout" yaml:"timeout"`
	Ledger          uint32  `json:"ledger" yaml:"ledger"`
	Code            uint16  `json:"code" yaml:"code"`
	Flags           uint16  `json:"flags" yaml:"flags"`
	Timestamp       uint64  `json:"timestamp" yaml:"timestamp"`
}

// TransferFlags decodes t.Flags.
func (t Transfer) TransferFlags() TransferFlags {
	return TransferFlagsFromUint16(t.Flags)
}

// DefaultAccountFilterLimit is the limit applied by NewAccountFilter.
const DefaultAccountFilterLimit uint32 = 100

// AccountFilter selects transfers or historical balances of one account.
// Zero TimestampMin/TimestampMax mean unbounded.
type AccountFilter struct {
	AccountID    Uint128 `json:"account_id" yaml:"account_id"`
	TimestampMin uint64  `json:"timestamp_min" yaml:"timestamp_min"`
	TimestampMax uint64  `json:"timestamp_max" yaml:"timestamp_max"`
	Limit        uint32  `json:"limit" yaml:"limit"`
	Flags        uint32  `json:"flags" yaml:"flags"`
}

// NewAccountFilter returns a filter over accountID with the default limit.
func NewAccountFilter(accountID Uint128) AccountFilter {
	return AccountFilter{AccountID: accountID, Limit: DefaultAccountFilterLimit}
}

// AccountFilterFlags decodes f.Flags.
func (f AccountFilter) AccountFilterFlags() AccountFilterFlags {
	return AccountFilterFlagsFromUint32(f.Flags)
}

// AccountBalance is a historical balance snapshot of an account with the history flag.
type AccountBalance struct {
	DebitsPending  Uint128 `json:"debits_pending" yaml:"debits_pending"`
	DebitsPosted   Uint128 `json:"debits_posted" yaml:"debits_posted"`
	CreditsPending Uint128 `json:"credits_pending" yaml:"credits_pending"`
	CreditsPosted  Uint128 `json:"credits_posted" yaml:"credits_posted"`
	Timestamp      uint64  `json:"timestamp" yaml:"timestamp"`
}
