package ledger

type AccountFlags struct {
	Linked                     bool `json:"linked" yaml:"linked"`
	DebitsMustNotExceedCredits bool `json:"debits_must_not_exceed_credits" yaml:"debits_must_not_exceed_credits"`
	CreditsMustNotExceedDebits bool `json:"credits_must_not_exceed_debits" yaml:"credits_must_not_exceed_debits"`
	History                    bool `json:"history" yaml:"history"`
}

const (
	AccountFlagLinked uint16 = 1 << iota
	AccountFlagDebitsMustNotExceedCredits
	AccountFlagCreditsMustNotExceedDebits
	AccountFlagHistory

	accountFlagsKnown = AccountFlagLinked | AccountFlagDebitsMustNotExceedCredits |
		AccountFlagCreditsMustNotExceedDebits | AccountFlagHistory
)

func (f AccountFlags) ToUint16() uint16 {
	var out uint16
	if f.Linked {
		out |= AccountFlagLinked
	}
	if f.DebitsMustNotExceedCredits {
		out |= AccountFlagDebitsMustNotExceedCredits
	}
	if f.CreditsMustNotExceedDebits {
		out |= AccountFlagCreditsMustNotExceedDebits
	}
	if f.History {
		out |= AccountFlagHistory
	}
	return out
}

func AccountFlagsFromUint16(v uint16) AccountFlags {
	return AccountFlags{
		Linked:                     v&AccountFlagLinked != 0,
		DebitsMustNotExceedCredits: v&AccountFlagDebitsMustNotExceedCredits != 0,
		CreditsMustNotExceedDebits: v&AccountFlagCreditsMustNotExceedDebits != 0,
		History:                    v&AccountFlagHistory != 0,
	}
}

// AccountFlagsReserved reports bits outside the defined account flags.
func AccountFlagsReserved(v uint16) bool {
	return v&^accountFlagsKnown != 0
}

type TransferFlags struct {
	Linked              bool `json:"linked" yaml:"linked"`
	Pending             bool `json:"pending" yaml:"pending"`
	PostPendingTransfer bool `json:"post_pending_transfer" yaml:"post_pending_transfer"`
	VoidPendingTransfer bool `json:"void_pending_transfer" yaml:"void_pending_transfer"`
	BalancingDebit      bool `json:"balancing_debit" yaml:"balancing_debit"`
	BalancingCredit     bool `json:"balancing_credit" yaml:"balancing_credit"`
}

const (
	TransferFlagLinked uint16 = 1 << iota
	TransferFlagPending
	TransferFlagPostPendingTransfer
	TransferFlagVoidPendingTransfer
	TransferFlagBalancingDebit
	TransferFlagBalancingCredit

	transferFlagsKnown = TransferFlagLinked | TransferFlagPending | TransferFlagPostPendingTransfer |
		TransferFlagVoidPendingTransfer | TransferFlagBalancingDebit | TransferFlagBalancingCredit
)

func (f TransferFlags) ToUint16() uint16 {
	var out uint16
	if f.Linked {
		out |= TransferFlagLinked
	}
	if f.Pending {
		out |= TransferFlagPending
	}
	if f.PostPendingTransfer {
		out |= TransferFlagPostPendingTransfer
	}
	if f.VoidPendingTransfer {
		out |= TransferFlagVoidPendingTransfer
	}
	if f.BalancingDebit {
		out |= TransferFlagBalancingDebit
	}
	if f.BalancingCredit {
		out |= TransferFlagBalancingCredit
	}
	return out
}

func TransferFlagsFromUint16(v uint16) TransferFlags {
	return TransferFlags{
		Linked:              v&TransferFlagLinked != 0,
		Pending:             v&TransferFlagPending != 0,
		PostPendingTransfer: v&TransferFlagPostPendingTransfer != 0,
		VoidPendingTransfer: v&TransferFlagVoidPendingTransfer != 0,
		BalancingDebit:      v&TransferFlagBalancingDebit != 0,
		BalancingCredit:     v&TransferFlagBalancingCredit != 0,
	}
}

// TransferFlagsReserved reports bits outside the defined transfer flags.
func TransferFlagsReserved(v uint16) bool {
	return v&^transferFlagsKnown != 0
}

type AccountFilterFlags struct {
	Debits   bool `json:"debits" yaml:"debits"`
	Credits  bool `json:"credits" yaml:"credits"`
	Reversed bool `json:"reversed" yaml:"reversed"`
}

const (
	AccountFilterFlagDebits uint32 = 1 << iota
	AccountFilterFlagCredits
	AccountFilterFlagReversed
)

func (f AccountFilterFlags) ToUint32() uint32 {
	var out uint32
	if f.Debits {
		out |= AccountFilterFlagDebits
	}
	if f.Credits {
		out |= AccountFilterFlagCredits
	}
	if f.Reversed {
		out |= AccountFilterFlagReversed
	}
	return out
}

func AccountFilterFlagsFromUint32(v uint32) AccountFilterFlags {
	return AccountFilterFlags{
		Debits:   v&AccountFilterFlagDebits != 0,
		Credits:  v&AccountFilterFlagCredits != 0,
		Reversed: v&AccountFilterFlagReversed != 0,
	}
}
