package ledger

import "fmt"

// CreateAccountResult is the outcome of one event in a create batch.
type CreateAccountResult uint32

const (
	AccountOK CreateAccountResult = iota
	AccountLinkedEventFailed
	AccountLinkedEventChainOpen
	AccountTimestampMustBeZero
	AccountReservedField
	AccountReservedFlag
	AccountIDMustNotBeZero
	AccountIDMustNotBeIntMax
	AccountFlagsAreMutuallyExclusive
	AccountDebitsPendingMustBeZero
	AccountDebitsPostedMustBeZero
	AccountCreditsPendingMustBeZero
	AccountCreditsPostedMustBeZero
	AccountLedgerMustNotBeZero
	AccountCodeMustNotBeZero
	AccountExistsWithDifferentFlags
	AccountExistsWithDifferentUserData128
	AccountExistsWithDifferentUserData64
	AccountExistsWithDifferentUserData32
	AccountExistsWithDifferentLedger
	AccountExistsWithDifferentCode
	AccountExists
)

var createAccountResultNames = [...]string{
	AccountOK:                             "ok",
	AccountLinkedEventFailed:              "linked_event_failed",
	AccountLinkedEventChainOpen:           "linked_event_chain_open",
	AccountTimestampMustBeZero:            "timestamp_must_be_zero",
	AccountReservedField:                  "reserved_field",
	AccountReservedFlag:                   "reserved_flag",
	AccountIDMustNotBeZero:                "id_must_not_be_zero",
	AccountIDMustNotBeIntMax:              "id_must_not_be_int_max",
	AccountFlagsAreMutuallyExclusive:      "flags_are_mutually_exclusive",
	AccountDebitsPendingMustBeZero:        "debits_pending_must_be_zero",
	AccountDebitsPostedMustBeZero:         "debits_posted_must_be_zero",
	AccountCreditsPendingMustBeZero:       "credits_pending_must_be_zero",
	AccountCreditsPostedMustBeZero:        "credits_posted_must_be_zero",
	AccountLedgerMustNotBeZero:            "ledger_must_not_be_zero",
	AccountCodeMustNotBeZero:              "code_must_not_be_zero",
	AccountExistsWithDifferentFlags:       "exists_with_different_flags",
	AccountExistsWithDifferentUserData128: "exists_with_different_user_data_128",
	AccountExistsWithDifferentUserData64:  "exists_with_different_user_data_64",
	AccountExistsWithDifferentUserData32:  "exists_with_different_user_data_32",
	AccountExistsWithDifferentLedger:      "exists_with_different_ledger",
	AccountExistsWithDifferentCode:        "exists_with_different_code",
	AccountExists:                         "exists",
}

func (r CreateAccountResult) String() string {
	if int(r) < len(createAccountResultNames) {
		return createAccountResultNames[r]
	}
	return fmt.Sprintf("CreateAccountResult(%d)", uint32(r))
}

// CreateTransferResult is the outcome of one transfer in a create batch.
type CreateTransferResult uint32

const (
	TransferOK CreateTransferResult = iota
	TransferLinkedEventFailed
	TransferLinkedEventChainOpen
	TransferTimestampMustBeZero
	TransferReservedFlag
	TransferIDMustNotBeZero
	TransferIDMustNotBeIntMax
	TransferFlagsAreMutuallyExclusive
	TransferDebitAccountIDMustNotBeZero
	TransferDebitAccountIDMustNotBeIntMax
	TransferCreditAccountIDMustNotBeZero
	TransferCreditAccountIDMustNotBeIntMax
	TransferAccountsMustBeDifferent
	TransferPendingIDMustBeZero
	TransferPendingIDMustNotBeZero
	TransferPendingIDMustNotBeIntMax
	TransferPendingIDMustBeDifferent
	TransferTimeoutReservedForPendingTransfer
	TransferAmountMustNotBeZero
	TransferLedgerMustNotBeZero
	TransferCodeMustNotBeZero
	TransferDebitAccountNotFound
	TransferCreditAccountNotFound
	TransferAccountsMustHaveTheSameLedger
	TransferTransferMustHaveTheSameLedgerAsAccounts
	TransferPendingTransferNotFound
	TransferPendingTransferNotPending
	TransferPendingTransferHasDifferentDebitAccountID
	TransferPendingTransferHasDifferentCreditAccountID
	TransferPendingTransferHasDifferentLedger
	TransferPendingTransferHasDifferentCode
	TransferExceedsPendingTransferAmount
	TransferPendingTransferHasDifferentAmount
	TransferPendingTransferAlreadyPosted
	TransferPendingTransferAlreadyVoided
	TransferPendingTransferExpired
	TransferExistsWithDifferentFlags
	TransferExistsWithDifferentDebitAccountID
	TransferExistsWithDifferentCreditAccountID
	TransferExistsWithDifferentAmount
	TransferExistsWithDifferentPendingID
	TransferExistsWithDifferentUserData128
	TransferExistsWithDifferentUserData64
	TransferExistsWithDifferentUserData32
	TransferExistsWithDifferentTimeout
	TransferExistsWithDifferentCode
	TransferExists
	TransferOverflowsDebitsPending
	TransferOverflowsCreditsPending
	TransferOverflowsDebitsPosted
	TransferOverflowsCreditsPosted
	TransferOverflowsDebits
	TransferOverflowsCredits
	TransferOverflowsTimeout
	TransferExceedsCredits
	TransferExceedsDebits
)

var createTransferResultNames = [...]string{
	TransferOK:                                         "ok",
	TransferLinkedEventFailed:                          "linked_event_failed",
	TransferLinkedEventChainOpen:                       "linked_event_chain_open",
	TransferTimestampMustBeZero:                        "timestamp_must_be_zero",
	TransferReservedFlag:                               "reserved_flag",
	TransferIDMustNotBeZero:                            "id_must_not_be_zero",
	TransferIDMustNotBeIntMax:                          "id_must_not_be_int_max",
	TransferFlagsAreMutuallyExclusive:                  "flags_are_mutually_exclusive",
	TransferDebitAccountIDMustNotBeZero:                "debit_account_id_must_not_be_zero",
	TransferDebitAccountIDMustNotBeIntMax:              "debit_account_id_must_not_be_int_max",
	TransferCreditAccountIDMustNotBeZero:               "credit_account_id_must_not_be_zero",
	TransferCreditAccountIDMustNotBeIntMax:             "credit_account_id_must_not_be_int_max",
	TransferAccountsMustBeDifferent:                    "accounts_must_be_different",
	TransferPendingIDMustBeZero:                        "pending_id_must_be_zero",
	TransferPendingIDMustNotBeZero:                     "pending_id_must_not_be_zero",
	TransferPendingIDMustNotBeIntMax:                   "pending_id_must_not_be_int_max",
	TransferPendingIDMustBeDifferent:                   "pending_id_must_be_different",
	TransferTimeoutReservedForPendingTransfer:          "timeout_reserved_for_pending_transfer",
	TransferAmountMustNotBeZero:                        "amount_must_not_be_zero",
	TransferLedgerMustNotBeZero:                        "ledger_must_not_be_zero",
	TransferCodeMustNotBeZero:                          "code_must_not_be_zero",
	TransferDebitAccountNotFound:                       "debit_account_not_found",
	TransferCreditAccountNotFound:                      "credit_account_not_found",
	TransferAccountsMustHaveTheSameLedger:              "accounts_must_have_the_same_ledger",
	TransferTransferMustHaveTheSameLedgerAsAccounts:    "transfer_must_have_the_same_ledger_as_accounts",
	TransferPendingTransferNotFound:                    "pending_transfer_not_found",
	TransferPendingTransferNotPending:                  "pending_transfer_not_pending",
	TransferPendingTransferHasDifferentDebitAccountID:  "pending_transfer_has_different_debit_account_id",
	TransferPendingTransferHasDifferentCreditAccountID: "pending_transfer_has_different_credit_account_id",
	TransferPendingTransferHasDifferentLedger:          "pending_transfer_has_different_ledger",
	TransferPendingTransferHasDifferentCode:            "pending_transfer_has_different_code",
	TransferExceedsPendingTransferAmount:               "exceeds_pending_transfer_amount",
	TransferPendingTransferHasDifferentAmount:          "pending_transfer_has_different_amount",
	TransferPendingTransferAlreadyPosted:               "pending_transfer_already_posted",
	TransferPendingTransferAlreadyVoided:               "pending_transfer_already_voided",
	TransferPendingTransferExpired:                     "pending_transfer_expired",
	TransferExistsWithDifferentFlags:                   "exists_with_different_flags",
	TransferExistsWithDifferentDebitAccountID:          "exists_with_different_debit_account_id",
	TransferExistsWithDifferentCreditAccountID:         "exists_with_different_credit_account_id",
	TransferExistsWithDifferentAmount:                  "exists_with_different_amount",
	TransferExistsWithDifferentPendingID:               "exists_with_different_pending_id",
	TransferExistsWithDifferentUserData128:             "exists_with_different_user_data_128",
	TransferExistsWithDifferentUserData64:              "exists_with_different_user_data_64",
	TransferExistsWithDifferentUserData32:              "exists_with_different_user_data_32",
	TransferExistsWithDifferentTimeout:                 "exists_with_different_timeout",
	TransferExistsWithDifferentCode:                    "exists_with_different_code",
	TransferExists:                                     "exists",
	TransferOverflowsDebitsPending:                     "overflows_debits_pending",
	TransferOverflowsCreditsPending:                    "overflows_credits_pending",
	TransferOverflowsDebitsPosted:                      "overflows_debits_posted",
	TransferOverflowsCreditsPosted:                     "overflows_credits_posted",
	TransferOverflowsDebits:                            "overflows_debits",
	TransferOverflowsCredits:                           "overflows_credits",
	TransferOverflowsTimeout:                           "overflows_timeout",
	TransferExceedsCredits:                             "exceeds_credits",
	TransferExceedsDebits:                              "exceeds_debits",
}

func (r CreateTransferResult) String() string {
	if int(r) < len(createTransferResultNames) {
		return createTransferResultNames[r]
	}
	return fmt.Sprintf("CreateTransferResult(%d)", uint32(r))
}

// CreateAccountsResult pairs a batch index with its outcome.
type CreateAccountsResult struct {
	Index  uint32              `json:"index" yaml:"index"`
	Result CreateAccountResult `json:"result" yaml:"result"`
}

// CreateTransfersResult pairs a batch index with its outcome.
type CreateTransfersResult struct {
	Index  uint32               `json:"index" yaml:"index"`
	Result CreateTransferResult `json:"result" yaml:"result"`
}
