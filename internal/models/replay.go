package models

import "fmt"

// ReplayState is the wallet position rebuilt from the ledger alone.
type ReplayState struct {
	DepositBalance int64
	CreditLimit    int64
	CreditUsed     int64
}

// ReplayTransactions folds a wallet's transaction history, in order, from a
// zero wallet. The result must match the stored wallet row exactly; a
// mismatch means the ledger invariant was broken somewhere.
//
// The split of a purchase_debit (or refund) between deposit and credit is
// not stored explicitly: it is derived from the balance_after snapshot,
// which records the deposit balance the transaction left behind.
func ReplayTransactions(txs []WalletTransaction) (ReplayState, error) {
	var st ReplayState
	for i := range txs {
		tx := &txs[i]
		switch tx.Type {
		case TxTypeDeposit, TxTypeAdjustment:
			st.DepositBalance += tx.Amount
		case TxTypeCreditLimit:
			st.CreditLimit += tx.Amount
		case TxTypeCreditPayment:
			st.CreditUsed -= tx.Amount
			if st.CreditUsed < 0 {
				st.CreditUsed = 0
			}
		case TxTypePurchaseDebit:
			total := -tx.Amount
			fromDeposit := st.DepositBalance - tx.BalanceAfter
			if fromDeposit < 0 || fromDeposit > total {
				return ReplayState{}, fmt.Errorf("transaction %s: inconsistent balance_after", tx.ID)
			}
			st.DepositBalance = tx.BalanceAfter
			st.CreditUsed += total - fromDeposit
		case TxTypeRefund:
			total := tx.Amount
			toDeposit := tx.BalanceAfter - st.DepositBalance
			if toDeposit < 0 || toDeposit > total {
				return ReplayState{}, fmt.Errorf("transaction %s: inconsistent balance_after", tx.ID)
			}
			st.DepositBalance = tx.BalanceAfter
			st.CreditUsed -= total - toDeposit
		default:
			return ReplayState{}, fmt.Errorf("transaction %s: unknown type %q", tx.ID, tx.Type)
		}

		if tx.Type != TxTypeCreditLimit && tx.Type != TxTypeCreditPayment &&
			st.DepositBalance != tx.BalanceAfter {
			return ReplayState{}, fmt.Errorf("transaction %s: balance_after=%d, replayed=%d",
				tx.ID, tx.BalanceAfter, st.DepositBalance)
		}
		if st.DepositBalance < 0 {
			return ReplayState{}, fmt.Errorf("transaction %s: deposit balance went negative", tx.ID)
		}
	}
	return st, nil
}
