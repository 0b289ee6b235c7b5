package models

type TransactionType string

const (
	TxnCharge TransactionType = "CHARGE"
	TxnUse    TransactionType = "USE"
)

// PointHistory is one committed charge or use. Amount is always the
// positive magnitude, Type carries the sign.
type PointHistory struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Amount     int64           `json:"amount"`
	Type       TransactionType `json:"type"`
	TimeMillis int64           `json:"time_millis"`
}

// Delta is the signed effect of the entry on the balance.
func (h PointHistory) Delta() int64 {
	if h.Type == TxnUse {
		return -h.Amount
	}
	return h.Amount
}

// Sum folds a user's history into the balance it implies.
func Sum(hs []PointHistory) int64 {
	var total int64
	for _, h := range hs {
		total += h.Delta()
	}
	return total
}
