package purchase

const (
	operationBuy             = "buy"
	operationCompleteDeposit = "complete_deposit"
	operationAbandon         = "abandon"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
