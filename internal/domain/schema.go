package domain

// Feature column names. The order of FeatureColumns is part of the exported
// model contract: scoring runtimes bind features by position.
const (
	ColumnAmount          = "amount"
	ColumnTimeSinceLastTx = "time_since_last_tx"
	ColumnTxCountLast5Min = "tx_count_last_5min"
	ColumnBalanceRatio    = "balance_ratio"
	ColumnIsNewDevice     = "is_new_device"
	ColumnIsNewIP         = "is_new_ip"
	ColumnHourOfDay       = "hour_of_day"
)

// FeatureColumns is the fixed training and inference schema.
var FeatureColumns = []string{
	ColumnAmount,
	ColumnTimeSinceLastTx,
	ColumnTxCountLast5Min,
	ColumnBalanceRatio,
	ColumnIsNewDevice,
	ColumnIsNewIP,
	ColumnHourOfDay,
}

// FeatureCount is the number of columns in FeatureColumns.
const FeatureCount = 7
