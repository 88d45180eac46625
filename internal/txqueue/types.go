package txqueue

import "time"

// Status is one of the four allowed Tx Queue row states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusClaimed   Status = "CLAIMED"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// ExecutionStrategy names the two ways a Transaction Request's call can
// reach the chain: directly from the worker's Agent EOA, or routed through
// the Service Safe.
const (
	StrategyEOA  = "EOA"
	StrategySafe = "SAFE"
)

// Payload is the on-chain call this row will eventually submit.
type Payload struct {
	ChainID           int64  `json:"chainId"`
	To                string `json:"to"`
	Data              string `json:"data"`
	Value             string `json:"value"`
	ExecutionStrategy string `json:"executionStrategy"`
}

// TxRequest is a row in the transaction queue.
type TxRequest struct {
	ID            string     `db:"id" json:"id"`
	PayloadHash   string     `db:"payload_hash" json:"payloadHash"`
	ChainID       int64      `db:"chain_id" json:"chainId"`
	To            string     `db:"to_address" json:"to"`
	Data          string     `db:"data" json:"data"`
	Value         string     `db:"value" json:"value"`
	Strategy      string     `db:"execution_strategy" json:"executionStrategy"`
	Status        Status     `db:"status" json:"status"`
	WorkerID      *string    `db:"worker_id" json:"workerId,omitempty"`
	AttemptCount  int        `db:"attempt_count" json:"attemptCount"`
	SafeTxHash    *string    `db:"safe_tx_hash" json:"safeTxHash,omitempty"`
	TxHash        *string    `db:"tx_hash" json:"txHash,omitempty"`
	ErrorCode     *string    `db:"error_code" json:"errorCode,omitempty"`
	ErrorMessage  *string    `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	ClaimedAt     *time.Time `db:"claimed_at" json:"claimedAt,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// StatusUpdate carries the optional fields settable via updateStatus.
type StatusUpdate struct {
	Status       Status
	SafeTxHash   *string
	TxHash       *string
	ErrorCode    *string
	ErrorMessage *string
}

// Metrics summarizes queue depth by status, used by the /metrics surface.
type Metrics struct {
	Pending   int64
	Claimed   int64
	Confirmed int64
	Failed    int64
}
