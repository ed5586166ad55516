package domain

import "time"

// ProcessingResult is emitted once per processing attempt. It is projected
// into the durable record and the status cache, never stored on its own.
type ProcessingResult struct {
	TransactionID  string         `json:"transaction_id"`
	Success        bool           `json:"success"`
	Status         Status         `json:"status"`
	ResultData     map[string]any `json:"result_data,omitempty"`
	ProcessingTime float64        `json:"processing_time"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	NodeID         string         `json:"node_id"`
	Attempts       int            `json:"attempts"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// StatusView is the shape returned by status queries and cached under
// transaction_status:{id}.
type StatusView struct {
	TransactionID  string         `json:"transaction_id"`
	Status         Status         `json:"status"`
	ProcessingNode string         `json:"processing_node,omitempty"`
	ProcessingTime float64        `json:"processing_time,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ResultData     map[string]any `json:"result_data,omitempty"`
	RetryCount     int            `json:"retry_count"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ViewFromTransaction projects a durable record into a StatusView.
func ViewFromTransaction(tx *Transaction) StatusView {
	return StatusView{
		TransactionID:  tx.ID,
		Status:         tx.Status,
		ProcessingNode: tx.ProcessingNode,
		ProcessingTime: tx.ProcessingTime,
		ErrorMessage:   tx.ErrorMessage,
		RetryCount:     tx.RetryCount,
		UpdatedAt:      tx.UpdatedAt,
	}
}

// ViewFromResult projects a processing result into a StatusView.
func ViewFromResult(res ProcessingResult) StatusView {
	retries := res.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return StatusView{
		TransactionID:  res.TransactionID,
		Status:         res.Status,
		ProcessingNode: res.NodeID,
		ProcessingTime: res.ProcessingTime,
		ErrorMessage:   res.ErrorMessage,
		ResultData:     res.ResultData,
		RetryCount:     retries,
		UpdatedAt:      res.CompletedAt,
	}
}

// Outcome is a terminal transaction summary used by the metrics window.
type Outcome struct {
	TransactionID  string
	Type           Type
	Status         Status
	ProcessingTime float64
	CompletedAt    time.Time
}
