package model

import "time"

// Signal 外部信号源产生的交易信号，只消费一次
type Signal struct {
	ID          string    `json:"id,omitempty"`
	Symbol      string    `json:"symbol"`
	Direction   Side      `json:"direction"`
	EntryPrice  float64   `json:"entry_price"`
	StopPrice   float64   `json:"stop_price"`
	TargetPrice float64   `json:"target_price"`
	Confidence  float64   `json:"confidence"` // 0-100
	Timestamp   time.Time `json:"timestamp"`
}
