package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"solarb/internal/scanner"
)

// Record is one detected opportunity as persisted to disk.
type Record struct {
	Time           time.Time `json:"time"`
	BaseMint       string    `json:"base_mint"`
	BuyVenue       string    `json:"buy_venue"`
	BuyPool        string    `json:"buy_pool"`
	BuyPrice       float64   `json:"buy_price"`
	SellVenue      string    `json:"sell_venue"`
	SellPool       string    `json:"sell_pool"`
	SellPrice      float64   `json:"sell_price"`
	Ratio          float64   `json:"ratio"`
	TotalFee       float64   `json:"total_fee"`
	TradeLamports  float64   `json:"trade_lamports"`
	ProfitLamports float64   `json:"profit_lamports"`
	Signature      string    `json:"signature,omitempty"`
}

// FromOpportunity flattens an opportunity into a journal record.
func FromOpportunity(op scanner.Opportunity, signature string) Record {
	return Record{
		Time:           time.Now().UTC(),
		BaseMint:       op.BaseMint,
		BuyVenue:       op.Buy.Venue.String(),
		BuyPool:        op.Buy.Address,
		BuyPrice:       op.Buy.Price,
		SellVenue:      op.Sell.Venue.String(),
		SellPool:       op.Sell.Address,
		SellPrice:      op.Sell.Price,
		Ratio:          op.Ratio,
		TotalFee:       op.TotalFee,
		TradeLamports:  op.TradeLamports,
		ProfitLamports: op.ProfitLamports,
		Signature:      signature,
	}
}

// Journal defines a sink for opportunity records.
type Journal interface {
	Put(recs []Record) error
}

// JsonlJournal appends opportunity records to a JSONL file.
type JsonlJournal struct {
	path string
	mu   sync.Mutex
}

func NewJsonlJournal(path string) *JsonlJournal {
	return &JsonlJournal{path: path}
}

// Put appends a batch of records as JSON lines.
func (j *JsonlJournal) Put(recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
