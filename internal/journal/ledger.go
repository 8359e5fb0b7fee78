package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// LoadLedger reads the execution ledger document at path. A missing file
// returns (nil, nil): paper deployments with no broker simply have no
// ledger, and the reconciler treats every close as confirmed in that case.
func LoadLedger(path string) (*domain.ExecutionLedger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal.LoadLedger: %w", err)
	}

	var ledger domain.ExecutionLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("journal.LoadLedger: parse: %w", err)
	}
	if ledger.Trades == nil {
		ledger.Trades = make(map[string]*domain.ExecutionRecord)
	}
	return &ledger, nil
}

// loadTradeStream reads the append-only JSONL trade stream, skipping
// malformed lines the same way journal replay does. Used by the backfiller
// for duplicate detection.
func loadTradeStream(path string) ([]domain.TradeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal.loadTradeStream: open: %w", err)
	}
	defer f.Close()

	var trades []domain.TradeRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var t domain.TradeRecord
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("journal.loadTradeStream: scan: %w", err)
	}
	return trades, nil
}

// appendTrade writes one record to the JSONL trade stream.
func appendTrade(path string, t domain.TradeRecord) error {
	line, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("journal.appendTrade: marshal: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal.appendTrade: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("journal.appendTrade: write: %w", err)
	}
	return nil
}
