package instruments

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Supported index identifiers
const (
	NIFTY50   = "NIFTY50"
	BANKNIFTY = "BANKNIFTY"
)

// ErrUnknownSymbol is returned for any lookup on an index that is not in the reference table.
var ErrUnknownSymbol = errors.New("unknown instrument symbol")

// Instrument describes the static contract properties of an index derivative
type Instrument struct {
	Symbol     string `json:"symbol" yaml:"symbol"`
	LotSize    int    `json:"lot_size" yaml:"lot_size"`
	Root       string `json:"root" yaml:"root"`
	StrikeStep int    `json:"strike_step" yaml:"strike_step"`
}

var (
	mu    sync.RWMutex
	table = defaultTable()
)

func defaultTable() map[string]Instrument {
	return map[string]Instrument{
		NIFTY50:   {Symbol: NIFTY50, LotSize: 75, Root: "NIFTY", StrikeStep: 50},
		BANKNIFTY: {Symbol: BANKNIFTY, LotSize: 15, Root: "BANKNIFTY", StrikeStep: 100},
	}
}

// Get returns the instrument for symbol. Lookups fail closed.
func Get(symbol string) (Instrument, error) {
	mu.RLock()
	defer mu.RUnlock()

	inst, ok := table[symbol]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	return inst, nil
}

// LotSize returns the lot size for symbol
func LotSize(symbol string) (int, error) {
	inst, err := Get(symbol)
	if err != nil {
		return 0, err
	}
	return inst.LotSize, nil
}

// Root returns the broker option root for symbol (NIFTY50 trades as NIFTY)
func Root(symbol string) (string, error) {
	inst, err := Get(symbol)
	if err != nil {
		return "", err
	}
	return inst.Root, nil
}

// IsKnown reports whether symbol is in the reference table
func IsKnown(symbol string) bool {
	_, err := Get(symbol)
	return err == nil
}

// Symbols returns the known index identifiers in sorted order
func Symbols() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(table))
	for s := range table {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// OverrideLotSizes applies configured lot sizes to known instruments.
// Overrides for unknown symbols or non-positive sizes are rejected as a whole.
func OverrideLotSizes(overrides map[string]int) error {
	mu.Lock()
	defer mu.Unlock()

	for sym, lot := range overrides {
		if _, ok := table[sym]; !ok {
			return fmt.Errorf("lot size override: %w: %q", ErrUnknownSymbol, sym)
		}
		if lot <= 0 {
			return fmt.Errorf("lot size override for %s must be positive, got %d", sym, lot)
		}
	}
	for sym, lot := range overrides {
		inst := table[sym]
		inst.LotSize = lot
		table[sym] = inst
	}
	return nil
}

// Reset restores the built-in reference table
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	table = defaultTable()
}
