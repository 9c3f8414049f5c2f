// Package budget implements the admission gate consulted before a build
// starts. The loop maintains a spend ledger on disk; the gate compares it
// against a configured limit and a pause-on-exceeded policy.
package budget

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Decision is the result of one gate check.
type Decision struct {
	Exceeded        bool    `json:"exceeded"`
	PauseOnExceeded bool    `json:"pause_on_exceeded"`
	SpentUSD        float64 `json:"spent_usd"`
	LimitUSD        float64 `json:"limit_usd"`
}

// Deny reports whether the decision refuses admission.
func (d Decision) Deny() bool {
	return d.Exceeded && d.PauseOnExceeded
}

// Gate is queried synchronously before a build launch.
type Gate interface {
	Check() (Decision, error)
}

// LedgerGate reads the spend ledger JSON the loop writes after each
// iteration. A missing ledger means no recorded spend.
type LedgerGate struct {
	Path            string
	LimitUSD        float64 // 0 disables the limit
	PauseOnExceeded bool
}

type ledger struct {
	TotalUSD float64 `json:"total_usd"`
}

// Check implements Gate.
func (g *LedgerGate) Check() (Decision, error) {
	d := Decision{
		PauseOnExceeded: g.PauseOnExceeded,
		LimitUSD:        g.LimitUSD,
	}

	data, err := os.ReadFile(g.Path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return d, fmt.Errorf("failed to read spend ledger: %w", err)
	}

	var l ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return d, fmt.Errorf("failed to parse spend ledger %s: %w", g.Path, err)
	}

	d.SpentUSD = l.TotalUSD
	if g.LimitUSD > 0 && d.SpentUSD >= g.LimitUSD {
		d.Exceeded = true
	}
	return d, nil
}
