// Package risk defines the token-safety oracle contract.
//
// The scoring heuristics (GoPlus/RugCheck parsing and friends) live outside
// this module; skills obtain a Verdict from an Oracle and feed it into the
// guardrail gate alongside the spend checks.
package risk

import (
	"context"
	"strings"
)

// Verdict is a token-safety assessment. Score runs 0 (safe) to 100.
type Verdict struct {
	Token   string   `json:"token"`
	ChainID uint64   `json:"chain_id"`
	Score   int      `json:"score"`
	Flags   []string `json:"flags,omitempty"`
}

// Severe reports whether the verdict should block a transaction outright.
// Honeypot flags are always severe regardless of score.
func (v Verdict) Severe() bool {
	if v.Score >= 80 {
		return true
	}
	for _, f := range v.Flags {
		if strings.EqualFold(f, "honeypot") {
			return true
		}
	}
	return false
}

// Oracle assesses token safety for a token on a chain.
type Oracle interface {
	Assess(ctx context.Context, chainID uint64, token string) (Verdict, error)
}

// StaticOracle returns a fixed score for every token. The zero value is an
// allow-all oracle, used when no external scoring service is configured.
type StaticOracle struct {
	Score int
	Flags []string
}

func (o StaticOracle) Assess(_ context.Context, chainID uint64, token string) (Verdict, error) {
	return Verdict{Token: token, ChainID: chainID, Score: o.Score, Flags: o.Flags}, nil
}
