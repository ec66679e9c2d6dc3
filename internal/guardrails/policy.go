package guardrails

// Limits is the per-user policy envelope. A zero field disables that check.
//
// Field tags match the CUE schema in schema.cue; cue.Value.Decode maps the
// policy document onto this struct through them.
type Limits struct {
	// MaxPerTxUSD caps the USD value of a single transaction.
	MaxPerTxUSD float64 `json:"maxPerTxUSD"`
	// DailyMaxUSD caps total USD spent per UTC day.
	DailyMaxUSD float64 `json:"dailyMaxUSD"`
	// DailyMaxTxCount caps the number of sent transactions per UTC day.
	DailyMaxTxCount int `json:"dailyMaxTxCount"`
	// CooldownSeconds is the minimum gap between two sends.
	CooldownSeconds int `json:"cooldownSeconds"`
	// ConfirmOverUSD is the threshold above which explicit human
	// confirmation is required. Zero means never ask.
	ConfirmOverUSD float64 `json:"confirmOverUSD"`
}

// Policy is a resolved policy document: a default envelope plus per-user
// overrides.
type Policy struct {
	Default Limits            `json:"default"`
	Users   map[string]Limits `json:"users"`
}

// DefaultLimits is the built-in envelope used when no policy document
// is loaded.
func DefaultLimits() Limits {
	return Limits{
		MaxPerTxUSD:     1_000,
		DailyMaxUSD:     5_000,
		DailyMaxTxCount: 25,
		CooldownSeconds: 30,
		ConfirmOverUSD:  200,
	}
}

// limitsFor resolves the effective envelope for a user.
func (p Policy) limitsFor(userID string) Limits {
	if l, ok := p.Users[userID]; ok {
		return l
	}
	return p.Default
}
