package pipeline

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// usdPrinter groups digits per English locale conventions. Printers are
// safe for concurrent use.
var usdPrinter = message.NewPrinter(language.English)

// FormatUSD renders a USD amount for previews and confirmation prompts,
// e.g. 1234.5 -> "$1,234.50".
func FormatUSD(v float64) string {
	return usdPrinter.Sprintf("$%.2f", v)
}
