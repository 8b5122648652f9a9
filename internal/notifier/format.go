package notifier

import (
	"html"
	"strconv"
	"strings"

	"stockwatch/internal/stock"
)

// FormatMessage renders the alert text (Telegram HTML subset).
func FormatMessage(t stock.StockTransition) string {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		name = stock.DefaultName
	}
	qty := "unknown"
	if t.Quantity != nil {
		qty = strconv.FormatInt(*t.Quantity, 10)
	}

	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(name))
	b.WriteString("</b> is back in stock!\n")
	b.WriteString("Inventory: ")
	b.WriteString(qty)
	return b.String()
}
