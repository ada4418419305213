package timeline

import "strings"

// Event-type tables. These are the server's own event codes; they decide
// before any text heuristic gets a say.
var cardEvents = map[string]bool{
	"card_successful_transaction":  true,
	"card_failed_transaction":      true,
	"card_refund":                  true,
	"card_successful_verification": true,
}

var transferInEvents = map[string]bool{
	"PAYMENT_INBOUND":                   true,
	"PAYMENT_INBOUND_SEPA_DIRECT_DEBIT": true,
	"INCOMING_TRANSFER":                 true,
	"INCOMING_TRANSFER_DELEGATION":      true,
	"CREDIT":                            true,
}

var transferOutEvents = map[string]bool{
	"PAYMENT_OUTBOUND":             true,
	"OUTGOING_TRANSFER_DELEGATION": true,
}

var investmentEvents = map[string]bool{
	"ORDER_EXECUTED":                  true,
	"SAVINGS_PLAN_EXECUTED":           true,
	"SAVINGS_PLAN_INVOICE_CREATED":    true,
	"INTEREST_PAYOUT":                 true,
	"INTEREST_PAYOUT_CREATED":         true,
	"DIVIDEND_PAYOUT":                 true,
	"trading_savingsplan_executed":    true,
	"ssp_corporate_action_invoice_cash": true,
	"TRADE_INVOICE":                   true,
	"benefits_saveback_execution":     true,
	"benefits_spare_change_execution": true,
	"timeline_legacy_migrated_events": true,
}

// Subtitles that mark brokerage activity when no event code matched.
var investmentSubtitles = []string{
	"buy order", "sell order", "saving executed", "saveback",
	"round up", "pea", "dividend", "interest", "deposit",
	"withdrawal", "transfer", "tax", "fee",
}

// Classify assigns the category for one raw item. The decision is a
// fixed ladder, first match wins: event-type tables, then the merchant
// icon, then explicit transfer/deposit wording, then investment
// subtitles, then the cash-account marker, then the sign heuristic.
// Deterministic: it depends only on eventType, icon, title, subtitle,
// cashAccountNumber and the amount sign.
func Classify(item RawItem) Category {
	switch {
	case cardEvents[item.EventType]:
		return CategoryCard
	case transferInEvents[item.EventType]:
		return CategoryTransferIn
	case transferOutEvents[item.EventType]:
		return CategoryTransferOut
	case investmentEvents[item.EventType]:
		return CategoryInvestment
	}

	if strings.Contains(item.Icon, "merchant-") {
		return CategoryCard
	}

	title := strings.ToLower(item.Title)
	subtitle := strings.ToLower(strings.TrimSpace(item.Subtitle))

	var amount float64
	if item.Amount != nil {
		amount = item.Amount.Value
	}

	// Explicit transfer wording beats the investment subtitle list,
	// which also contains "transfer"/"deposit"/"withdrawal".
	if strings.Contains(title, "transfer") || strings.Contains(subtitle, "transfer") {
		if amount > 0 {
			return CategoryTransferIn
		}
		return CategoryTransferOut
	}
	if strings.Contains(title, "deposit") || strings.Contains(subtitle, "deposit") {
		return CategoryTransferIn
	}
	if strings.Contains(title, "withdrawal") || strings.Contains(subtitle, "withdrawal") {
		return CategoryTransferOut
	}

	if subtitle != "" {
		for _, s := range investmentSubtitles {
			if strings.Contains(subtitle, s) {
				return CategoryInvestment
			}
		}
	}

	if item.CashAccountNumber != "" {
		return CategoryInvestment
	}

	if subtitle == "" && item.CashAccountNumber == "" && amount < 0 {
		return CategoryCard
	}

	return CategoryOther
}
