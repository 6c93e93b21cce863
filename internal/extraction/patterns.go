package extraction

// amountPattern is a currency-like token. At least one digit is required so a bare "," is never captured.
const amountPattern = `\$?\d[\d,]*(?:\.\d+)?`

// Category is one labeled kind of financial figure and the trigger phrases that introduce it.
// Triggers are regular expression fragments tried in order; the first that matches wins.
type Category struct {
	Key      string
	Label    string
	Triggers []string
}

// Category keys, also used as the display priority.
const (
	CurrentBalance   = "current_balance"
	AvailableBalance = "available_balance"
	AvailableCredit  = "available_credit"
	CreditLimit      = "credit_limit"
)

// DisplayPriority is the order matched categories are rendered in; anything else follows in encounter order.
var DisplayPriority = []string{CurrentBalance, AvailableBalance, AvailableCredit, CreditLimit}

// DefaultCategories returns the built-in category tables in encounter order.
func DefaultCategories() []Category {
	return []Category{
		{
			Key:   CurrentBalance,
			Label: "Current Balance",
			Triggers: []string{
				`current balance`,
				`account balance`,
				`your balance`,
				`balance`,
				`outstanding balance`,
			},
		},
		{
			Key:   AvailableCredit,
			Label: "Available Credit",
			Triggers: []string{
				`available credit`,
				`credit available`,
				`available.*?credit`,
				`remaining credit`,
				`credit remaining`,
			},
		},
		{
			Key:   CreditLimit,
			Label: "Credit Limit",
			Triggers: []string{
				`credit limit`,
				`spending limit`,
				`total credit`,
				`limit`,
			},
		},
		{
			Key:   AvailableBalance,
			Label: "Available Balance",
			Triggers: []string{
				`available balance`,
				`total available`,
				`available.*?balance`,
			},
		},
	}
}

// DefaultKeywords are the phrases that mark an utterance as balance-related.
var DefaultKeywords = []string{
	"current balance", "account balance", "balance", "current_balance",
	"available balance", "available_balance",
	"available credit", "available_credit", "credit available", "credit_available",
	"credit limit", "credit_limit", "spending limit", "spending_limit",
	"remaining credit", "remaining_credit", "credit remaining",
	"outstanding balance", "outstanding_balance",
	"total available", "total_available", "total credit",
	"credit", "available", "limit", "remaining", "outstanding",
}

// genericPatterns are tried, in order, only when no category matched but a keyword is present.
var genericPatterns = []string{
	`(` + amountPattern + `)\s*dollars?`,
	`\$(\d[\d,]*(?:\.\d+)?)`,
}
