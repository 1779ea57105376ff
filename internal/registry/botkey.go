package registry

import "fmt"

// BotKey identifies at most one live bot instance: one user trading one
// pair on one exchange. Derived, never persisted.
type BotKey struct {
	UserID     uint
	PairSymbol string
	Exchange   string
}

// String returns the canonical map key form.
func (k BotKey) String() string {
	return fmt.Sprintf("%d_%s_%s", k.UserID, k.PairSymbol, k.Exchange)
}
