package market

import "github.com/xraph/market/account"

// IsOwner reports whether caller is the market owner.
func (m *Market) IsOwner(caller account.Account) bool {
	normalized, err := account.Parse(caller.String())
	return err == nil && normalized == m.owner
}

// authorize gates owner-only operations. It runs before any other check.
func (m *Market) authorize(caller account.Account, op string) error {
	if m.IsOwner(caller) {
		return nil
	}
	m.logger.Warn("unauthorized market operation",
		"op", op,
		"caller", caller,
	)
	return ErrUnauthorized
}
