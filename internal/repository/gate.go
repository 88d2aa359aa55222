package repository

// Gate records the last date a plan was committed for each user. Callers
// serialize check-and-mark per user; the gate itself only guarantees that
// individual reads and writes are safe.
type Gate struct {
	dates keyed[string]
}

func NewGate() *Gate {
	return &Gate{}
}

// Date returns the last committed date for userID.
func (g *Gate) Date(userID string) (string, bool) {
	return g.dates.get(userID)
}

// Mark records date as committed for userID.
func (g *Gate) Mark(userID, date string) {
	g.dates.set(userID, date)
}
