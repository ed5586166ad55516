package generator

// Config drives the synthetic request generator.
type Config struct {
	NumUsers          int
	NumAccounts       int
	NumTransactions   int
	OpeningBalance    float64
	TypeWeights       [4]int // transfer, payment, withdrawal, deposit
	LargeAmountChance float64
	CapabilityChance  float64
	DuplicateChance   float64
	UrgentChance      float64
	Seed              int64
}

// DefaultConfig returns a mix dominated by transfers and payments with a
// small tail of large, urgent and resubmitted requests.
func DefaultConfig() Config {
	return Config{
		NumUsers:          200,
		NumAccounts:       500,
		NumTransactions:   5000,
		OpeningBalance:    25000,
		TypeWeights:       [4]int{50, 25, 15, 10},
		LargeAmountChance: 0.02,
		CapabilityChance:  0.05,
		DuplicateChance:   0.01,
		UrgentChance:      0.1,
		Seed:              42,
	}
}
