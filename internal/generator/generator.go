package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
	"github.com/vanshika/fintrace/txnengine/internal/manager"
)

// Account is an opening balance to seed before replaying requests.
type Account struct {
	ID      string          `json:"account_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Dataset contains the generated accounts and submission requests.
type Dataset struct {
	Accounts []Account               `json:"accounts"`
	Requests []manager.SubmitRequest `json:"requests"`
}

// Generator produces synthetic submission requests.
type Generator struct {
	cfg  Config
	rand *rand.Rand
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumUsers <= 0 {
		cfg.NumUsers = def.NumUsers
	}
	if cfg.NumAccounts <= 1 {
		cfg.NumAccounts = def.NumAccounts
	}
	if cfg.NumTransactions <= 0 {
		cfg.NumTransactions = def.NumTransactions
	}
	if cfg.OpeningBalance <= 0 {
		cfg.OpeningBalance = def.OpeningBalance
	}
	if cfg.TypeWeights == [4]int{} {
		cfg.TypeWeights = def.TypeWeights
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Generate synthesises accounts and requests. It respects context
// cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	accounts := make([]Account, g.cfg.NumAccounts)
	opening := decimal.NewFromFloat(g.cfg.OpeningBalance).Round(2)
	for i := range accounts {
		accounts[i] = Account{ID: fmt.Sprintf("ACC-%06d", i+1), Balance: opening}
	}

	requests := make([]manager.SubmitRequest, 0, g.cfg.NumTransactions)
	for i := 0; i < g.cfg.NumTransactions; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}

		if len(requests) > 0 && g.rand.Float64() < g.cfg.DuplicateChance {
			requests = append(requests, requests[g.rand.Intn(len(requests))])
			continue
		}

		txType := g.randomType()
		req := manager.SubmitRequest{
			TransactionID: fmt.Sprintf("TX-%07d", i+1),
			UserID:        fmt.Sprintf("USR-%05d", g.rand.Intn(g.cfg.NumUsers)+1),
			Type:          txType,
			Amount:        g.randomAmount(),
			Currency:      "USD",
			Priority:      g.randomPriority(txType),
			Metadata: map[string]any{
				"channel": g.randomChannel(),
				"note":    g.randomNote(),
			},
		}

		src, dst := g.accountPair(accounts)
		switch txType {
		case domain.TypeTransfer:
			req.SourceAccount, req.DestinationAccount = src, dst
		case domain.TypePayment:
			req.SourceAccount = src
			req.Metadata["merchant"] = g.randomMerchant()
		case domain.TypeWithdrawal:
			req.SourceAccount = src
		case domain.TypeDeposit:
			req.DestinationAccount = dst
		}
		if g.rand.Float64() < g.cfg.CapabilityChance {
			req.Metadata["required_capabilities"] = []string{string(txType)}
		}

		requests = append(requests, req)
	}

	return Dataset{Accounts: accounts, Requests: requests}, nil
}

func (g *Generator) accountPair(accounts []Account) (string, string) {
	srcIdx := g.rand.Intn(len(accounts))
	dstIdx := g.rand.Intn(len(accounts))
	if srcIdx == dstIdx {
		dstIdx = (dstIdx + 1) % len(accounts)
	}
	return accounts[srcIdx].ID, accounts[dstIdx].ID
}

func (g *Generator) randomType() domain.Type {
	total := 0
	for _, w := range g.cfg.TypeWeights {
		total += w
	}
	if total <= 0 {
		return domain.Types[g.rand.Intn(len(domain.Types))]
	}
	pick := g.rand.Intn(total)
	for i, w := range g.cfg.TypeWeights {
		if pick < w {
			return domain.Types[i]
		}
		pick -= w
	}
	return domain.TypeTransfer
}

func (g *Generator) randomAmount() decimal.Decimal {
	amount := g.rand.Float64()*490 + 10
	if g.rand.Float64() < g.cfg.LargeAmountChance {
		amount = g.rand.Float64()*15000 + 10000
	}
	return decimal.NewFromFloat(amount).Round(2)
}

func (g *Generator) randomPriority(t domain.Type) domain.Priority {
	if g.rand.Float64() < g.cfg.UrgentChance {
		return domain.PriorityCritical + domain.Priority(g.rand.Intn(2))
	}
	if t == domain.TypeDeposit {
		return domain.PriorityLow + domain.Priority(g.rand.Intn(2))
	}
	return domain.PriorityNormal
}

func (g *Generator) randomChannel() string {
	channels := []string{"WEB", "MOBILE", "POS", "API"}
	return channels[g.rand.Intn(len(channels))]
}

func (g *Generator) randomMerchant() string {
	merchants := []string{"Acme Market", "Northwind", "Globex", "Initech", "Umbrella Travel", "Stark Supplies"}
	return merchants[g.rand.Intn(len(merchants))]
}

func (g *Generator) randomNote() string {
	notes := []string{"Invoice settlement", "Freelance payout", "Peer transfer", "Market purchase", "Rent"}
	return notes[g.rand.Intn(len(notes))]
}
