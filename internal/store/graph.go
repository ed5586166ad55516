package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
	"github.com/vanshika/fintrace/txnengine/internal/graph"
)

// Graph stores each transaction as a Transaction node linked to Account and
// User nodes, so money movement can be traversed alongside the record.
type Graph struct {
	client graph.Client
}

func NewGraph(client graph.Client) *Graph {
	return &Graph{client: client}
}

func (g *Graph) Create(ctx context.Context, tx *domain.Transaction) error {
	props, err := transactionProperties(tx)
	if err != nil {
		return err
	}
	params := map[string]any{
		"transactionId": tx.ID,
		"userId":        tx.UserID,
		"source":        tx.SourceAccount,
		"destination":   tx.DestinationAccount,
		"props":         props,
	}

	res, err := g.client.ExecuteWrite(ctx, createTransactionCypher, params)
	if err != nil {
		return fmt.Errorf("create transaction %s: %w", tx.ID, err)
	}
	if _, ok := res.Single(); !ok {
		return ErrDuplicateTransaction
	}
	return nil
}

func (g *Graph) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	res, err := g.client.ExecuteRead(ctx, getTransactionCypher, map[string]any{"transactionId": id})
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	rec, ok := res.Single()
	if !ok {
		return nil, ErrNotFound
	}
	return transactionFromRecord(rec)
}

func (g *Graph) Transition(ctx context.Context, id string, from []domain.Status, to domain.Status, node string) (bool, error) {
	now := time.Now().UTC()
	params := map[string]any{
		"transactionId": id,
		"from":          statusStrings(from),
		"to":            string(to),
		"node":          node,
		"updatedAt":     formatTime(now),
		"terminal":      to.Terminal(),
		"completedAtMs": now.UnixMilli(),
	}
	res, err := g.client.ExecuteWrite(ctx, transitionCypher, params)
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	if _, ok := res.Single(); ok {
		return true, nil
	}
	if _, err := g.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (g *Graph) SaveResult(ctx context.Context, res domain.ProcessingResult, retryCount int) error {
	completed := res.CompletedAt.UTC()
	params := map[string]any{
		"transactionId": res.TransactionID,
		"props": map[string]any{
			"status":         string(res.Status),
			"processingNode": res.NodeID,
			"processingTime": res.ProcessingTime,
			"errorMessage":   res.ErrorMessage,
			"retryCount":     retryCount,
			"updatedAt":      formatTime(completed),
			"completedAt":    formatTime(completed),
			"completedAtMs":  completed.UnixMilli(),
		},
	}
	out, err := g.client.ExecuteWrite(ctx, saveResultCypher, params)
	if err != nil {
		return fmt.Errorf("save result %s: %w", res.TransactionID, err)
	}
	if _, ok := out.Single(); !ok {
		return ErrNotFound
	}
	return nil
}

func (g *Graph) RecentOutcomes(ctx context.Context, since time.Time) ([]domain.Outcome, error) {
	res, err := g.client.ExecuteRead(ctx, recentOutcomesCypher, map[string]any{"sinceMs": since.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("query recent outcomes: %w", err)
	}
	out := make([]domain.Outcome, 0, len(res.Records))
	for _, rec := range res.Records {
		o := domain.Outcome{
			TransactionID:  toString(rec["transactionId"]),
			Type:           domain.Type(toString(rec["type"])),
			Status:         domain.Status(toString(rec["status"])),
			ProcessingTime: toFloat64(rec["processingTime"]),
		}
		if ts := toTimePtr(rec["completedAt"]); ts != nil {
			o.CompletedAt = *ts
		}
		out = append(out, o)
	}
	return out, nil
}

func (g *Graph) CountByStatus(ctx context.Context, since time.Time) (map[domain.Status]int64, error) {
	res, err := g.client.ExecuteRead(ctx, countByStatusCypher, map[string]any{"sinceMs": since.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	counts := make(map[domain.Status]int64, len(res.Records))
	for _, rec := range res.Records {
		counts[domain.Status(toString(rec["status"]))] = toInt64(rec["total"])
	}
	return counts, nil
}

func (g *Graph) Ping(ctx context.Context) error {
	return g.client.VerifyConnectivity(ctx)
}

func (g *Graph) Close() error {
	return g.client.Close(context.Background())
}

func transactionProperties(tx *domain.Transaction) (map[string]any, error) {
	props := map[string]any{
		"userId":             tx.UserID,
		"type":               string(tx.Type),
		"amount":             tx.Amount.String(),
		"currency":           tx.Currency,
		"sourceAccount":      tx.SourceAccount,
		"destinationAccount": tx.DestinationAccount,
		"status":             string(tx.Status),
		"priority":           int64(tx.Priority),
		"processingNode":     tx.ProcessingNode,
		"retryCount":         int64(tx.RetryCount),
		"maxRetries":         int64(tx.MaxRetries),
		"timeoutSeconds":     int64(tx.TimeoutSeconds),
		"checksum":           tx.Checksum,
		"createdAt":          formatTime(tx.CreatedAt),
		"createdAtMs":        tx.CreatedAt.UnixMilli(),
		"updatedAt":          formatTime(tx.UpdatedAt),
		"processingTime":     tx.ProcessingTime,
		"errorMessage":       tx.ErrorMessage,
	}
	if len(tx.Metadata) > 0 {
		raw, err := json.Marshal(tx.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		props["metadataJson"] = string(raw)
	}
	return props, nil
}

func transactionFromRecord(rec graph.Record) (*domain.Transaction, error) {
	amount, err := decimal.NewFromString(toString(rec["amount"]))
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	tx := &domain.Transaction{
		ID:                 toString(rec["transactionId"]),
		UserID:             toString(rec["userId"]),
		SourceAccount:      toString(rec["sourceAccount"]),
		DestinationAccount: toString(rec["destinationAccount"]),
		Type:               domain.Type(toString(rec["type"])),
		Amount:             amount,
		Currency:           toString(rec["currency"]),
		Priority:           domain.Priority(toInt64(rec["priority"])),
		TimeoutSeconds:     int(toInt64(rec["timeoutSeconds"])),
		Checksum:           toString(rec["checksum"]),
		Status:             domain.Status(toString(rec["status"])),
		ProcessingNode:     toString(rec["processingNode"]),
		RetryCount:         int(toInt64(rec["retryCount"])),
		MaxRetries:         int(toInt64(rec["maxRetries"])),
		ErrorMessage:       toString(rec["errorMessage"]),
		ProcessingTime:     toFloat64(rec["processingTime"]),
		CompletedAt:        toTimePtr(rec["completedAt"]),
	}
	if ts := toTimePtr(rec["createdAt"]); ts != nil {
		tx.CreatedAt = *ts
	}
	if ts := toTimePtr(rec["updatedAt"]); ts != nil {
		tx.UpdatedAt = *ts
	}
	if raw := toString(rec["metadataJson"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return tx, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		ts := v.UTC()
		return &ts
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
	}
	return nil
}

const createTransactionCypher = `
OPTIONAL MATCH (existing:Transaction {transactionId: $transactionId})
WITH existing
WHERE existing IS NULL
CREATE (t:Transaction {transactionId: $transactionId})
SET t += $props
MERGE (u:User {userId: $userId})
MERGE (u)-[:SUBMITTED]->(t)
FOREACH (_ IN CASE WHEN $source = "" THEN [] ELSE [1] END |
	MERGE (src:Account {accountId: $source})
	MERGE (src)-[:PARTICIPATED_IN {role: "SOURCE"}]->(t)
)
FOREACH (_ IN CASE WHEN $destination = "" THEN [] ELSE [1] END |
	MERGE (dst:Account {accountId: $destination})
	MERGE (dst)-[:PARTICIPATED_IN {role: "DESTINATION"}]->(t)
)
RETURN t.transactionId AS transactionId
`

const getTransactionCypher = `
MATCH (t:Transaction {transactionId: $transactionId})
RETURN t.transactionId AS transactionId,
       t.userId AS userId,
       t.sourceAccount AS sourceAccount,
       t.destinationAccount AS destinationAccount,
       t.type AS type,
       t.amount AS amount,
       t.currency AS currency,
       t.priority AS priority,
       t.timeoutSeconds AS timeoutSeconds,
       t.checksum AS checksum,
       t.status AS status,
       t.processingNode AS processingNode,
       t.retryCount AS retryCount,
       t.maxRetries AS maxRetries,
       t.errorMessage AS errorMessage,
       t.processingTime AS processingTime,
       t.metadataJson AS metadataJson,
       t.createdAt AS createdAt,
       t.updatedAt AS updatedAt,
       t.completedAt AS completedAt
`

const transitionCypher = `
MATCH (t:Transaction {transactionId: $transactionId})
WHERE t.status IN $from
SET t.status = $to,
    t.updatedAt = $updatedAt,
    t.processingNode = CASE WHEN $node = "" THEN t.processingNode ELSE $node END,
    t.completedAt = CASE WHEN $terminal THEN $updatedAt ELSE null END,
    t.completedAtMs = CASE WHEN $terminal THEN $completedAtMs ELSE null END,
    t.errorMessage = CASE WHEN $terminal THEN t.errorMessage ELSE "" END
RETURN t.transactionId AS transactionId
`

const saveResultCypher = `
MATCH (t:Transaction {transactionId: $transactionId})
SET t += $props
RETURN t.transactionId AS transactionId
`

const recentOutcomesCypher = `
MATCH (t:Transaction)
WHERE t.status IN ["COMPLETED", "FAILED"] AND t.completedAtMs >= $sinceMs
  AND coalesce(t.processingNode, "") <> ""
RETURN t.transactionId AS transactionId,
       t.type AS type,
       t.status AS status,
       t.processingTime AS processingTime,
       t.completedAt AS completedAt
ORDER BY t.completedAtMs
`

const countByStatusCypher = `
MATCH (t:Transaction)
WHERE t.createdAtMs >= $sinceMs
RETURN t.status AS status, count(t) AS total
`
