package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeChecksum hashes the immutable identifying fields of a transaction.
// The amount is rendered in canonical decimal form so "100" and "100.00"
// produce the same digest.
func ComputeChecksum(tx *Transaction) string {
	fields := []string{
		tx.ID,
		tx.UserID,
		tx.Amount.String(),
		strings.ToUpper(tx.Currency),
		tx.SourceAccount,
		tx.DestinationAccount,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether the stored checksum still matches the payload.
func VerifyChecksum(tx *Transaction) bool {
	return tx.Checksum != "" && tx.Checksum == ComputeChecksum(tx)
}
