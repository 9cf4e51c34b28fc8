package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// GenerateAccountNumber produces a candidate 12-digit account number.
// The first digit is never zero so the number keeps its full width.
// Callers must collision-check against the store before using it.
func GenerateAccountNumber() string {
	first := rand.Intn(9) + 1
	rest := rand.Int63n(1e11)
	return fmt.Sprintf("%d%011d", first, rest)
}

// HashTxn generates a SHA-256 hash of a transaction's relevant fields.
// This ensures the integrity of the transaction by creating a unique hash from its details.
func (transaction *Transaction) HashTxn() string {
	data := fmt.Sprintf("%d%s%s%s%s", transaction.Amount, transaction.IdempotencyKey, transaction.Currency, transaction.Sender, transaction.Receiver)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
