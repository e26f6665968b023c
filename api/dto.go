/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/store/sqlite"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ProcessTransactionRequest is the body for POST /api/transactions.
type ProcessTransactionRequest struct {
	SubjectID      string  `json:"subject_id"`
	CounterID      string  `json:"counter_id"`
	StoreID        string  `json:"store_id,omitempty"`
	Kind           string  `json:"kind"`
	Amount         float64 `json:"amount"`
	TotalCost      float64 `json:"total_cost,omitempty"`
	CashbackRate   float64 `json:"cashback_rate,omitempty"`
	Description    string  `json:"description,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	ActorID        string  `json:"actor_id"`
}

// ReverseRequest is the body for POST /api/transactions/{id}/reverse.
type ReverseRequest struct {
	ActingPartyID string `json:"acting_party_id"`
}

// TransactionDTO represents a ledger entry in API responses.
type TransactionDTO struct {
	ID          string  `json:"id"`
	SubjectID   string  `json:"subject_id"`
	CounterID   string  `json:"counter_id,omitempty"`
	StoreID     string  `json:"store_id,omitempty"`
	Amount      float64 `json:"amount"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`
	Description string  `json:"description,omitempty"`
	CreatedBy   string  `json:"created_by,omitempty"`
}

// BalanceDTO represents an account balance.
type BalanceDTO struct {
	AccountID      string  `json:"account_id"`
	Kind           string  `json:"kind"`
	Balance        float64 `json:"balance"`
	FundingCeiling float64 `json:"funding_ceiling,omitempty"`
}

// AuditDTO reports stored-vs-replayed balance for an account.
type AuditDTO struct {
	AccountID string  `json:"account_id"`
	Stored    float64 `json:"stored"`
	Replayed  float64 `json:"replayed"`
	Drift     float64 `json:"drift"`
	Entries   int     `json:"entries"`
	Clean     bool    `json:"clean"`
}

// ExpirationRequest is the body for POST /api/admin/expiration.
type ExpirationRequest struct {
	AsOf string `json:"as_of,omitempty"` // RFC3339; empty means now
}

// CycleSummaryDTO reports one expiration run.
type CycleSummaryDTO struct {
	Cycle           string  `json:"cycle"`
	ExpiredAccounts int     `json:"expired_accounts"`
	ExpiredTotal    float64 `json:"expired_total"`
	SkippedAccounts int     `json:"skipped_accounts"`
	CompaniesReset  int     `json:"companies_reset"`
}

// ExpirationRunDTO reports one recorded scheduler or manual run.
type ExpirationRunDTO struct {
	ID              string `json:"id"`
	Cycle           string `json:"cycle"`
	AsOf            string `json:"as_of"`
	Status          string `json:"status"`
	ExpiredAccounts int    `json:"expired_accounts"`
	ExpiredTotal    string `json:"expired_total"`
	CompaniesReset  int    `json:"companies_reset"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	amount, _ := tx.Amount.Value.Float64()
	return TransactionDTO{
		ID:          string(tx.ID),
		SubjectID:   string(tx.SubjectID),
		CounterID:   string(tx.CounterID),
		StoreID:     string(tx.StoreID),
		Amount:      amount,
		Kind:        string(tx.Kind),
		Status:      string(tx.Status),
		Timestamp:   tx.Timestamp.UTC().Format(time.RFC3339),
		Description: tx.Description,
		CreatedBy:   tx.CreatedBy,
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toTransactionDTO(tx))
	}
	return dtos
}

func toExpirationRunDTO(run sqlite.ExpirationRun) ExpirationRunDTO {
	dto := ExpirationRunDTO{
		ID:              run.ID,
		Cycle:           run.CycleLabel,
		AsOf:            run.AsOf.UTC().Format(time.RFC3339),
		Status:          run.Status,
		ExpiredAccounts: run.ExpiredAccounts,
		ExpiredTotal:    run.ExpiredTotal,
		CompaniesReset:  run.CompaniesReset,
		Error:           run.Error,
	}
	if run.StartedAt != nil {
		dto.StartedAt = run.StartedAt.UTC().Format(time.RFC3339)
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toBalanceDTO(account ledger.Account) BalanceDTO {
	balance, _ := account.Balance.Value.Float64()
	ceiling, _ := account.FundingCeiling.Value.Float64()
	return BalanceDTO{
		AccountID:      string(account.ID),
		Kind:           string(account.Kind),
		Balance:        balance,
		FundingCeiling: ceiling,
	}
}
