package store

import (
	"github.com/n2nstreams/rollout/pkg/types"
)

// Store is the audit and carry-over state storage for the controller.
// Terminal transactions and rollback events are the audit trail; promotions
// and pending deletions carry state between promotion cycles.
type Store interface {
	// Transactions
	SaveTransaction(tx *types.DeploymentTransaction) error
	GetTransaction(id string) (*types.DeploymentTransaction, error)
	// ListTransactions returns all transactions, newest first
	ListTransactions() ([]*types.DeploymentTransaction, error)

	// Rollback events, append-only
	AppendRollbackEvent(event *types.RollbackEvent) error
	ListRollbackEvents() ([]*types.RollbackEvent, error)

	// Promotions, latest per service
	SavePromotion(p *types.Promotion) error
	LatestPromotion(ref types.ServiceRef) (*types.Promotion, error)

	// Pending deletions: retention failures retried on the next cycle
	AddPendingDeletion(ref types.ServiceRef, revision string) error
	ListPendingDeletions(ref types.ServiceRef) ([]string, error)
	RemovePendingDeletion(ref types.ServiceRef, revision string) error

	// Utility
	Close() error
}
