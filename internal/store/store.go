// Package store defines the persistence interface for the range exchange.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/range-exchange/internal/model"
)

// ErrNotFound is returned by lookups for records that do not exist.
// Implementations return it unwrapped so callers can errors.Is it.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. The market service hydrates its
// ledger from here at startup and writes through on every mutation; the
// grouped Commit* operations are atomic (a transaction in PostgreSQL).
type Store interface {
	// --- Participants ---

	// CreateParticipant persists a new participant.
	CreateParticipant(ctx context.Context, p *model.Participant) error

	// GetParticipant retrieves a participant by ID.
	GetParticipant(ctx context.Context, id string) (*model.Participant, error)

	// ListParticipants returns all participants with their ranges.
	ListParticipants(ctx context.Context) ([]model.Participant, error)

	// UpdateParticipant rewrites a participant's credit limit and range set.
	UpdateParticipant(ctx context.Context, p *model.Participant) error

	// --- Contracts ---

	// CreateContract persists a new contract.
	CreateContract(ctx context.Context, c *model.Contract) error

	// GetContract retrieves a contract by ID.
	GetContract(ctx context.Context, id string) (*model.Contract, error)

	// ListContracts returns all contracts.
	ListContracts(ctx context.Context) ([]model.Contract, error)

	// --- IOUs (append-only; only Status ever changes) ---

	// GetIOU retrieves an IOU by ID.
	GetIOU(ctx context.Context, id string) (*model.IOU, error)

	// ListIOUs returns every IOU ever issued, in issue order.
	ListIOUs(ctx context.Context) ([]model.IOU, error)

	// --- Atomic groups ---

	// CommitSession inserts a session's minted IOUs all-or-nothing.
	CommitSession(ctx context.Context, minted []model.IOU) error

	// CommitResolution applies a contract resolution in one transaction:
	// the contract's new state, the settled statuses of every affected
	// IOU, and the participants whose range sets dropped the contract.
	CommitResolution(ctx context.Context, c *model.Contract, settled []model.IOU, participants []model.Participant) error

	// CommitSplit voids a parent IOU and inserts its replacements in one
	// transaction. With no replacements it is a plain void.
	CommitSplit(ctx context.Context, parent *model.IOU, replacements []model.IOU) error

	// --- Bookkeeping records (opaque keyed JSON) ---

	// PutRecord inserts or replaces a bookkeeping record.
	PutRecord(ctx context.Context, r *model.Record) error

	// GetRecord retrieves one bookkeeping record by (kind, id).
	GetRecord(ctx context.Context, kind, id string) (*model.Record, error)

	// ListRecords returns all bookkeeping records of one kind.
	ListRecords(ctx context.Context, kind string) ([]model.Record, error)

	// DeleteRecord removes a bookkeeping record.
	DeleteRecord(ctx context.Context, kind, id string) error

	// --- Operational ---

	// Counts reports row counts per table, for the status command.
	Counts(ctx context.Context) (map[string]int64, error)
}
