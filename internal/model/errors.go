package model

import "errors"

// Business-rule errors. These are expected, recoverable conditions: bad
// input, not a defect in the engine. Handlers map them to 4xx responses.
// Engine defects (credit bound violated after a match, unsizeable
// crossing) are a separate, fatal error kind; see match.InvariantError.
var (
	ErrUnknownParticipant = errors.New("model: unknown participant")
	ErrUnknownContract    = errors.New("model: unknown contract")
	ErrUnknownIOU         = errors.New("model: unknown iou")
	ErrUnknownRecord      = errors.New("model: unknown record")
	ErrDuplicateName      = errors.New("model: name already in use")
	ErrInvalidName        = errors.New("model: invalid name")
	ErrInvalidRange       = errors.New("model: range must satisfy 0 <= low < high <= 100")
	ErrContractResolved   = errors.New("model: contract already resolved")
	ErrNegativeCredit     = errors.New("model: credit limit cannot go negative")
	ErrInvalidSplit       = errors.New("model: split shares must be positive and sum to the iou amount")
	ErrIOUSettled         = errors.New("model: iou is not in unknown status")
)
