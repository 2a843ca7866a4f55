package app

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks a CLI invocation that may mutate the archive index.
// Operations are created in memory with ID=0. Only index-mutating commands
// persist them (giving them an auto-increment ID from the database), and
// their ID versions the index copy uploaded to the vault.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}
