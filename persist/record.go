package persist

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// Entity tells which table a record belongs to.
type Entity string

const (
	EntityTransaction Entity = "transaction"
	EntityDialog      Entity = "dialog"
)

// Record is the persisted snapshot of a transaction or a dialog. Field names
// map to snake_case columns.
type Record struct {
	ID        string    `db:"id"`
	Entity    Entity    `db:"-"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	BranchID  string    `db:"branch_id"`
	CallID    string    `db:"call_id"`
	FromTag   string    `db:"from_tag"`
	ToTag     string    `db:"to_tag"`
	State     string    `db:"state"`
	Flow      string    `db:"flow"`
	DialogID  string    `db:"dialog_id"`
}

// NewRecordID returns an id for a new record.
func NewRecordID() string {
	return uuid.Must(uuid.NewV4(), nil).String()
}

// Recorder receives snapshots on every create and state change. Calls never
// block the caller.
type Recorder interface {
	Record(rec Record)
}

type nopRecorder struct{}

func (nopRecorder) Record(Record) {}

// Nop discards everything.
func Nop() Recorder {
	return nopRecorder{}
}
