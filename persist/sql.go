package persist

import (
	"context"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// SQLSink upserts records into the transactions and dialogs tables:
//
//	id, created_at, updated_at, branch_id, call_id, from_tag, to_tag,
//	state, flow, dialog_id
type SQLSink struct {
	db     *sqlx.DB
	flavor sqlbuilder.Flavor
}

func NewSQLSink(db *sqlx.DB, flavor sqlbuilder.Flavor) *SQLSink {
	db.MapperFunc(sqlbuilder.SnakeCaseMapper)
	return &SQLSink{db: db, flavor: flavor}
}

// Save updates the row and inserts it when nothing was updated.
func (s *SQLSink) Save(ctx context.Context, rec Record) error {
	query, args := buildUpdate(s.flavor, rec)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update %s %s", rec.Entity, rec.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	query, args = buildInsert(s.flavor, rec)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "insert %s %s", rec.Entity, rec.ID)
	}
	return nil
}

func tableOf(rec Record) string {
	if rec.Entity == EntityDialog {
		return "dialogs"
	}
	return "transactions"
}

func buildUpdate(flavor sqlbuilder.Flavor, rec Record) (string, []interface{}) {
	ub := flavor.NewUpdateBuilder()
	ub.Update(tableOf(rec))
	ub.Set(
		ub.Assign("updated_at", rec.UpdatedAt),
		ub.Assign("to_tag", rec.ToTag),
		ub.Assign("state", rec.State),
		ub.Assign("dialog_id", rec.DialogID),
	)
	ub.Where(ub.Equal("id", rec.ID))
	return ub.Build()
}

func buildInsert(flavor sqlbuilder.Flavor, rec Record) (string, []interface{}) {
	ib := flavor.NewInsertBuilder()
	ib.InsertInto(tableOf(rec))
	ib.Cols("id", "created_at", "updated_at", "branch_id", "call_id",
		"from_tag", "to_tag", "state", "flow", "dialog_id")
	ib.Values(rec.ID, rec.CreatedAt, rec.UpdatedAt, rec.BranchID, rec.CallID,
		rec.FromTag, rec.ToTag, rec.State, rec.Flow, rec.DialogID)
	return ib.Build()
}
