package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"deskbill.org/internal/audit"
	"deskbill.org/internal/billing"
	"deskbill.org/internal/ids"
	"deskbill.org/internal/money"
	"deskbill.org/internal/obs"
)

func (s *Store) CreateService(ctx context.Context, name, description string, unitPrice decimal.Decimal) (billing.ServiceType, error) {
	if name == "" {
		return billing.ServiceType{}, fmt.Errorf("%w: service name is required", billing.ErrInvalidArgument)
	}
	if money.IsNegative(unitPrice) {
		return billing.ServiceType{}, fmt.Errorf("%w: unit price %s is negative", billing.ErrInvalidArgument, unitPrice)
	}

	svc := billing.ServiceType{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		UnitPrice:   unitPrice.Round(money.Scale),
		CreatedAt:   s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.ServiceType{}, storageErr(billing.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.appendAudit(ctx, tx, audit.Actor(ctx), billing.ActionServiceCreate); err != nil {
		return billing.ServiceType{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into service_types(id, name, description, unit_price, created_at)
		values ($1,$2,$3,$4,$5)
	`, svc.ID, svc.Name, svc.Description, svc.UnitPrice, svc.CreatedAt); err != nil {
		return billing.ServiceType{}, storageErr(billing.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return billing.ServiceType{}, storageErr(billing.ErrStorage, err)
	}
	return svc, nil
}

func (s *Store) UpdateService(ctx context.Context, id string, patch billing.ServicePatch) (billing.ServiceType, error) {
	if patch.Name != nil && *patch.Name == "" {
		return billing.ServiceType{}, fmt.Errorf("%w: service name cannot be cleared", billing.ErrInvalidArgument)
	}
	if patch.UnitPrice != nil && money.IsNegative(*patch.UnitPrice) {
		return billing.ServiceType{}, fmt.Errorf("%w: unit price %s is negative", billing.ErrInvalidArgument, *patch.UnitPrice)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.ServiceType{}, storageErr(billing.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	svc, err := scanService(tx.QueryRowContext(ctx, `
		select id, name, description, unit_price, created_at
		from service_types where id=$1 for update
	`, id))
	if err != nil {
		return billing.ServiceType{}, err
	}

	if patch.Name != nil {
		svc.Name = *patch.Name
	}
	if patch.Description != nil {
		svc.Description = *patch.Description
	}
	if patch.UnitPrice != nil {
		svc.UnitPrice = patch.UnitPrice.Round(money.Scale)
	}

	if _, err := s.appendAudit(ctx, tx, audit.Actor(ctx), billing.ActionServiceUpdate); err != nil {
		return billing.ServiceType{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update service_types set name=$2, description=$3, unit_price=$4 where id=$1
	`, id, svc.Name, svc.Description, svc.UnitPrice); err != nil {
		return billing.ServiceType{}, storageErr(billing.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return billing.ServiceType{}, storageErr(billing.ErrStorage, err)
	}
	return svc, nil
}

func (s *Store) GetService(ctx context.Context, id string) (billing.ServiceType, error) {
	return scanService(s.db.QueryRowContext(ctx, `
		select id, name, description, unit_price, created_at from service_types where id=$1
	`, id))
}

func (s *Store) ListServices(ctx context.Context) ([]billing.ServiceType, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, unit_price, created_at
		from service_types order by created_at asc, id asc
	`)
	if err != nil {
		return nil, storageErr(billing.ErrStorage, err)
	}
	defer rows.Close()

	var res []billing.ServiceType
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(billing.ErrStorage, err)
	}
	return res, nil
}

func (s *Store) CreateTransaction(ctx context.Context, subjectUserID, processedByID, term, schoolYear string) (billing.Transaction, error) {
	for _, ref := range []struct{ label, id string }{
		{"subject user", subjectUserID},
		{"processing user", processedByID},
	} {
		if ref.id == "" {
			return billing.Transaction{}, fmt.Errorf("%w: %s is required", billing.ErrInvalidArgument, ref.label)
		}
		ok, err := s.Exists(ctx, ref.id)
		if err != nil {
			return billing.Transaction{}, err
		}
		if !ok {
			return billing.Transaction{}, fmt.Errorf("%w: %s %s", billing.ErrNotFound, ref.label, ref.id)
		}
	}

	txn := billing.Transaction{
		ID:            ids.NewPrefixed("TXN"),
		SubjectUserID: subjectUserID,
		ProcessedByID: processedByID,
		CreatedAt:     s.now().UTC(),
		Term:          term,
		SchoolYear:    schoolYear,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Transaction{}, storageErr(billing.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.appendAudit(ctx, tx, audit.Actor(ctx), billing.ActionTransactionCreate); err != nil {
		return billing.Transaction{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into transactions(id, subject_user_id, processed_by_id, created_at, term, school_year)
		values ($1,$2,$3,$4,$5,$6)
	`, txn.ID, txn.SubjectUserID, txn.ProcessedByID, txn.CreatedAt, txn.Term, txn.SchoolYear); err != nil {
		if isUniqueViolation(err) {
			return billing.Transaction{}, fmt.Errorf("%w: transaction id %s", billing.ErrConflict, txn.ID)
		}
		if isForeignKeyViolation(err) {
			return billing.Transaction{}, fmt.Errorf("%w: transaction user reference", billing.ErrNotFound)
		}
		return billing.Transaction{}, storageErr(billing.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return billing.Transaction{}, storageErr(billing.ErrStorage, err)
	}
	obs.IncTransactionCreated()
	return txn, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (billing.Transaction, error) {
	var txn billing.Transaction
	err := s.db.QueryRowContext(ctx, `
		select id, subject_user_id, processed_by_id, created_at, term, school_year
		from transactions where id=$1
	`, id).Scan(&txn.ID, &txn.SubjectUserID, &txn.ProcessedByID, &txn.CreatedAt, &txn.Term, &txn.SchoolYear)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Transaction{}, fmt.Errorf("%w: transaction %s", billing.ErrNotFound, id)
	}
	if err != nil {
		return billing.Transaction{}, storageErr(billing.ErrStorage, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, transaction_id, service_id, quantity, unit_price, subtotal
		from transaction_details where transaction_id=$1 order by seq asc
	`, id)
	if err != nil {
		return billing.Transaction{}, storageErr(billing.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e billing.Entry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.ServiceID, &e.Quantity, &e.UnitPrice, &e.Subtotal); err != nil {
			return billing.Transaction{}, storageErr(billing.ErrStorage, err)
		}
		txn.Entries = append(txn.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return billing.Transaction{}, storageErr(billing.ErrStorage, err)
	}
	return txn, nil
}

func (s *Store) AddEntry(ctx context.Context, txID, serviceID string, quantity int) (billing.Entry, error) {
	if quantity < 1 {
		return billing.Entry{}, fmt.Errorf("%w: quantity %d must be >= 1", billing.ErrInvalidArgument, quantity)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Entry{}, storageErr(billing.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `select 1 from transactions where id=$1`, txID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Entry{}, fmt.Errorf("%w: transaction %s", billing.ErrNotFound, txID)
	}
	if err != nil {
		return billing.Entry{}, storageErr(billing.ErrStorage, err)
	}

	price, err := s.servicePrice(ctx, tx, serviceID)
	if err != nil {
		return billing.Entry{}, err
	}

	entry := billing.Entry{
		ID:            ids.New(),
		TransactionID: txID,
		ServiceID:     serviceID,
		Quantity:      quantity,
		UnitPrice:     price,
		Subtotal:      money.Line(price, quantity),
	}

	if _, err := s.appendAudit(ctx, tx, audit.Actor(ctx), billing.ActionEntryAdd); err != nil {
		return billing.Entry{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into transaction_details(id, transaction_id, service_id, quantity, unit_price, subtotal)
		values ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.TransactionID, entry.ServiceID, entry.Quantity, entry.UnitPrice, entry.Subtotal); err != nil {
		return billing.Entry{}, storageErr(billing.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return billing.Entry{}, storageErr(billing.ErrStorage, err)
	}
	obs.IncEntryMutation("add")
	return entry, nil
}

func (s *Store) SetEntryQuantity(ctx context.Context, txID, entryID string, quantity int) (billing.Entry, error) {
	if quantity < 1 {
		return billing.Entry{}, fmt.Errorf("%w: quantity %d must be >= 1", billing.ErrInvalidArgument, quantity)
	}
	entry, err := s.mutateEntry(ctx, txID, entryID, func(e *billing.Entry, price decimal.Decimal) {
		e.Quantity = quantity
		e.UnitPrice = price
		e.Subtotal = money.Line(price, quantity)
	}, "")
	if err != nil {
		return billing.Entry{}, err
	}
	obs.IncEntryMutation("quantity")
	return entry, nil
}

func (s *Store) SetEntryService(ctx context.Context, txID, entryID, serviceID string) (billing.Entry, error) {
	entry, err := s.mutateEntry(ctx, txID, entryID, func(e *billing.Entry, price decimal.Decimal) {
		e.ServiceID = serviceID
		e.UnitPrice = price
		e.Subtotal = money.Line(price, e.Quantity)
	}, serviceID)
	if err != nil {
		return billing.Entry{}, err
	}
	obs.IncEntryMutation("service")
	return entry, nil
}

// mutateEntry applies an entry mutation with the catalog price captured
// inside the same database transaction, keeping quantity, captured price
// and subtotal consistent for any observer. newServiceID overrides the
// price source when the mutation switches services.
func (s *Store) mutateEntry(ctx context.Context, txID, entryID string, apply func(*billing.Entry, decimal.Decimal), newServiceID string) (billing.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Entry{}, storageErr(billing.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	var e billing.Entry
	err = tx.QueryRowContext(ctx, `
		select id, transaction_id, service_id, quantity, unit_price, subtotal
		from transaction_details where id=$1 and transaction_id=$2 for update
	`, entryID, txID).Scan(&e.ID, &e.TransactionID, &e.ServiceID, &e.Quantity, &e.UnitPrice, &e.Subtotal)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Entry{}, fmt.Errorf("%w: entry %s in transaction %s", billing.ErrNotFound, entryID, txID)
	}
	if err != nil {
		return billing.Entry{}, storageErr(billing.ErrStorage, err)
	}

	priceSource := e.ServiceID
	if newServiceID != "" {
		priceSource = newServiceID
	}
	price, err := s.servicePrice(ctx, tx, priceSource)
	if err != nil {
		return billing.Entry{}, err
	}
	apply(&e, price)

	if _, err := s.appendAudit(ctx, tx, audit.Actor(ctx), billing.ActionEntryUpdate); err != nil {
		return billing.Entry{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update transaction_details set service_id=$2, quantity=$3, unit_price=$4, subtotal=$5 where id=$1
	`, e.ID, e.ServiceID, e.Quantity, e.UnitPrice, e.Subtotal); err != nil {
		return billing.Entry{}, storageErr(billing.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return billing.Entry{}, storageErr(billing.ErrStorage, err)
	}
	return e, nil
}

func (s *Store) servicePrice(ctx context.Context, tx *sql.Tx, serviceID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := tx.QueryRowContext(ctx, `select unit_price from service_types where id=$1`, serviceID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("%w: service %s", billing.ErrNotFound, serviceID)
	}
	if err != nil {
		return decimal.Decimal{}, storageErr(billing.ErrStorage, err)
	}
	return price, nil
}

func scanService(row rowScanner) (billing.ServiceType, error) {
	var svc billing.ServiceType
	err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.UnitPrice, &svc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.ServiceType{}, fmt.Errorf("%w: service", billing.ErrNotFound)
	}
	if err != nil {
		return billing.ServiceType{}, storageErr(billing.ErrStorage, err)
	}
	return svc, nil
}
