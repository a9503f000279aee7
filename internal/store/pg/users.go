package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deskbill.org/internal/audit"
	"deskbill.org/internal/directory"
)

const userColumns = `id, given_name, middle_name, last_name, email, role, program, year, department, created_at, password_hash`

func (s *Store) Register(ctx context.Context, u directory.User) (directory.User, error) {
	if u.ID == "" {
		return directory.User{}, fmt.Errorf("%w: id is required", directory.ErrInvalidArgument)
	}
	if u.GivenName == "" {
		return directory.User{}, fmt.Errorf("%w: given name is required", directory.ErrInvalidArgument)
	}
	if u.LastName == "" {
		return directory.User{}, fmt.Errorf("%w: last name is required", directory.ErrInvalidArgument)
	}

	u.CreatedAt = s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return directory.User{}, storageErr(directory.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.appendAudit(ctx, tx, audit.Actor(ctx), directory.ActionUserRegister); err != nil {
		return directory.User{}, err
	}
	_, err = tx.ExecContext(ctx, `
		insert into users(id, given_name, middle_name, last_name, email, role, program, year, department, created_at, password_hash)
		values ($1,$2,$3,$4,nullif($5,''),$6,$7,$8,$9,$10,$11)
	`, u.ID, u.GivenName, u.MiddleName, u.LastName, u.Email, u.Role, u.Program, u.Year, u.Department, u.CreatedAt, u.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return directory.User{}, fmt.Errorf("%w: user %s", directory.ErrConflict, u.ID)
		}
		return directory.User{}, storageErr(directory.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return directory.User{}, storageErr(directory.ErrStorage, err)
	}
	return u, nil
}

func (s *Store) Update(ctx context.Context, id string, patch directory.Patch) (directory.User, error) {
	if patch.GivenName != nil && *patch.GivenName == "" {
		return directory.User{}, fmt.Errorf("%w: given name cannot be cleared", directory.ErrInvalidArgument)
	}
	if patch.LastName != nil && *patch.LastName == "" {
		return directory.User{}, fmt.Errorf("%w: last name cannot be cleared", directory.ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return directory.User{}, storageErr(directory.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	u, err := scanUser(tx.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1 for update`, id))
	if err != nil {
		return directory.User{}, err
	}

	if patch.GivenName != nil {
		u.GivenName = *patch.GivenName
	}
	if patch.MiddleName != nil {
		u.MiddleName = *patch.MiddleName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.Program != nil {
		u.Program = *patch.Program
	}
	if patch.Year != nil {
		u.Year = *patch.Year
	}
	if patch.Department != nil {
		u.Department = *patch.Department
	}

	if _, err := s.appendAudit(ctx, tx, audit.Actor(ctx), directory.ActionUserUpdate); err != nil {
		return directory.User{}, err
	}
	_, err = tx.ExecContext(ctx, `
		update users
		set given_name=$2, middle_name=$3, last_name=$4, email=nullif($5,''), role=$6, program=$7, year=$8, department=$9
		where id=$1
	`, id, u.GivenName, u.MiddleName, u.LastName, u.Email, u.Role, u.Program, u.Year, u.Department)
	if err != nil {
		if isUniqueViolation(err) {
			return directory.User{}, fmt.Errorf("%w: email %s", directory.ErrConflict, u.Email)
		}
		return directory.User{}, storageErr(directory.ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return directory.User{}, storageErr(directory.ErrStorage, err)
	}
	return u, nil
}

func (s *Store) Get(ctx context.Context, id string) (directory.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (directory.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from users where id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr(directory.ErrStorage, err)
	}
	return true, nil
}

func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(directory.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.appendAudit(ctx, tx, audit.Actor(ctx), directory.ActionCredentialSet); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `update users set password_hash=$2 where id=$1`, id, hash)
	if err != nil {
		return storageErr(directory.ErrStorage, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr(directory.ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", directory.ErrNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(directory.ErrStorage, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]directory.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at asc, id asc`)
	if err != nil {
		return nil, storageErr(directory.ErrStorage, err)
	}
	defer rows.Close()

	var res []directory.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(directory.ErrStorage, err)
	}
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (directory.User, error) {
	var (
		u     directory.User
		email sql.NullString
		year  sql.NullInt64
	)
	err := row.Scan(&u.ID, &u.GivenName, &u.MiddleName, &u.LastName, &email, &u.Role,
		&u.Program, &year, &u.Department, &u.CreatedAt, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, fmt.Errorf("%w: user", directory.ErrNotFound)
	}
	if err != nil {
		return directory.User{}, storageErr(directory.ErrStorage, err)
	}
	u.Email = email.String
	u.Year = int(year.Int64)
	return u, nil
}
