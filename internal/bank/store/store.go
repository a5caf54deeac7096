// Package store implements the bank's account and ATM ledger persistence:
// two tables (cards, atms) guarded by a process-wide mutex, since sqlite
// does not itself guarantee safe concurrent read-modify-write access from
// the bank RPC server and the admin HTTP server sharing one connection.
package store

import (
	"context"
	_ "embed"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// nonceValidity is how long an issued nonce remains usable before the bank
// refuses to accept a signature built against it.
const nonceValidity = 5 * time.Second

// sqliteTimeLayout matches the format modernc.org/sqlite returns for a
// column declared DATETIME and populated with CURRENT_TIMESTAMP.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// Store is the bank server's persistence layer. The zero value is not
// usable; construct with Open.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the embedded schema idempotently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// NonceData is the bank's bookkeeping record for the most recently issued
// nonce for one card.
type NonceData struct {
	Nonce     []byte
	Timestamp time.Time
	Used      bool
}

// UserExists reports whether any card is registered under accountName.
func (s *Store) UserExists(ctx context.Context, accountName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cards WHERE account_name = ? LIMIT 1);`, accountName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: user_exists: %w", err)
	}
	return exists != 0, nil
}

// CardExists reports whether cardID is registered.
func (s *Store) CardExists(ctx context.Context, cardID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cards WHERE card_id = ? LIMIT 1);`, cardID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: card_exists: %w", err)
	}
	return exists != 0, nil
}

// nonceDataLocked returns the card's current nonce bookkeeping, or nil if
// the card has never been issued a nonce. Caller must hold s.mu.
func (s *Store) nonceDataLocked(ctx context.Context, cardID string) (*NonceData, error) {
	var nonce []byte
	var tsRaw sql.NullString
	var used sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT nonce, timestamp, used FROM cards WHERE card_id = ?;`, cardID,
	).Scan(&nonce, &tsRaw, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_nonce_data: %w", err)
	}
	if nonce == nil || !tsRaw.Valid || !used.Valid {
		return nil, nil
	}
	ts, err := time.ParseInLocation(sqliteTimeLayout, tsRaw.String, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("store: parse nonce timestamp: %w", err)
	}
	return &NonceData{Nonce: nonce, Timestamp: ts, Used: used.Int64 != 0}, nil
}

func timestampValid(ts time.Time) bool {
	return ts.Add(nonceValidity).After(time.Now())
}

// CheckExpiredAndUpdateNonce issues a fresh nonce for cardID, refusing to
// overwrite a still-valid, unused nonce (a caller requesting a second
// nonce while one is already outstanding gets false, not a silent reset).
func (s *Store) CheckExpiredAndUpdateNonce(ctx context.Context, cardID string, nonce []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.nonceDataLocked(ctx, cardID)
	if err != nil {
		return false, err
	}
	if data != nil && !data.Used && timestampValid(data.Timestamp) {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE cards SET nonce = ?, used = 0, timestamp = CURRENT_TIMESTAMP WHERE card_id = ?;`,
		nonce, cardID,
	)
	if err != nil {
		return false, fmt.Errorf("store: check_expired_and_update_nonce: %w", err)
	}
	return rowsAffected(res), nil
}

// UpdatePK overwrites card_id's stored verification key unconditionally
// (used by the change-PIN flow once the old PIN has been verified).
func (s *Store) UpdatePK(ctx context.Context, cardID string, newPK []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE cards SET pk = ? WHERE card_id = ?;`, newPK, cardID)
	if err != nil {
		return false, fmt.Errorf("store: update_pk: %w", err)
	}
	return rowsAffected(res), nil
}

// GetHSMKey returns the shared secret for hsmID, or nil if no such ATM is
// registered.
func (s *Store) GetHSMKey(ctx context.Context, hsmID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var key []byte
	err := s.db.QueryRowContext(ctx, `SELECT hsm_key FROM atms WHERE hsm_id = ?;`, hsmID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_hsm_key: %w", err)
	}
	return key, nil
}

// DoWithdrawal atomically debits cardID's balance and the issuing ATM's
// remaining bill count by amount, failing closed if either side cannot
// cover the withdrawal.
func (s *Store) DoWithdrawal(ctx context.Context, cardID, hsmID string, amount int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var balance int64
	if err := s.db.QueryRowContext(ctx, `SELECT balance FROM cards WHERE card_id = ?;`, cardID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store: do_withdrawal: read balance: %w", err)
	}

	var hsmBalance int64
	if err := s.db.QueryRowContext(ctx, `SELECT num_bills FROM atms WHERE hsm_id = ?;`, hsmID).Scan(&hsmBalance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store: do_withdrawal: read num_bills: %w", err)
	}

	if amount > balance || amount > hsmBalance {
		return false, nil
	}

	balance -= amount
	hsmBalance -= amount

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: do_withdrawal: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE cards SET balance = ? WHERE card_id = ?;`, balance, cardID)
	if err != nil {
		return false, fmt.Errorf("store: do_withdrawal: write card balance: %w", err)
	}
	if !rowsAffected(res) {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `UPDATE atms SET num_bills = ? WHERE hsm_id = ?;`, hsmBalance, hsmID)
	if err != nil {
		return false, fmt.Errorf("store: do_withdrawal: write hsm balance: %w", err)
	}
	if !rowsAffected(res) {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: do_withdrawal: commit: %w", err)
	}
	return true, nil
}

// VerifyAndConsumeNonce validates nonce against the card's outstanding
// nonce (matching value, unused, unexpired) and, only if verify(pk)
// returns true for the card's registered key, marks the nonce used in
// the same locked span. A bad signature never commits used=1: nonceValid
// reports whether the nonce itself checked out, sigValid reports whether
// verify accepted the card's key, and the nonce is only consumed when
// both are true. This keeps a bad-signature attempt from burning the
// nonce, so a correctly signed retry within the validity window still
// succeeds.
func (s *Store) VerifyAndConsumeNonce(ctx context.Context, cardID string, nonce []byte, verify func(pk []byte) bool) (nonceValid, sigValid bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.nonceDataLocked(ctx, cardID)
	if err != nil {
		return false, false, err
	}
	if data == nil {
		return false, false, nil
	}
	if data.Used {
		return false, false, nil
	}
	if !bytesEqual(data.Nonce, nonce) {
		return false, false, nil
	}
	if !timestampValid(data.Timestamp) {
		return false, false, nil
	}

	pk, err := s.pkLocked(ctx, cardID)
	if err != nil {
		return true, false, err
	}
	if !verify(pk) {
		return true, false, nil
	}

	res, err := s.db.ExecContext(ctx, `UPDATE cards SET used = 1 WHERE card_id = ?;`, cardID)
	if err != nil {
		return true, false, fmt.Errorf("store: verify_and_consume_nonce: %w", err)
	}
	return true, rowsAffected(res), nil
}

// pkLocked returns card_id's currently registered verification key, or nil
// if the card has never had one set. Caller must hold s.mu.
func (s *Store) pkLocked(ctx context.Context, cardID string) ([]byte, error) {
	var pk []byte
	err := s.db.QueryRowContext(ctx, `SELECT pk FROM cards WHERE card_id = ?;`, cardID).Scan(&pk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_pk: %w", err)
	}
	return pk, nil
}

// GetPK returns card_id's currently registered verification key, or nil if
// the card has never had one set.
func (s *Store) GetPK(ctx context.Context, cardID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pkLocked(ctx, cardID)
}

// SetFirstPK writes cardID's verification key only if it is currently
// unset, the write-once guarantee provisioning relies on.
func (s *Store) SetFirstPK(ctx context.Context, cardID string, pk []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cards WHERE card_id = ? AND pk IS NULL LIMIT 1);`, cardID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: set_first_pk: check: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `UPDATE cards SET pk = ? WHERE card_id = ?;`, pk, cardID)
	if err != nil {
		return false, fmt.Errorf("store: set_first_pk: write: %w", err)
	}
	return rowsAffected(res), nil
}

// SetInitialNumBills writes hsmID's starting bill count only if it is
// currently unset.
func (s *Store) SetInitialNumBills(ctx context.Context, hsmID string, numBills int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM atms WHERE hsm_id = ? AND num_bills IS NULL LIMIT 1);`, hsmID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: set_initial_num_bills: check: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `UPDATE atms SET num_bills = ? WHERE hsm_id = ?;`, numBills, hsmID)
	if err != nil {
		return false, fmt.Errorf("store: set_initial_num_bills: write: %w", err)
	}
	return rowsAffected(res), nil
}

// GetBalance returns cardID's balance. ok is false if the card does not
// exist.
func (s *Store) GetBalance(ctx context.Context, cardID string) (balance int64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.QueryRowContext(ctx, `SELECT balance FROM cards WHERE card_id = ?;`, cardID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get_balance: %w", err)
	}
	return balance, true, nil
}

// AdminCreateAccount registers a new card under accountName with an
// opening balance.
func (s *Store) AdminCreateAccount(ctx context.Context, accountName, cardID string, amount int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cards(account_name, card_id, balance) VALUES (?, ?, ?);`,
		accountName, cardID, amount,
	)
	if err != nil {
		return false, nil // a constraint violation (duplicate card_id) is a normal "no" here
	}
	return true, nil
}

// AdminCreateATM registers a new HSM identified by hsmID with shared
// secret hsmKey.
func (s *Store) AdminCreateATM(ctx context.Context, hsmID string, hsmKey []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO atms(hsm_id, hsm_key) VALUES (?, ?);`, hsmID, hsmKey)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// AdminGetBalance looks up a card's balance by account name rather than
// card ID, for operator-facing tooling.
func (s *Store) AdminGetBalance(ctx context.Context, accountName string) (balance int64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.QueryRowContext(ctx, `SELECT balance FROM cards WHERE account_name = ?;`, accountName).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: admin_get_balance: %w", err)
	}
	return balance, true, nil
}

// AdminSetBalance overwrites an account's balance directly, bypassing the
// withdrawal invariants (an operator correction tool, not a customer flow).
func (s *Store) AdminSetBalance(ctx context.Context, accountName string, balance int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cards WHERE account_name = ? LIMIT 1);`, accountName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: admin_set_balance: check: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `UPDATE cards SET balance = ? WHERE account_name = ?;`, balance, accountName)
	if err != nil {
		return false, fmt.Errorf("store: admin_set_balance: write: %w", err)
	}
	return rowsAffected(res), nil
}

func rowsAffected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
