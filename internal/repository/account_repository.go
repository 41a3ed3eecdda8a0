package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/iliyamo/habit-tracker/internal/kv"
	"github.com/iliyamo/habit-tracker/internal/model"
	"github.com/iliyamo/habit-tracker/internal/utils"
)

// MinPasswordLen is the shortest password Register accepts.
const MinPasswordLen = 6

func accountByEmailKey(email string) kv.Key { return kv.Key{"users", email} }
func accountByIDKey(id string) kv.Key      { return kv.Key{"users_by_id", id} }

// AccountRepo stores accounts twice, by email and by id, and keeps both
// copies in step.
type AccountRepo struct {
	store  kv.Store
	hasher *utils.PasswordHasher
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAccountRepo(store kv.Store, hasher *utils.PasswordHasher) *AccountRepo {
	return &AccountRepo{store: store, hasher: hasher, now: time.Now}
}

// Register creates an account and returns its id.  The email is taken as
// given; two emails differing only in case are different accounts.
func (r *AccountRepo) Register(ctx context.Context, email, password string) (string, error) {
	if email == "" || len(password) < MinPasswordLen {
		return "", fmt.Errorf("%w: email or password invalid (password min. %d characters)", ErrInvalidInput, MinPasswordLen)
	}
	byEmail := accountByEmailKey(email)
	if !byEmail.Valid() {
		return "", fmt.Errorf("%w: email contains invalid characters", ErrInvalidInput)
	}

	// hashed outside the transaction since the body may run more than once
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	acc := model.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    r.now().UTC(),
	}
	rec, err := encodeRecord(recordAccount, acc)
	if err != nil {
		return "", err
	}

	err = r.store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		_, err := tx.Get(ctx, byEmail)
		switch {
		case err == nil:
			return ErrConflict
		case !errors.Is(err, kv.ErrNotFound):
			return err
		}
		tx.Set(byEmail, rec)
		tx.Set(accountByIDKey(acc.ID), rec)
		return nil
	})
	if err != nil {
		return "", err
	}
	return acc.ID, nil
}

// FindByEmail returns the account bound to email or ErrNotFound.
func (r *AccountRepo) FindByEmail(ctx context.Context, email string) (model.Account, error) {
	key := accountByEmailKey(email)
	if !key.Valid() {
		return model.Account{}, ErrNotFound
	}
	return r.find(ctx, key)
}

// FindByID returns the account with the given id or ErrNotFound.
func (r *AccountRepo) FindByID(ctx context.Context, id string) (model.Account, error) {
	key := accountByIDKey(id)
	if !key.Valid() {
		return model.Account{}, ErrNotFound
	}
	return r.find(ctx, key)
}

// Authenticate checks a login attempt.  Unknown email and wrong password
// both yield ErrUnauthorized, and both pay for one bcrypt comparison.
func (r *AccountRepo) Authenticate(ctx context.Context, email, password string) (model.Account, error) {
	acc, err := r.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		r.hasher.Verify(r.timingHash(), password)
		return model.Account{}, ErrUnauthorized
	}
	if err != nil {
		return model.Account{}, err
	}
	if !r.hasher.Verify(acc.PasswordHash, password) {
		return model.Account{}, ErrUnauthorized
	}
	return acc, nil
}

func (r *AccountRepo) find(ctx context.Context, key kv.Key) (model.Account, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, err
	}
	return decodeAccount(key, raw)
}

// timingHash is a throwaway digest compared against when the email is
// unknown.
func (r *AccountRepo) timingHash() string {
	r.dummyOnce.Do(func() {
		h, err := r.hasher.Hash(uuid.NewString())
		if err != nil {
			slog.Warn("timing hash unavailable", "error", err)
			return
		}
		r.dummyHash = h
	})
	return r.dummyHash
}
