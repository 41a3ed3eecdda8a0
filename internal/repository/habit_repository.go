package repository

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/iliyamo/habit-tracker/internal/kv"
	"github.com/iliyamo/habit-tracker/internal/model"
)

func habitKey(ownerID, habitID string) kv.Key { return kv.Key{"habits", ownerID, habitID} }
func habitsPrefix(ownerID string) kv.Key      { return kv.Key{"habits", ownerID} }
func entriesPrefix(habitID string) kv.Key     { return kv.Key{"entries", habitID} }
func entryKey(habitID, date string) kv.Key    { return kv.Key{"entries", habitID, date} }

// HabitRepo stores habits under habits:<owner>:<habit> and their entries
// under entries:<habit>:<date>.  Every operation is scoped to the owner;
// another account's habit behaves exactly like a missing one.
type HabitRepo struct {
	store  kv.Store
	policy *bluemonday.Policy
	now    func() time.Time
}

func NewHabitRepo(store kv.Store) *HabitRepo {
	return &HabitRepo{store: store, policy: bluemonday.StrictPolicy(), now: time.Now}
}

// Create stores a new habit.  An empty kind means positive.
func (r *HabitRepo) Create(ctx context.Context, ownerID, name, kind string) (model.Habit, error) {
	name, err := r.cleanName(name)
	if err != nil {
		return model.Habit{}, err
	}
	k, ok := model.ParseHabitKind(kind)
	if !ok {
		return model.Habit{}, fmt.Errorf("%w: type must be positive or negative", ErrInvalidInput)
	}
	h := model.Habit{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Kind:      k,
		CreatedAt: r.now().UTC(),
		Entries:   []model.Entry{},
	}
	key := habitKey(ownerID, h.ID)
	if !key.Valid() {
		return model.Habit{}, fmt.Errorf("%w: invalid owner", ErrInvalidInput)
	}
	rec, err := encodeRecord(recordHabit, toHabitRecord(h))
	if err != nil {
		return model.Habit{}, err
	}
	err = r.store.Update(ctx, func(_ context.Context, tx kv.Tx) error {
		tx.Set(key, rec)
		return nil
	})
	if err != nil {
		return model.Habit{}, err
	}
	return h, nil
}

// List returns the owner's habits, oldest first, each with its full entry
// history.  Records that fail to decode are logged and skipped.
func (r *HabitRepo) List(ctx context.Context, ownerID string) ([]model.Habit, error) {
	habits := []model.Habit{}
	prefix := habitsPrefix(ownerID)
	if !prefix.Valid() {
		return habits, nil
	}
	items, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		h, err := decodeHabit(it.Key, it.Value)
		if err == nil && (h.OwnerID != ownerID || h.ID != it.Key.Last()) {
			err = corrupt(it.Key, errors.New("habit record does not match its key"))
		}
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable habit record", "key", it.Key.String(), "error", err)
			continue
		}
		if h.Entries, err = r.entries(ctx, h.ID); err != nil {
			return nil, err
		}
		habits = append(habits, h)
	}
	sort.SliceStable(habits, func(i, j int) bool {
		if !habits[i].CreatedAt.Equal(habits[j].CreatedAt) {
			return habits[i].CreatedAt.Before(habits[j].CreatedAt)
		}
		return habits[i].ID < habits[j].ID
	})
	return habits, nil
}

// Get returns one of the owner's habits with its entries.
func (r *HabitRepo) Get(ctx context.Context, ownerID, habitID string) (model.Habit, error) {
	key, err := ownedHabitKey(ownerID, habitID)
	if err != nil {
		return model.Habit{}, err
	}
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return model.Habit{}, ErrNotFound
	}
	if err != nil {
		return model.Habit{}, err
	}
	h, err := decodeHabit(key, raw)
	if err != nil {
		return model.Habit{}, err
	}
	if h.Entries, err = r.entries(ctx, h.ID); err != nil {
		return model.Habit{}, err
	}
	return h, nil
}

// Rename changes a habit's name, the only mutable habit field.
func (r *HabitRepo) Rename(ctx context.Context, ownerID, habitID, name string) (model.Habit, error) {
	name, err := r.cleanName(name)
	if err != nil {
		return model.Habit{}, err
	}
	key, err := ownedHabitKey(ownerID, habitID)
	if err != nil {
		return model.Habit{}, err
	}

	var h model.Habit
	err = r.store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		cur, err := txHabit(ctx, tx, key)
		if err != nil {
			return err
		}
		cur.Name = name
		rec, err := encodeRecord(recordHabit, toHabitRecord(cur))
		if err != nil {
			return err
		}
		tx.Set(key, rec)
		h = cur
		return nil
	})
	if err != nil {
		return model.Habit{}, err
	}
	if h.Entries, err = r.entries(ctx, h.ID); err != nil {
		return model.Habit{}, err
	}
	return h, nil
}

// Delete removes a habit and every entry under it in one transaction.  The
// entry scan is part of the transaction, so an entry written concurrently
// either is deleted too or aborts and re-runs the delete.
func (r *HabitRepo) Delete(ctx context.Context, ownerID, habitID string) error {
	key, err := ownedHabitKey(ownerID, habitID)
	if err != nil {
		return err
	}
	return r.store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		if _, err := tx.Get(ctx, key); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		entries, err := tx.List(ctx, entriesPrefix(habitID))
		if err != nil {
			return err
		}
		tx.Delete(key)
		for _, e := range entries {
			tx.Delete(e.Key)
		}
		return nil
	})
}

// Track records the outcome of one day, replacing any earlier outcome for
// the same date.  The habit read inside the transaction makes a concurrent
// delete abort the write rather than leave an orphan entry.
func (r *HabitRepo) Track(ctx context.Context, ownerID, habitID, date, status string) (model.Entry, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return model.Entry{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	st, ok := model.ParseEntryStatus(status)
	if !ok {
		return model.Entry{}, fmt.Errorf("%w: status must be done or failed", ErrInvalidInput)
	}
	key, err := ownedHabitKey(ownerID, habitID)
	if err != nil {
		return model.Entry{}, err
	}

	e := model.Entry{HabitID: habitID, Date: day.Format(model.DateLayout), Status: st}
	rec, err := encodeRecord(recordEntry, e)
	if err != nil {
		return model.Entry{}, err
	}
	err = r.store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		if _, err := txHabit(ctx, tx, key); err != nil {
			return err
		}
		tx.Set(entryKey(habitID, e.Date), rec)
		return nil
	})
	if err != nil {
		return model.Entry{}, err
	}
	return e, nil
}

// entries loads a habit's entries in date order.  Key order is date order
// because dates are zero padded.
func (r *HabitRepo) entries(ctx context.Context, habitID string) ([]model.Entry, error) {
	items, err := r.store.List(ctx, entriesPrefix(habitID))
	if err != nil {
		return nil, err
	}
	out := make([]model.Entry, 0, len(items))
	for _, it := range items {
		e, err := decodeEntry(it.Key, it.Value)
		if err == nil && (e.HabitID != habitID || e.Date != it.Key.Last()) {
			err = corrupt(it.Key, errors.New("entry record does not match its key"))
		}
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable entry record", "key", it.Key.String(), "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// cleanName trims a habit name and rejects it when it is empty or carries
// markup. The stored name is always the caller's text.
func (r *HabitRepo) cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if html.UnescapeString(r.policy.Sanitize(name)) != name {
		return "", fmt.Errorf("%w: name must not contain markup", ErrInvalidInput)
	}
	return name, nil
}

func txHabit(ctx context.Context, tx kv.Tx, key kv.Key) (model.Habit, error) {
	raw, err := tx.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return model.Habit{}, ErrNotFound
	}
	if err != nil {
		return model.Habit{}, err
	}
	return decodeHabit(key, raw)
}

// ownedHabitKey builds the habit key, treating ids that could never have
// been issued as missing.
func ownedHabitKey(ownerID, habitID string) (kv.Key, error) {
	if _, err := uuid.Parse(habitID); err != nil {
		return nil, ErrNotFound
	}
	key := habitKey(ownerID, habitID)
	if !key.Valid() {
		return nil, ErrNotFound
	}
	return key, nil
}
