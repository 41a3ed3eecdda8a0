package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/iliyamo/habit-tracker/internal/kv"
	"github.com/iliyamo/habit-tracker/internal/model"
)

// recordType tags every stored value so a read can tell what it decoded.
type recordType string

const (
	recordAccount recordType = "account"
	recordHabit   recordType = "habit"
	recordEntry   recordType = "entry"
)

// envelope is the on-disk shape of every record.
type envelope struct {
	Type recordType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// habitRecord is a habit as stored; entries live under their own keys.
type habitRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Kind      model.HabitKind `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (r habitRecord) habit() model.Habit {
	return model.Habit{ID: r.ID, OwnerID: r.UserID, Name: r.Name, Kind: r.Kind, CreatedAt: r.CreatedAt}
}

func toHabitRecord(h model.Habit) habitRecord {
	return habitRecord{ID: h.ID, UserID: h.OwnerID, Name: h.Name, Kind: h.Kind, CreatedAt: h.CreatedAt}
}

var errRecordType = errors.New("unexpected record type")

func encodeRecord(t recordType, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, oops.Code("RECORD_ENCODE_FAILED").With("type", string(t)).Wrap(err)
	}
	return json.Marshal(envelope{Type: t, Data: data})
}

func decodeEnvelope(key kv.Key, raw []byte, want recordType) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, corrupt(key, err)
	}
	if env.Type != want {
		return nil, corrupt(key, fmt.Errorf("%w: got %q, want %q", errRecordType, env.Type, want))
	}
	return env.Data, nil
}

func decodeAccount(key kv.Key, raw []byte) (model.Account, error) {
	data, err := decodeEnvelope(key, raw, recordAccount)
	if err != nil {
		return model.Account{}, err
	}
	var a model.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return model.Account{}, corrupt(key, err)
	}
	if err := a.Validate(); err != nil {
		return model.Account{}, corrupt(key, err)
	}
	return a, nil
}

func decodeHabit(key kv.Key, raw []byte) (model.Habit, error) {
	data, err := decodeEnvelope(key, raw, recordHabit)
	if err != nil {
		return model.Habit{}, err
	}
	var rec habitRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.Habit{}, corrupt(key, err)
	}
	h := rec.habit()
	if err := h.Validate(); err != nil {
		return model.Habit{}, corrupt(key, err)
	}
	return h, nil
}

func decodeEntry(key kv.Key, raw []byte) (model.Entry, error) {
	data, err := decodeEnvelope(key, raw, recordEntry)
	if err != nil {
		return model.Entry{}, err
	}
	var e model.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return model.Entry{}, corrupt(key, err)
	}
	if err := e.Validate(); err != nil {
		return model.Entry{}, corrupt(key, err)
	}
	return e, nil
}

func corrupt(key kv.Key, err error) error {
	return oops.Code("RECORD_CORRUPT").With("key", key.String()).Wrap(err)
}
