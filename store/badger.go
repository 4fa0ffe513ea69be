package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/slogger"
)

// Key prefixes. The status index is a secondary index maintained in the same
// transaction as the execution record, so the reconciliation finder can
// query by status with a prefix scan instead of reading every execution.
const (
	prefixExecution   = "exec/"
	prefixStatusIndex = "execstatus/"
	prefixGroup       = "group/"
	prefixLCStatus    = "lcstatus/"
	prefixCallback    = "cb/"
)

// BadgerOptions configures a Badger store.
type BadgerOptions struct {
	// Path is the directory for database files. Ignored when InMemory is
	// true.
	Path string

	// InMemory enables in-memory mode with no disk persistence, for tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	Logger slogger.Logger
}

// Badger is the durable state store backed by an embedded BadgerDB.
// Execution updates are conditional on the record revision.
type Badger struct {
	db     *badger.DB
	logger slogger.Logger
}

// OpenBadger opens the database and returns the store. The caller must call
// Close when done.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, fmt.Errorf("store path is required for a persistent database")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Path).WithSyncWrites(opts.SyncWrites)
	}
	badgerOpts = badgerOpts.WithLogger(&badgerLogger{logger: opts.Logger})

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	return &Badger{db: db, logger: opts.Logger}, nil
}

// Close closes the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger adapts slogger.Logger to BadgerDB's logger interface.
type badgerLogger struct {
	logger slogger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func executionKey(id string) []byte {
	return []byte(prefixExecution + id)
}

func statusIndexKey(status ripcord.ExecutionStatus, id string) []byte {
	return []byte(prefixStatusIndex + string(status) + "/" + id)
}

func getJSON[T any](txn *badger.Txn, key []byte, out *T) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return txn.Set(key, data)
}

// CreateExecution stores a new execution record and its status index entry.
func (b *Badger) CreateExecution(ctx context.Context, execution *ripcord.Execution) error {
	execution.Revision = 1
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(executionKey(execution.ID)); err == nil {
			return fmt.Errorf("execution %q already exists", execution.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, executionKey(execution.ID), execution); err != nil {
			return err
		}
		return txn.Set(statusIndexKey(execution.Status, execution.ID), nil)
	})
}

// GetExecution loads one execution record.
func (b *Badger) GetExecution(ctx context.Context, id string) (*ripcord.Execution, error) {
	var execution ripcord.Execution
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, executionKey(id), &execution)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ripcord.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// UpdateExecution applies a revision-conditional write and keeps the status
// index entry in step, all in one transaction. Updates against a terminal
// stored record are idempotent no-ops.
func (b *Badger) UpdateExecution(ctx context.Context, execution *ripcord.Execution) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var stored ripcord.Execution
		if err := getJSON(txn, executionKey(execution.ID), &stored); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ripcord.ErrExecutionNotFound
			}
			return err
		}
		if stored.Status.Terminal() {
			return nil
		}
		if stored.Revision != execution.Revision {
			return ripcord.ErrRevisionConflict
		}
		execution.Revision++
		if err := setJSON(txn, executionKey(execution.ID), execution); err != nil {
			return err
		}
		if stored.Status != execution.Status {
			if err := txn.Delete(statusIndexKey(stored.Status, execution.ID)); err != nil {
				return err
			}
			return txn.Set(statusIndexKey(execution.Status, execution.ID), nil)
		}
		return nil
	})
}

// ListExecutions scans execution records matching the filter.
func (b *Badger) ListExecutions(ctx context.Context, filter ripcord.ExecutionFilter) ([]*ripcord.Execution, error) {
	var out []*ripcord.Execution
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixExecution)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var execution ripcord.Execution
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &execution)
			})
			if err != nil {
				return err
			}
			if filter.Status != nil && execution.Status != *filter.Status {
				continue
			}
			if filter.PlanID != nil && execution.PlanID != *filter.PlanID {
				continue
			}
			out = append(out, &execution)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListExecutionIDsByStatus reads the status secondary index with key-only
// prefix scans.
func (b *Badger) ListExecutionIDsByStatus(ctx context.Context, statuses ...ripcord.ExecutionStatus) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for _, status := range statuses {
			prefix := []byte(prefixStatusIndex + string(status) + "/")
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				key := string(it.Item().Key())
				ids = append(ids, strings.TrimPrefix(key, string(prefix)))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// GetGroup loads one protection group.
func (b *Badger) GetGroup(ctx context.Context, id string) (*ripcord.ProtectionGroup, error) {
	var group ripcord.ProtectionGroup
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixGroup+id), &group)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ripcord.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// PutGroup stores a protection group.
func (b *Badger) PutGroup(ctx context.Context, group *ripcord.ProtectionGroup) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte(prefixGroup+group.ID), group)
	})
}

// ListGroups scans all protection groups.
func (b *Badger) ListGroups(ctx context.Context) ([]*ripcord.ProtectionGroup, error) {
	var out []*ripcord.ProtectionGroup
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixGroup)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var group ripcord.ProtectionGroup
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &group)
			})
			if err != nil {
				return err
			}
			out = append(out, &group)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLaunchConfigStatus loads the status for a group, or nil when none is
// recorded.
func (b *Badger) GetLaunchConfigStatus(ctx context.Context, groupID string) (*ripcord.LaunchConfigStatus, error) {
	var status ripcord.LaunchConfigStatus
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixLCStatus+groupID), &status)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// PutLaunchConfigStatus stores the status for a group.
func (b *Badger) PutLaunchConfigStatus(ctx context.Context, status *ripcord.LaunchConfigStatus) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte(prefixLCStatus+status.GroupID), status)
	})
}

// PutCallback stores a callback token record.
func (b *Badger) PutCallback(ctx context.Context, callback *ripcord.Callback) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte(prefixCallback+callback.Token), callback)
	})
}

// GetCallback resolves a callback token.
func (b *Badger) GetCallback(ctx context.Context, token string) (*ripcord.Callback, error) {
	var callback ripcord.Callback
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixCallback+token), &callback)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ripcord.ErrCallbackNotFound
	}
	if err != nil {
		return nil, err
	}
	return &callback, nil
}

// DeleteCallback removes a callback token record.
func (b *Badger) DeleteCallback(ctx context.Context, token string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(prefixCallback + token))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
