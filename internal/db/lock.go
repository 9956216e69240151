package db

import (
	"context"
	"fmt"
	"hash/fnv"
)

// ddlLockName keys the postgres advisory lock shared by every pipeline
// instance that touches the canonical schema.
const ddlLockName = "transitpipe:ddl"

// LockKey hashes a lock name into an advisory lock key.
func LockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// WithDDLLock runs fn while holding the schema DDL lock.
//
// On postgres this is a session advisory lock on a pinned connection, so two
// processes creating tables or applying migrations never interleave. On
// sqlite the in-process mutex covers this process; across processes callers
// must check and change the schema inside one transaction, which takes the
// database write lock at BEGIN.
func (db *DB) WithDDLLock(ctx context.Context, fn func(ctx context.Context) error) error {
	db.ddlMu.Lock()
	defer db.ddlMu.Unlock()

	if db.dialect != Postgres {
		return fn(ctx)
	}

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to pin connection for ddl lock: %w", err)
	}
	defer conn.Close()

	key := LockKey(ddlLockName + ":" + db.schema)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("failed to acquire ddl lock: %w", err)
	}
	defer func() {
		// ctx may already be cancelled; the unlock must still go out.
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", key); err != nil {
			db.log.Error("failed to release ddl lock", "error", err)
		}
	}()

	return fn(ctx)
}
