// Package distlock guards campaign start across server processes: whichever
// process claims the lock launches the executor, every other starter backs
// off. Redis is the preferred backend; PostgreSQL advisory locks cover
// deployments that run without Redis.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is one named cross-process claim. A Lock value is single-use and
// belongs to the goroutine that created it: TryAcquire once, Release once.
type Lock interface {
	// TryAcquire claims the lock without blocking. false means another
	// process holds it.
	TryAcquire(ctx context.Context) (bool, error)
	// Extend re-arms the expiry on backends that expire. Holders call it
	// before slow work (a browser boot, a large contact link) so the claim
	// cannot lapse mid-launch.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release drops the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// New picks the backend: Redis when a client is configured, advisory locks
// on the primary database otherwise.
func New(rdb *redis.Client, db *sql.DB, name string, ttl time.Duration) Lock {
	if rdb != nil {
		return newRedisLock(rdb, name, ttl)
	}
	return newAdvisoryLock(db, name)
}

// advisoryClass namespaces this service's advisory locks away from anything
// else sharing the database ("mors" in ASCII).
const advisoryClass int32 = 0x6d6f7273

// advisoryLock rides pg_try_advisory_lock. Advisory locks are session
// scoped, so the lock pins the connection it was taken on and holds it
// until Release; the server dropping that session stands in for TTL expiry.
type advisoryLock struct {
	db    *sql.DB
	conn  *sql.Conn
	objID int32
}

func newAdvisoryLock(db *sql.DB, name string) *advisoryLock {
	h := fnv.New32a()
	h.Write([]byte(name))
	return &advisoryLock{db: db, objID: int32(h.Sum32())}
}

func (l *advisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var got bool
	err = conn.QueryRowContext(ctx,
		"SELECT pg_try_advisory_lock($1, $2)", advisoryClass, l.objID).Scan(&got)
	if err != nil || !got {
		conn.Close()
		return false, err
	}
	l.conn = conn
	return true, nil
}

// Extend is a no-op: a held session-scoped lock never expires.
func (l *advisoryLock) Extend(context.Context, time.Duration) error { return nil }

func (l *advisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx,
		"SELECT pg_advisory_unlock($1, $2)", advisoryClass, l.objID)
	cerr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return cerr
}
