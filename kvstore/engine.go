// Package kvstore implements an embeddable, persistent, log-structured
// key-value store: two append-only files on disk, an in-memory index
// rebuilt on open, crash recovery that truncates to the last intact
// entry, and caller-triggered compaction ("reclaim").
package kvstore

import (
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// Options configures Open. The zero value is usable: a disabled logger
// and the advisory lock enabled.
type Options struct {
	// Logger receives structural lifecycle events (recovery, reclaim,
	// dirty-open detection). Nil defaults to a disabled logger.
	Logger *zerolog.Logger
	// DisableFlock skips acquiring the best-effort advisory file lock.
	// The open-marker protocol runs regardless.
	DisableFlock bool
}

func (o Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return zerolog.Nop()
}

// Engine is an open handle to a store directory. All public methods
// serialize through mu, matching the single-writer model in §5 — no
// operation yields the lock mid-I/O.
type Engine struct {
	mu      sync.Mutex
	dir     string
	opt     Options
	files   *logFiles
	idx     *index
	flock   *flock.Flock
	closed  bool
}

// nowMillis is the wall-clock source used for entry timestamps and
// expiration comparisons, matching §6's "integer milliseconds" contract.
var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

// Open creates the directory if missing, runs recovery if the previous
// session left a dirty open-marker, replays the key-log to rebuild the
// index, and marks the session dirty until Close.
func Open(dir string, opt Options) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errFile(err, dir, "create store directory")
	}

	var fl *flock.Flock
	if !opt.DisableFlock {
		fl = flock.New(openMarkerPath(dir) + ".lock")
		locked, err := fl.TryLock()
		if err != nil {
			return nil, errFile(err, dir, "acquire advisory lock")
		}
		if !locked {
			return nil, errIOMsg(dir, "acquire advisory lock", "store directory already locked by another handle")
		}
	}

	dirty, err := markerExists(dir)
	if err != nil {
		if fl != nil {
			fl.Unlock()
		}
		return nil, err
	}
	if dirty {
		opt.logger().Warn().Str("dir", dir).Msg("dirty open-marker found, running recovery")
		if err := runRecovery(dir, opt.logger()); err != nil {
			if fl != nil {
				fl.Unlock()
			}
			return nil, err
		}
	}

	files, err := openLogFiles(dir)
	if err != nil {
		if fl != nil {
			fl.Unlock()
		}
		return nil, err
	}

	idx, err := replayIndex(dir)
	if err != nil {
		files.close()
		if fl != nil {
			fl.Unlock()
		}
		return nil, err
	}

	if _, err := files.seekToEnd(); err != nil {
		files.close()
		if fl != nil {
			fl.Unlock()
		}
		return nil, err
	}

	if err := createMarker(dir); err != nil {
		files.close()
		if fl != nil {
			fl.Unlock()
		}
		return nil, err
	}

	return &Engine{
		dir:   dir,
		opt:   opt,
		files: files,
		idx:   idx,
		flock: fl,
	}, nil
}

// Get looks up key, returning the decoded value and true if present and
// not expired.
func (e *Engine) Get(key interface{}) (interface{}, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ck, err := canonicalKey(key)
	if err != nil {
		return nil, false, err
	}
	ptr, ok := e.idx.get(ck)
	if !ok || ptr.isExpired(nowMillis()) {
		return nil, false, nil
	}
	payload, err := e.files.readPayload(ptr.Offset, ptr.Size)
	if err != nil {
		return nil, false, err
	}
	val, err := decodeValue(payload, ptr.Encoding)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set inserts or overwrites key with value, never expiring.
func (e *Engine) Set(key, value interface{}) error {
	return e.set(key, value, nil)
}

// SetWithExpiration is Set with an absolute expiration timestamp in the
// same unit as the engine's internal clock (integer milliseconds).
func (e *Engine) SetWithExpiration(key, value interface{}, expiration int64) error {
	return e.set(key, value, &expiration)
}

func (e *Engine) set(key, value interface{}, expiration *int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ck, err := canonicalKey(key)
	if err != nil {
		return err
	}

	offset, err := e.files.seekToEnd()
	if err != nil {
		return err
	}

	payload, enc, err := encodeValue(value)
	if err != nil {
		return err
	}

	ent := &indexEntry{
		Type:       entryTypeSet,
		Timestamp:  nowMillis(),
		Key:        key,
		Encoding:   enc,
		Offset:     offset,
		Size:       int64(len(payload)),
		Expiration: expiration,
	}
	ent.Checksum, err = checksumSet(ent, payload)
	if err != nil {
		return err
	}

	line, err := ent.marshalLine()
	if err != nil {
		return errCodec(err, "marshal entry")
	}
	if err := e.files.appendEntryLine(line); err != nil {
		return err
	}
	if err := e.files.appendPayload(payload); err != nil {
		return err
	}

	e.idx.set(ck, &valuePointer{
		Timestamp:  ent.Timestamp,
		Expiration: expiration,
		Offset:     offset,
		Size:       ent.Size,
		Encoding:   enc,
	})
	return nil
}

// Del removes key. A no-op (no log entry, no index change) if key is
// already absent or expired, keeping the log free of tombstones for
// already-absent keys.
func (e *Engine) Del(key interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ck, err := canonicalKey(key)
	if err != nil {
		return err
	}
	ptr, ok := e.idx.get(ck)
	if !ok || ptr.isExpired(nowMillis()) {
		return nil
	}

	if _, err := e.files.seekToEnd(); err != nil {
		return err
	}

	ent := &indexEntry{
		Type:      entryTypeDel,
		Timestamp: nowMillis(),
		Key:       key,
	}
	ent.Checksum, err = checksumDel(ent)
	if err != nil {
		return err
	}
	line, err := ent.marshalLine()
	if err != nil {
		return errCodec(err, "marshal entry")
	}
	if err := e.files.appendEntryLine(line); err != nil {
		return err
	}

	e.idx.delete(ck)
	return nil
}

// Contains reports whether key is present and not expired, without
// reading its payload.
func (e *Engine) Contains(key interface{}) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ck, err := canonicalKey(key)
	if err != nil {
		return false, err
	}
	ptr, ok := e.idx.get(ck)
	if !ok {
		return false, nil
	}
	return !ptr.isExpired(nowMillis()), nil
}

// Reclaim rewrites both logs to contain only live, non-expired entries
// and atomically swaps them into place. See §4.7.
func (e *Engine) Reclaim() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reclaim()
}

// Reopen closes and reopens the store, rerunning open-marker and replay
// logic. Mirrors the teacher's and the Python original's behavior of
// treating reopen as close-then-open.
func (e *Engine) Reopen() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dir, opt := e.dir, e.opt
	if err := e.closeLocked(); err != nil {
		return err
	}

	reopened, err := Open(dir, opt)
	if err != nil {
		return err
	}
	e.files = reopened.files
	e.idx = reopened.idx
	e.flock = reopened.flock
	e.closed = reopened.closed
	return nil
}

// Close flushes, closes both files, removes the open-marker and clears
// the in-memory index.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *Engine) closeLocked() error {
	if e.closed {
		return nil
	}
	if err := e.files.sync(); err != nil {
		return err
	}
	if err := removeMarker(e.dir); err != nil {
		return err
	}
	if err := e.files.close(); err != nil {
		return err
	}
	if e.flock != nil {
		e.flock.Unlock()
	}
	e.idx.clear()
	e.closed = true
	return nil
}
