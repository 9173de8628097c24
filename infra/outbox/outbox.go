// Package outbox is a durable queue of execution reports waiting to be
// published.
//
// Each record moves NEW -> SENT -> ACKED, or to FAILED once the publisher
// gives up on it. Keys are exec/<seq>, zero padded so that key order is
// append order.
package outbox

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrNotFound   = errors.New("outbox record not found")
	ErrTransition = errors.New("invalid outbox state transition")
)

// -------------------- Record --------------------

type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64 // unix nanos, 0 before the first attempt
	Payload     []byte
}

const headerLen = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

// decodeRecord copies b; pebble owns the slice it hands out.
func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.Newf("outbox record %d: %d bytes", seq, len(b))
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[headerLen:]...),
	}, nil
}

// -------------------- Outbox --------------------

type Outbox struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	now       func() time.Time

	mu  sync.Mutex
	seq uint64 // last assigned
}

type Option func(*config)

type config struct {
	fs   vfs.FS
	sync bool
	now  func() time.Time
}

// WithFS runs the store on fs, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option { return func(c *config) { c.fs = fs } }

// WithSync controls fsync on every write. On by default.
func WithSync(on bool) Option { return func(c *config) { c.sync = on } }

func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// Open opens or creates the store in dir and resumes the sequence after
// the highest key present.
func Open(dir string, opts ...Option) (*Outbox, error) {
	cfg := config{sync: true, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	po := &pebble.Options{}
	if cfg.fs != nil {
		po.FS = cfg.fs
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}

	o := &Outbox{db: db, writeOpts: pebble.NoSync, now: cfg.now}
	if cfg.sync {
		o.writeOpts = pebble.Sync
	}
	if o.seq, err = o.lastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// LastSequence is the sequence of the newest record ever appended.
func (o *Outbox) LastSequence() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seq
}

// -------------------- API --------------------

// Append stores payload as a NEW record and returns its sequence.
func (o *Outbox) Append(payload []byte) (uint64, error) {
	first, err := o.AppendBatch([][]byte{payload})
	return first, err
}

// AppendBatch stores payloads atomically with consecutive sequences and
// returns the first one.
func (o *Outbox) AppendBatch(payloads [][]byte) (uint64, error) {
	if len(payloads) == 0 {
		return 0, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	b := o.db.NewBatch()
	defer b.Close()

	first := o.seq + 1
	for i, p := range payloads {
		seq := first + uint64(i)
		if err := b.Set(keyFor(seq), encodeRecord(Record{State: StateNew, Payload: p}), nil); err != nil {
			return 0, errors.Wrapf(err, "batch set %d", seq)
		}
	}
	if err := b.Commit(o.writeOpts); err != nil {
		return 0, errors.Wrap(err, "commit outbox batch")
	}
	o.seq = first + uint64(len(payloads)) - 1
	return first, nil
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, errors.Wrapf(ErrNotFound, "seq %d", seq)
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "get %d", seq)
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// MarkSent records a publish attempt.
func (o *Outbox) MarkSent(seq uint64) error {
	return o.transition(seq, StateSent, func(r *Record) bool {
		return r.State == StateNew || r.State == StateSent
	})
}

// MarkAcked records broker acknowledgement.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.transition(seq, StateAcked, func(r *Record) bool {
		return r.State == StateNew || r.State == StateSent || r.State == StateAcked
	})
}

// MarkRetry puts a record whose publish failed back to NEW with one more
// retry counted, and returns the new count.
func (o *Outbox) MarkRetry(seq uint64) (uint32, error) {
	var retries uint32
	err := o.transition(seq, StateNew, func(r *Record) bool {
		if r.State != StateNew && r.State != StateSent {
			return false
		}
		r.Retries++
		retries = r.Retries
		return true
	})
	return retries, err
}

// MarkFailed parks a record that will not be retried.
func (o *Outbox) MarkFailed(seq uint64) error {
	return o.transition(seq, StateFailed, func(r *Record) bool {
		return r.State != StateAcked
	})
}

func (o *Outbox) transition(seq uint64, to State, allowed func(*Record) bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	from := rec.State
	if !allowed(&rec) {
		return errors.Wrapf(ErrTransition, "seq %d: %s -> %s", seq, from, to)
	}
	rec.State = to
	rec.LastAttempt = o.now().UnixNano()
	if err := o.db.Set(keyFor(seq), encodeRecord(rec), o.writeOpts); err != nil {
		return errors.Wrapf(err, "set %d", seq)
	}
	return nil
}

// -------------------- Scan --------------------

// ScanByState calls fn for every record in state, in sequence order. The
// record may be kept by fn.
func (o *Outbox) ScanByState(state State, fn func(Record) error) error {
	return o.scan(func(rec Record) error {
		if rec.State != state {
			return nil
		}
		return fn(rec)
	})
}

// Pending counts records that still have to reach the broker.
func (o *Outbox) Pending() (int, error) {
	n := 0
	err := o.scan(func(rec Record) error {
		if rec.State == StateNew || rec.State == StateSent {
			n++
		}
		return nil
	})
	return n, err
}

// DeleteAcked removes acknowledged records and returns how many went.
func (o *Outbox) DeleteAcked() (int, error) {
	b := o.db.NewBatch()
	defer b.Close()

	n := 0
	err := o.ScanByState(StateAcked, func(rec Record) error {
		n++
		return b.Delete(keyFor(rec.Seq), nil)
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := b.Commit(o.writeOpts); err != nil {
		return 0, errors.Wrap(err, "commit delete")
	}
	return n, nil
}

func (o *Outbox) scan(fn func(Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return errors.Wrap(err, "new iter")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (o *Outbox) lastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return 0, errors.Wrap(err, "new iter")
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// -------------------- Helpers --------------------

const (
	keyPrefix = "exec/"
	keyUpper  = "exec/~"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	if len(b) <= len(keyPrefix) {
		return 0, errors.Newf("bad outbox key %q", b)
	}
	seq, err := strconv.ParseUint(string(b[len(keyPrefix):]), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad outbox key %q", b)
	}
	return seq, nil
}
