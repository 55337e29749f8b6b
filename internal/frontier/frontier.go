// Package frontier provides the persistent, crash-resumable URL work queue
// shared by all crawl workers.
//
// Records live in a BoltDB file. Every Add, AcquireNext and MarkComplete is a
// single read-write transaction, so a crash between operations leaves the
// store consistent: a URL is either pending, in progress or done, and on the
// next open in-progress URLs go back to pending at their original position.
package frontier

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	bolt "go.etcd.io/bbolt"

	crawlerrors "github.com/PentesterFlow/PoliteCrawler/internal/errors"
	"github.com/PentesterFlow/PoliteCrawler/internal/logger"
	"github.com/PentesterFlow/PoliteCrawler/internal/urlutil"
)

var (
	bucketRecords = []byte("records")
	bucketPending = []byte("pending")
)

// ErrClosed is returned by operations on a closed frontier.
var ErrClosed = errors.New("frontier is closed")

// Options configures Open.
type Options struct {
	// Path of the BoltDB file. Parent directories are created.
	Path string
	// Restart discards any existing store before opening.
	Restart bool
	// ExpectedURLs sizes the in-memory seen filter.
	ExpectedURLs uint
	Logger       *logger.Logger
}

// Frontier is the persistent URL work queue. It is safe for concurrent use.
type Frontier struct {
	mu      sync.Mutex
	db      *bolt.DB
	seen    *bloom.BloomFilter
	counts  Counts
	changed chan struct{}
	closed  bool
	log     *logger.Logger
}

// Open opens or creates the frontier store. With Restart set the existing
// file is removed first; otherwise a missing file yields an empty frontier.
func Open(opts Options) (*Frontier, error) {
	if opts.Path == "" {
		return nil, errors.New("frontier path is required")
	}
	if opts.ExpectedURLs == 0 {
		opts.ExpectedURLs = 100000
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, crawlerrors.NewStoreError("frontier open", fmt.Errorf("failed to create directory: %w", err))
	}

	if opts.Restart {
		if err := os.Remove(opts.Path); err != nil && !os.IsNotExist(err) {
			return nil, crawlerrors.NewStoreError("frontier open", fmt.Errorf("failed to wipe store: %w", err))
		}
		log.Infof("Frontier store %s wiped for restart", opts.Path)
	}

	db, err := bolt.Open(opts.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, crawlerrors.NewStoreError("frontier open", fmt.Errorf("failed to open database: %w", err))
	}

	f := &Frontier{
		db:      db,
		seen:    bloom.NewWithEstimates(opts.ExpectedURLs, 0.001),
		changed: make(chan struct{}),
		log:     log,
	}

	requeued, err := f.recover()
	if err != nil {
		db.Close()
		return nil, crawlerrors.NewStoreError("frontier open", err)
	}

	log.Infof("Frontier opened: %d pending, %d done, %d requeued from a previous run",
		f.counts.Discovered, f.counts.Done, requeued)

	return f, nil
}

// recover creates the buckets, rebuilds the seen filter and counters, and
// returns in-progress records to the pending queue.
func (f *Frontier) recover() (int, error) {
	requeued := 0

	err := f.db.Update(func(tx *bolt.Tx) error {
		records, err := tx.CreateBucketIfNotExists(bucketRecords)
		if err != nil {
			return fmt.Errorf("failed to create buckets: %w", err)
		}
		pending, err := tx.CreateBucketIfNotExists(bucketPending)
		if err != nil {
			return fmt.Errorf("failed to create buckets: %w", err)
		}

		var stale []Record
		var staleKeys [][]byte
		err = records.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", k, err)
			}
			f.seen.Add(k)

			switch rec.Status {
			case StatusDiscovered:
				f.counts.Discovered++
			case StatusDone:
				f.counts.Done++
			case StatusInProgress:
				stale = append(stale, rec)
				staleKeys = append(staleKeys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Mutating a bucket inside ForEach is not allowed, so stale records
		// are rewritten after the scan.
		for i, rec := range stale {
			rec.Status = StatusDiscovered
			if err := putRecord(records, staleKeys[i], rec); err != nil {
				return err
			}
			if err := pending.Put(seqKey(rec.Seq), staleKeys[i]); err != nil {
				return err
			}
			f.counts.Discovered++
			requeued++
		}
		return nil
	})

	return requeued, err
}

// Add normalizes rawURL and enqueues it unless it has been seen before. It
// reports whether a new record was created. Scope is not checked here.
func (f *Frontier) Add(rawURL string) (bool, error) {
	normalized, hash, err := urlutil.Key(rawURL)
	if err != nil {
		return false, err
	}
	key := []byte(hash)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, ErrClosed
	}

	if f.seen.Test(key) {
		var exists bool
		err := f.db.View(func(tx *bolt.Tx) error {
			exists = tx.Bucket(bucketRecords).Get(key) != nil
			return nil
		})
		if err != nil {
			return false, crawlerrors.NewStoreError("frontier add", err)
		}
		if exists {
			return false, nil
		}
	}

	err = f.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		seq, err := pending.NextSequence()
		if err != nil {
			return err
		}

		rec := Record{
			URL:          normalized,
			Status:       StatusDiscovered,
			Seq:          seq,
			DiscoveredAt: time.Now().UTC(),
		}
		if err := putRecord(tx.Bucket(bucketRecords), key, rec); err != nil {
			return err
		}
		return pending.Put(seqKey(seq), key)
	})
	if err != nil {
		return false, crawlerrors.NewStoreError("frontier add", err)
	}

	f.seen.Add(key)
	f.counts.Discovered++
	f.notify()
	return true, nil
}

// AcquireNext dispenses the oldest pending URL and marks it in progress.
// ok is false when nothing is pending at this moment.
func (f *Frontier) AcquireNext() (url string, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.acquireLocked()
}

func (f *Frontier) acquireLocked() (string, bool, error) {
	if f.closed {
		return "", false, ErrClosed
	}
	if f.counts.Discovered == 0 {
		return "", false, nil
	}

	var (
		rec     Record
		found   bool
		missing []byte
	)
	err := f.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		records := tx.Bucket(bucketRecords)

		k, hash := pending.Cursor().First()
		if k == nil {
			return nil
		}

		data := records.Get(hash)
		if data == nil {
			missing = append([]byte(nil), hash...)
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}

		rec.Status = StatusInProgress
		if err := putRecord(records, hash, rec); err != nil {
			return err
		}
		if err := pending.Delete(k); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return "", false, crawlerrors.NewStoreError("frontier acquire", err)
	}
	if missing != nil {
		crawlerrors.Invariant("pending entry %s has no frontier record", missing)
	}
	if !found {
		crawlerrors.Invariant("frontier counted %d pending URLs but the queue is empty", f.counts.Discovered)
	}

	f.counts.Discovered--
	f.counts.InProgress++
	return rec.URL, true, nil
}

// Next blocks until a URL can be dispensed or the crawl has drained. It
// returns ok=false only when nothing is pending and no URL is in progress,
// because an in-progress URL may still yield new links. Cancelling ctx
// returns ctx.Err().
func (f *Frontier) Next(ctx context.Context) (url string, ok bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}

		f.mu.Lock()
		url, ok, err = f.acquireLocked()
		if err != nil || ok {
			f.mu.Unlock()
			return url, ok, err
		}
		if f.counts.InProgress == 0 {
			f.mu.Unlock()
			return "", false, nil
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-changed:
		}
	}
}

// MarkComplete moves an in-progress URL to done. It is called whether or not
// the URL was processed successfully. Completing a URL that was never
// dispensed, or completing it twice, panics.
func (f *Frontier) MarkComplete(rawURL string) error {
	normalized, hash, err := urlutil.Key(rawURL)
	if err != nil {
		crawlerrors.Invariant("completing unparsable url %q: %v", rawURL, err)
	}
	key := []byte(hash)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	var (
		known bool
		prior Status
	)
	err = f.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		data := records.Get(key)
		if data == nil {
			return nil
		}
		known = true

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}
		prior = rec.Status
		if prior != StatusInProgress {
			return nil
		}

		rec.Status = StatusDone
		return putRecord(records, key, rec)
	})
	if err != nil {
		return crawlerrors.NewStoreError("frontier complete", err)
	}
	if !known {
		crawlerrors.Invariant("completing %s which was never added", normalized)
	}
	if prior != StatusInProgress {
		crawlerrors.Invariant("completing %s in status %s", normalized, prior)
	}

	f.counts.InProgress--
	f.counts.Done++
	f.notify()
	return nil
}

// Get returns the record for rawURL.
func (f *Frontier) Get(rawURL string) (Record, bool, error) {
	_, hash, err := urlutil.Key(rawURL)
	if err != nil {
		return Record{}, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Record{}, false, ErrClosed
	}

	var rec Record
	var found bool
	err = f.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(hash))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// Counts returns the number of records in each status.
func (f *Frontier) Counts() Counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts
}

// Close closes the store and wakes any goroutine blocked in Next.
func (f *Frontier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.changed)
	return f.db.Close()
}

// notify wakes goroutines waiting in Next. Callers hold f.mu.
func (f *Frontier) notify() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// Inspect counts records in an existing store without modifying it.
func Inspect(path string) (Counts, error) {
	var counts Counts

	if _, err := os.Stat(path); err != nil {
		return counts, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		ReadOnly: true,
	})
	if err != nil {
		return counts, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			switch rec.Status {
			case StatusDiscovered:
				counts.Discovered++
			case StatusInProgress:
				counts.InProgress++
			case StatusDone:
				counts.Done++
			}
			return nil
		})
	})
	return counts, err
}

func putRecord(b *bolt.Bucket, key []byte, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// seqKey encodes a sequence number so that byte order equals numeric order.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
