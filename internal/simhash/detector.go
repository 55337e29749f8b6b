package simhash

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	crawlerrors "github.com/PentesterFlow/PoliteCrawler/internal/errors"
	"github.com/PentesterFlow/PoliteCrawler/internal/logger"
	"github.com/PentesterFlow/PoliteCrawler/internal/urlutil"
)

var bucketSignatures = []byte("signatures")

// Options configures Open.
type Options struct {
	Path    string
	Restart bool
	Bits    int
	Logger  *logger.Logger
}

type entry struct {
	URL string    `json:"url"`
	Sig Signature `json:"sig"`
}

// Detector keeps every stored signature in memory for a linear scan and
// persists each one in a BoltDB bucket keyed by normalized-URL hash.
type Detector struct {
	mu      sync.RWMutex
	db      *bolt.DB
	hasher  *Hasher
	entries []entry
	index   map[string]int
	log     *logger.Logger
}

// Open opens or creates the signature store.
func Open(opts Options) (*Detector, error) {
	if opts.Path == "" {
		return nil, errors.New("signature store path is required")
	}
	if opts.Bits == 0 {
		opts.Bits = DefaultBits
	}
	hasher, err := NewHasher(opts.Bits)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, crawlerrors.NewStoreError("signature open", fmt.Errorf("failed to create directory: %w", err))
	}

	if opts.Restart {
		if err := os.Remove(opts.Path); err != nil && !os.IsNotExist(err) {
			return nil, crawlerrors.NewStoreError("signature open", fmt.Errorf("failed to wipe store: %w", err))
		}
		log.Infof("Signature store %s wiped for restart", opts.Path)
	}

	db, err := bolt.Open(opts.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, crawlerrors.NewStoreError("signature open", fmt.Errorf("failed to open database: %w", err))
	}

	d := &Detector{
		db:     db,
		hasher: hasher,
		index:  make(map[string]int),
		log:    log,
	}

	if err := d.load(); err != nil {
		db.Close()
		return nil, crawlerrors.NewStoreError("signature open", err)
	}

	log.Infof("Signature store opened with %d signatures of %d bits", len(d.entries), opts.Bits)
	return d, nil
}

func (d *Detector) load() error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketSignatures)
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		return b.ForEach(func(k, v []byte) error {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to decode signature %s: %w", k, err)
			}
			if e.Sig.Len() != d.hasher.Bits() {
				return fmt.Errorf("stored signature for %s has %d bits, configured %d", e.URL, e.Sig.Len(), d.hasher.Bits())
			}
			d.index[string(k)] = len(d.entries)
			d.entries = append(d.entries, e)
			return nil
		})
	})
}

// Compute returns the signature of freq.
func (d *Detector) Compute(freq map[string]int) Signature {
	return d.hasher.Compute(freq)
}

// IsNearDuplicate reports whether freq is more similar than threshold to any
// stored signature.
func (d *Detector) IsNearDuplicate(freq map[string]int, threshold float64) bool {
	sig := d.hasher.Compute(freq)

	d.mu.RLock()
	defer d.mu.RUnlock()

	_, _, found := d.scan(sig, threshold, "")
	return found
}

// MaxSimilarity returns the stored URL most similar to freq, or an empty URL
// when the store is empty.
func (d *Detector) MaxSimilarity(freq map[string]int) (string, float64) {
	sig := d.hasher.Compute(freq)

	d.mu.RLock()
	defer d.mu.RUnlock()

	bestURL, best := "", 0.0
	for _, e := range d.entries {
		if sim := Similarity(sig, e.Sig); sim > best {
			bestURL, best = e.URL, sim
		}
	}
	return bestURL, best
}

// Store persists the signature of freq under rawURL unless one already
// exists for that URL. It reports whether a signature was written.
func (d *Detector) Store(rawURL string, freq map[string]int) (bool, error) {
	normalized, hash, err := urlutil.Key(rawURL)
	if err != nil {
		return false, err
	}
	sig := d.hasher.Compute(freq)

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.storeLocked(hash, entry{URL: normalized, Sig: sig})
}

// CheckAndStore checks freq against every stored signature except rawURL's
// own and, when it is not a near-duplicate, stores it. Check and insert
// happen under one lock so identical pages fetched concurrently cannot both
// pass. match is the URL of the duplicate when dup is true.
func (d *Detector) CheckAndStore(rawURL string, freq map[string]int, threshold float64) (dup bool, match string, err error) {
	normalized, hash, err := urlutil.Key(rawURL)
	if err != nil {
		return false, "", err
	}
	sig := d.hasher.Compute(freq)

	d.mu.Lock()
	defer d.mu.Unlock()

	if url, _, found := d.scan(sig, threshold, hash); found {
		return true, url, nil
	}

	if _, err := d.storeLocked(hash, entry{URL: normalized, Sig: sig}); err != nil {
		return false, "", err
	}
	return false, "", nil
}

// scan returns the first stored signature more similar than threshold,
// skipping the entry keyed by exclude. Callers hold d.mu.
func (d *Detector) scan(sig Signature, threshold float64, exclude string) (string, float64, bool) {
	skip := -1
	if i, ok := d.index[exclude]; ok {
		skip = i
	}

	for i, e := range d.entries {
		if i == skip {
			continue
		}
		if sim := Similarity(sig, e.Sig); sim > threshold {
			return e.URL, sim, true
		}
	}
	return "", 0, false
}

func (d *Detector) storeLocked(hash string, e entry) (bool, error) {
	if _, exists := d.index[hash]; exists {
		return false, nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return false, crawlerrors.NewStoreError("signature store", err)
	}

	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSignatures).Put([]byte(hash), data)
	})
	if err != nil {
		return false, crawlerrors.NewStoreError("signature store", err)
	}

	d.index[hash] = len(d.entries)
	d.entries = append(d.entries, e)
	return true, nil
}

// Len returns the number of stored signatures.
func (d *Detector) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Close closes the store.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}
