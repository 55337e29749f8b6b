package stats

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Store persists shards keyed by worker ID.
type Store interface {
	// Init prepares the shard of a worker: wipe resets it to empty, otherwise
	// an existing shard is kept and a missing one is created empty.
	Init(workerID int, wipe bool) (*Shard, error)

	// Update loads the shard, applies fn and writes the result. Nothing is
	// written when fn returns an error.
	Update(workerID int, fn func(*Shard) error) error

	// Load returns the stored shard of a worker.
	Load(workerID int) (*Shard, error)

	// IDs lists the worker IDs that have a stored shard, ascending.
	IDs() ([]int, error)

	Close() error
}

// LoadAll loads every stored shard in worker ID order.
func LoadAll(s Store) ([]*Shard, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}

	shards := make([]*Shard, 0, len(ids))
	for _, id := range ids {
		shard, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}
	return shards, nil
}

const shardPrefix = "stats_"

// FileStore keeps one JSON file per worker in a directory. Every write goes
// to a temporary file that is synced and renamed over the old one, so a
// crash leaves either the previous or the new shard on disk.
type FileStore struct {
	dir        string
	compressed bool
}

// NewFileStore creates a file-based shard store, creating dir if needed.
func NewFileStore(dir string, compressed bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileStore{dir: dir, compressed: compressed}, nil
}

func (s *FileStore) path(workerID int) string {
	name := shardPrefix + strconv.Itoa(workerID) + ".json"
	if s.compressed {
		name += ".gz"
	}
	return filepath.Join(s.dir, name)
}

// Init implements Store.
func (s *FileStore) Init(workerID int, wipe bool) (*Shard, error) {
	if !wipe {
		shard, err := s.Load(workerID)
		if err == nil {
			return shard, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	shard := NewShard(workerID)
	if err := s.save(shard); err != nil {
		return nil, err
	}
	return shard, nil
}

// Update implements Store.
func (s *FileStore) Update(workerID int, fn func(*Shard) error) error {
	shard, err := s.Load(workerID)
	if err != nil {
		return err
	}
	if err := fn(shard); err != nil {
		return err
	}
	return s.save(shard)
}

// Load implements Store. A missing shard returns an error matching
// os.ErrNotExist.
func (s *FileStore) Load(workerID int) (*Shard, error) {
	return readShardFile(s.path(workerID), s.compressed)
}

// IDs implements Store.
func (s *FileStore) IDs() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard directory: %w", err)
	}

	suffix := ".json"
	if s.compressed {
		suffix = ".json.gz"
	}

	var ids []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, shardPrefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, shardPrefix), suffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) save(shard *Shard) error {
	data, err := json.Marshal(shard)
	if err != nil {
		return fmt.Errorf("failed to marshal shard: %w", err)
	}

	if s.compressed {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return err
		}
		if err := gw.Close(); err != nil {
			return err
		}
		data = buf.Bytes()
	}

	return writeFileAtomic(s.path(shard.WorkerID), data)
}

// ReadShardFile reads one shard file; a .gz suffix selects gzip decoding.
func ReadShardFile(path string) (*Shard, error) {
	return readShardFile(path, strings.HasSuffix(path, ".gz"))
}

func readShardFile(path string, compressed bool) (*Shard, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = file
	if compressed {
		gr, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip shard %s: %w", path, err)
		}
		defer gr.Close()
		r = gr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard %s: %w", path, err)
	}

	shard := NewShard(0)
	if err := json.Unmarshal(data, shard); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shard %s: %w", path, err)
	}
	return shard, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write shard: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync shard: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace shard: %w", err)
	}
	return nil
}

// MemoryStore keeps encoded shards in memory.
type MemoryStore struct {
	mu     sync.Mutex
	shards map[int][]byte
}

// NewMemoryStore creates a new in-memory shard store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shards: make(map[int][]byte)}
}

// Init implements Store.
func (s *MemoryStore) Init(workerID int, wipe bool) (*Shard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.shards[workerID]; ok && !wipe {
		return decodeShard(data)
	}
	shard := NewShard(workerID)
	return shard, s.putLocked(shard)
}

// Update implements Store.
func (s *MemoryStore) Update(workerID int, fn func(*Shard) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.shards[workerID]
	if !ok {
		return fmt.Errorf("shard %d: %w", workerID, os.ErrNotExist)
	}
	shard, err := decodeShard(data)
	if err != nil {
		return err
	}
	if err := fn(shard); err != nil {
		return err
	}
	return s.putLocked(shard)
}

// Load implements Store.
func (s *MemoryStore) Load(workerID int) (*Shard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.shards[workerID]
	if !ok {
		return nil, fmt.Errorf("shard %d: %w", workerID, os.ErrNotExist)
	}
	return decodeShard(data)
}

// IDs implements Store.
func (s *MemoryStore) IDs() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, 0, len(s.shards))
	for id := range s.shards {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) putLocked(shard *Shard) error {
	data, err := json.Marshal(shard)
	if err != nil {
		return err
	}
	s.shards[shard.WorkerID] = data
	return nil
}

func decodeShard(data []byte) (*Shard, error) {
	shard := NewShard(0)
	if err := json.Unmarshal(data, shard); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shard: %w", err)
	}
	return shard, nil
}
