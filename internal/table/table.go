// Package table implements the registry layer above the per-CF engine: a
// Table is a named directory owning a set of column families, each an
// independently flushed and compacted subdirectory with its own WAL and
// SSTable set.
package table

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"gravelcol/internal/config"
	"gravelcol/internal/diskmanager"
	"gravelcol/internal/engine"
)

// ErrCFExists is returned by CreateCF when the named column family already
// exists on disk or in memory.
var ErrCFExists = errors.New("table: column family already exists")

// Table owns the column families discovered under (or created in) one
// directory. All CFs share the Table's disk manager and config.
type Table struct {
	name string
	dir  string
	dm   diskmanager.DiskManager
	cfg  *config.Config
	log  *logrus.Entry

	mu  sync.Mutex
	cfs map[string]*engine.ColumnFamily

	closeOnce sync.Once
}

// Open opens the table directory at dir, creating it if missing, and opens
// every column family found in it (each subdirectory is one CF). Each
// opened CF replays its WAL and rediscovers its SSTable set; exactly one
// background compactor is started per CF, regardless of how many times the
// directory has been scanned before.
func Open(dir string, cfg *config.Config) (*Table, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	} else {
		cfg.FillDefaults()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("table: mkdir %s: %w", dir, err)
	}

	t := &Table{
		name: filepath.Base(dir),
		dir:  dir,
		dm:   diskmanager.NewDiskManager(),
		cfg:  cfg,
		log:  logrus.WithField("table", filepath.Base(dir)),
		cfs:  make(map[string]*engine.ColumnFamily),
	}

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("table: scan %s: %w", dir, err)
	}
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		cf, err := engine.Open(t.dm, filepath.Join(dir, d.Name()), d.Name(), t.cfg, t.log)
		if err != nil {
			t.closeAll()
			return nil, fmt.Errorf("table: open cf %q: %w", d.Name(), err)
		}
		t.cfs[d.Name()] = cf
	}
	return t, nil
}

// Name returns the table's name (the base of its directory).
func (t *Table) Name() string { return t.name }

// CreateCF creates a new column family named name. It fails with
// ErrCFExists if the CF is already open or its directory already exists.
func (t *Table) CreateCF(name string) (*engine.ColumnFamily, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.cfs[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrCFExists, name)
	}
	cfDir := filepath.Join(t.dir, name)
	if _, err := os.Stat(cfDir); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrCFExists, name)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("table: stat cf dir %s: %w", cfDir, err)
	}

	cf, err := engine.Open(t.dm, cfDir, name, t.cfg, t.log)
	if err != nil {
		return nil, fmt.Errorf("table: create cf %q: %w", name, err)
	}
	t.cfs[name] = cf
	return cf, nil
}

// CF returns the open handle for the named column family, or false if the
// table has no CF by that name.
func (t *Table) CF(name string) (*engine.ColumnFamily, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cf, ok := t.cfs[name]
	return cf, ok
}

// CFNames returns the names of every open column family.
func (t *Table) CFNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.cfs))
	for name := range t.cfs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) closeAll() error {
	var err error
	for name, cf := range t.cfs {
		if cerr := cf.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("table: close cf %q: %w", name, cerr)
		}
	}
	return err
}

// Close stops every CF's background compactor, flushes remaining memtable
// data, and closes all files. Safe to call once.
func (t *Table) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		err = t.closeAll()
	})
	return err
}
