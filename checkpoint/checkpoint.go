// Package checkpoint persists finished image rows in a badger store, keyed by
// row index, so an interrupted render can be resumed.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"

	"github.com/dgraph-io/badger"
	"github.com/golang/glog"
	"golang.org/x/xerrors"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Key prefixes that denote different tables in the key-value store.
const (
	KeyTypeManifest uint32 = 0
	KeyTypeRow      uint32 = 1
)

const FormatVersion = 1

func ManifestKey() []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key[0:4], KeyTypeManifest)
	return key
}

func RowKey(row int) []byte {
	key := make([]byte, 12)
	binary.BigEndian.PutUint32(key[0:4], KeyTypeRow)
	binary.BigEndian.PutUint64(key[4:12], uint64(row))
	return key
}

func RowKeyPrefixAllRows() []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key[0:4], KeyTypeRow)
	return key
}

func DecodeRowKey(key []byte) (int, error) {
	if len(key) != 12 {
		return 0, xerrors.Errorf("key has wrong length; got %d, want 12", len(key))
	}
	if binary.BigEndian.Uint32(key[0:4]) != KeyTypeRow {
		return 0, xerrors.Errorf("key is not a row key")
	}
	return int(binary.BigEndian.Uint64(key[4:12])), nil
}

// NewManifest describes a render.  A checkpoint can only be resumed by a
// render with an equal manifest.  The seed is stored as a string since
// structpb numbers are doubles.
func NewManifest(seed int64, samplesPerPixel, maxDepth, rows, cols int) (*structpb.Struct, error) {
	m, err := structpb.NewStruct(map[string]interface{}{
		"format_version":    FormatVersion,
		"seed":              strconv.FormatInt(seed, 10),
		"samples_per_pixel": samplesPerPixel,
		"max_depth":         maxDepth,
		"rows":              rows,
		"cols":              cols,
	})
	if err != nil {
		return nil, xerrors.Errorf("while building manifest: %w", err)
	}
	return m, nil
}

// ManifestSeed returns the render seed recorded in m.
func ManifestSeed(m *structpb.Struct) (int64, error) {
	v, ok := m.GetFields()["seed"]
	if !ok {
		return 0, xerrors.Errorf("manifest has no seed field")
	}
	seed, err := strconv.ParseInt(v.GetStringValue(), 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("while parsing manifest seed %q: %w", v.GetStringValue(), err)
	}
	return seed, nil
}

// ReadManifest returns the manifest stored in dir, or nil if dir holds no
// checkpoint yet.  It leaves a missing dir uncreated.
func ReadManifest(dir string) (*structpb.Struct, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, xerrors.Errorf("while checking checkpoint dir %q: %w", dir, err)
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(badgerLogger{}))
	if err != nil {
		return nil, xerrors.Errorf("while opening badger kv dir %q: %w", dir, err)
	}
	defer db.Close()

	var raw []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ManifestKey())
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if xerrors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, xerrors.Errorf("while reading manifest: %w", err)
	}

	m := &structpb.Struct{}
	if err := proto.Unmarshal(raw, m); err != nil {
		return nil, xerrors.Errorf("while unmarshaling manifest: %w", err)
	}
	return m, nil
}

type Store struct {
	DB *badger.DB

	rowBytes int
}

// Open opens the checkpoint store in dir, creating it if needed.
//
// Without resume, a store that already holds anything is an error, to avoid
// blowing away a previous render.  With resume, the stored manifest must
// equal manifest.
func Open(dir string, manifest *structpb.Struct, resume bool) (*Store, error) {
	cols, ok := manifest.GetFields()["cols"]
	if !ok {
		return nil, xerrors.Errorf("manifest has no cols field")
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(badgerLogger{}))
	if err != nil {
		return nil, xerrors.Errorf("while opening badger kv dir %q: %w", dir, err)
	}

	s := &Store{
		DB:       db,
		rowBytes: int(cols.GetNumberValue()) * 3,
	}

	if err := s.bindManifest(manifest, resume); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) bindManifest(manifest *structpb.Struct, resume bool) error {
	want, err := proto.Marshal(manifest)
	if err != nil {
		return xerrors.Errorf("while marshaling manifest: %w", err)
	}

	return s.DB.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(ManifestKey())
		if xerrors.Is(err, badger.ErrKeyNotFound) {
			if !tableEmpty(txn, RowKeyPrefixAllRows()) {
				return xerrors.Errorf("checkpoint holds rows but no manifest")
			}
			if err := txn.Set(ManifestKey(), want); err != nil {
				return xerrors.Errorf("while writing manifest: %w", err)
			}
			return nil
		} else if err != nil {
			return xerrors.Errorf("while reading manifest: %w", err)
		}

		if !resume {
			return xerrors.Errorf("resumption not requested, but checkpoint already exists")
		}

		raw, err := item.ValueCopy(nil)
		if err != nil {
			return xerrors.Errorf("while copying manifest: %w", err)
		}

		got := &structpb.Struct{}
		if err := proto.Unmarshal(raw, got); err != nil {
			return xerrors.Errorf("while unmarshaling manifest: %w", err)
		}

		if !proto.Equal(got, manifest) {
			return xerrors.Errorf("resumption requested, but the checkpoint was made by a different render (got %s, want %s)",
				prototext.Format(got), prototext.Format(manifest))
		}

		return nil
	})
}

func tableEmpty(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(prefix)
	return !it.ValidForPrefix(prefix)
}

func (s *Store) LoadRow(row int) ([]byte, bool, error) {
	var pix []byte
	err := s.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(RowKey(row))
		if err != nil {
			return err
		}
		pix, err = item.ValueCopy(nil)
		return err
	})
	if xerrors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, xerrors.Errorf("while loading row %d: %w", row, err)
	}

	if len(pix) != s.rowBytes {
		return nil, false, xerrors.Errorf("row %d has %d bytes, want %d", row, len(pix), s.rowBytes)
	}

	return pix, true, nil
}

func (s *Store) SaveRow(row int, pix []byte) error {
	if len(pix) != s.rowBytes {
		return xerrors.Errorf("row %d has %d bytes, want %d", row, len(pix), s.rowBytes)
	}

	// Each row has its own key, so concurrent saves never conflict.
	err := s.DB.Update(func(txn *badger.Txn) error {
		return txn.Set(RowKey(row), append([]byte(nil), pix...))
	})
	if err != nil {
		return xerrors.Errorf("while saving row %d: %w", row, err)
	}
	return nil
}

// Rows lists the stored row indices in ascending order.
func (s *Store) Rows() ([]int, error) {
	rows := []int{}
	err := s.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := RowKeyPrefixAllRows()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			row, err := DecodeRowKey(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("while listing rows: %w", err)
	}
	return rows, nil
}

func (s *Store) Close() error {
	if err := s.DB.Close(); err != nil {
		return xerrors.Errorf("while closing badger kv: %w", err)
	}
	return nil
}

type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	glog.ErrorDepth(1, "badger: "+fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	glog.WarningDepth(1, "badger: "+fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	if glog.V(2) {
		glog.InfoDepth(1, "badger: "+fmt.Sprintf(format, args...))
	}
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	if glog.V(4) {
		glog.InfoDepth(1, "badger: "+fmt.Sprintf(format, args...))
	}
}
