package position

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/binlogtap/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// BoltStore is a local position store backend for single-node dev/test
// runs that don't want to stand up Redis.
type BoltStore struct {
	db *bolt.DB
}

var bucketPosition = []byte("position")

// NewBoltStore opens (creating if absent) a BoltDB-backed position store
// under dataDir/position.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	path := filepath.Join(dataDir, "position.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open position store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPosition)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get() (types.Position, bool, error) {
	var pos types.Position
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPosition)
		file := b.Get([]byte(keyLogFile))
		if file == nil {
			return nil
		}
		found = true
		pos.LogFile = string(file)
		if posBytes := b.Get([]byte(keyLogPos)); posBytes != nil {
			pos.LogPos = bytesToUint32(posBytes)
		}
		return nil
	})
	return pos, found, err
}

func (s *BoltStore) SetFile(file string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPosition).Put([]byte(keyLogFile), []byte(file))
	})
}

func (s *BoltStore) SetPos(pos uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPosition).Put([]byte(keyLogPos), uint32ToBytes(pos))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func bytesToUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
