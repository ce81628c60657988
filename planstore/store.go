package planstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/davecgh/go-spew/spew"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultFilename is the name of the database file.
	DefaultFilename = "plans.db"

	// schemaVersion is the version of the stored plan encoding.
	schemaVersion = 1

	dbFilePermission = 0o600
)

var (
	bucketPlans = []byte("plans_by_root_address")
	bucketMeta  = []byte("meta")

	keyVersion = []byte("schema_version")

	// ErrPlanNotFound is returned when no plan is stored for an address.
	ErrPlanNotFound = errors.New("plan not found")
)

// Store persists covenant plans in a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the plan database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("plan database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(path, dbFilePermission, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketPlans, bucketMeta} {
			_, err := tx.CreateBucketIfNotExists(b)
			if err != nil {
				return fmt.Errorf("create bucket %s: %w",
					string(b), err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		version := meta.Get(keyVersion)
		switch {
		case version == nil:
			return meta.Put(keyVersion, []byte{schemaVersion})

		case len(version) != 1 || version[0] > schemaVersion:
			return fmt.Errorf("plan database schema version %v > "+
				"supported %d", version, schemaVersion)
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}

	log.Debugf("Opened plan database %s", path)

	return &Store{db: bdb}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores plan, replacing any plan for the same root address.
func (s *Store) Save(plan *Plan) error {
	if plan.RootAddress == "" {
		return fmt.Errorf("plan has no root address")
	}

	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).Put(
			[]byte(plan.RootAddress), data,
		)
	})
	if err != nil {
		return err
	}

	log.Infof("Saved plan for %s with %d leaves", plan.RootAddress,
		len(plan.Leaves))
	log.Tracef("Saved plan: %v", newLogClosure(func() string {
		return spew.Sdump(plan)
	}))

	return nil
}

// Load returns the plan stored for rootAddress.
func (s *Store) Load(rootAddress string) (*Plan, error) {
	var plan *Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPlans).Get([]byte(rootAddress))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrPlanNotFound,
				rootAddress)
		}

		plan = &Plan{}
		return json.Unmarshal(data, plan)
	})
	if err != nil {
		return nil, err
	}

	return plan, nil
}

// Delete removes the plan stored for rootAddress.
func (s *Store) Delete(rootAddress string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketPlans)
		if bucket.Get([]byte(rootAddress)) == nil {
			return fmt.Errorf("%w: %s", ErrPlanNotFound,
				rootAddress)
		}
		return bucket.Delete([]byte(rootAddress))
	})
}

// List returns all stored plans ordered by root address.
func (s *Store) List() ([]*Plan, error) {
	var plans []*Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).ForEach(func(k, v []byte) error {
			plan := &Plan{}
			if err := json.Unmarshal(v, plan); err != nil {
				return fmt.Errorf("decode plan %s: %w",
					string(k), err)
			}
			plans = append(plans, plan)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return plans, nil
}

// logClosure is used to defer expensive dumps until the log level is known
// to print them.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
