package flowstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/ics-guard/icsguard/internal/apperr"
)

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxAttempts = 5
)

// Store is the bbolt-backed implementation of the flow store (C3).
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (creating if absent) the flow store database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open flow store: %w", err)
	}

	s := &Store{db: db, logger: logger.Named("flowstore")}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketFlows, BucketDetectionLogs} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// withRetry wraps a bbolt transaction in the bounded, exponential-backoff
// retry the specification requires for transient "database locked"
// conditions (up to 5 attempts, base 100ms). bbolt itself serializes
// writers; the condition this guards against is the open-time Timeout
// error and any wrapped transaction error that looks transient.
func (s *Store) withRetry(op func() error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransientLockErr(err) {
			return err
		}
		s.logger.Warn("flow store transient lock, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("%w: %v", apperr.ErrTransientStorageLock, lastErr)
}

func isTransientLockErr(err error) bool {
	return errors.Is(err, bolterrors.ErrTimeout) || errors.Is(err, bbolt.ErrDatabaseNotOpen)
}

// UpsertFlowBase creates the row with detect_status=pending if flow_id is
// unseen, otherwise overwrites only ingestion-owned fields, leaving
// detection fields untouched (P1). Safe under concurrent callers for the
// same flow_id: the get-then-put happens inside one bbolt writer
// transaction, and bbolt serializes writers.
func (s *Store) UpsertFlowBase(incoming *Flow) error {
	return s.withRetry(func() error {
		return s.db.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket([]byte(BucketFlows))
			existing := bucket.Get([]byte(incoming.FlowID))

			var row Flow
			if existing == nil {
				row = *incoming
				row.DetectStatus = DetectPending
				row.DecisionLevel = LevelNormal
				row.Prob = 0
			} else {
				if err := row.UnmarshalBinary(existing); err != nil {
					return fmt.Errorf("decode existing flow row: %w", err)
				}
				row.ingestionFields(incoming)
			}

			data, err := row.MarshalBinary()
			if err != nil {
				return err
			}
			return bucket.Put([]byte(incoming.FlowID), data)
		})
	})
}

// GetFlow returns the stored flow row, or apperr.ErrNotFound.
func (s *Store) GetFlow(flowID string) (*Flow, error) {
	var row Flow
	err := s.withRetry(func() error {
		return s.db.View(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket([]byte(BucketFlows))
			data := bucket.Get([]byte(flowID))
			if data == nil {
				return apperr.ErrNotFound
			}
			return row.UnmarshalBinary(data)
		})
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateDetection writes detect_status, decision_level, prob, anomaly_score,
// and detected_at, never touching ingestion-owned fields. Returns
// apperr.ErrNotFound if the flow_id has not been ingested yet — update
// must follow upsert for the same observation (§5 ordering guarantee).
func (s *Store) UpdateDetection(flowID string, result DetectionResult) error {
	return s.withRetry(func() error {
		return s.db.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket([]byte(BucketFlows))
			data := bucket.Get([]byte(flowID))
			if data == nil {
				return apperr.ErrNotFound
			}
			var row Flow
			if err := row.UnmarshalBinary(data); err != nil {
				return err
			}

			now := time.Now().UTC()
			row.DetectStatus = result.DecisionLevel.MapToDetectStatus()
			row.DecisionLevel = result.DecisionLevel
			row.Prob = result.Prob
			row.AnomalyScore = result.AnomalyScore
			row.DetectedAt = &now

			updated, err := row.MarshalBinary()
			if err != nil {
				return err
			}
			return bucket.Put([]byte(flowID), updated)
		})
	})
}

// AppendDetectionLog appends one immutable detection-log row under a key
// built from the bucket's next sequence number and the flow_id, so rows are
// never overwritten. The row's ID is a generated UUID.
func (s *Store) AppendDetectionLog(log *DetectionLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	return s.withRetry(func() error {
		return s.db.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket([]byte(BucketDetectionLogs))
			data, err := log.MarshalBinary()
			if err != nil {
				return err
			}
			// Prefix the key with a big-endian sequence so range scans stay
			// ordered by insertion; the UUID lives only in the row's ID field.
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			key := make([]byte, 8+len(log.FlowID)+1)
			binary.BigEndian.PutUint64(key[:8], seq)
			copy(key[8:], []byte(log.FlowID+"\x00"))
			return bucket.Put(key, data)
		})
	})
}

// ListDetectionLogs returns every detection-log row for a flow_id, in
// insertion order.
func (s *Store) ListDetectionLogs(flowID string) ([]*DetectionLog, error) {
	var out []*DetectionLog
	err := s.withRetry(func() error {
		out = nil
		return s.db.View(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket([]byte(BucketDetectionLogs))
			return bucket.ForEach(func(k, v []byte) error {
				var log DetectionLog
				if err := log.UnmarshalBinary(v); err != nil {
					return err
				}
				if log.FlowID == flowID {
					out = append(out, &log)
				}
				return nil
			})
		})
	})
	return out, err
}
