// Package jobstate provides durable, fenced checkpoint storage for backfill
// jobs. Apart from the unconditional Upsert used for lease acquisition and
// takeover, every mutation goes through a single compare-and-set Lua script
// keyed on the job's instance id, so a worker that has lost its lease to a
// takeover cannot silently clobber the new owner's progress.
package jobstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"ticksync/internal/domain"
)

// Errors returned by Store operations.
var (
	// ErrNotFound is returned by a fenced mutation when the job record does
	// not exist.
	ErrNotFound = errors.New("job state not found")
	// ErrStaleInstance is returned by a fenced mutation when the caller's
	// instance id no longer matches the record's current owner.
	ErrStaleInstance = errors.New("caller holds a stale job instance id")
	// ErrBackend wraps unexpected failures from the underlying store.
	ErrBackend = errors.New("job state backend error")
)

// Store is the durable per-job checkpoint record.
type Store interface {
	Get(ctx context.Context, jobKey string) (*domain.JobState, error)
	Upsert(ctx context.Context, jobKey string, state domain.JobState) error
	UpdateCursor(ctx context.Context, jobKey, instanceID string, cursor int64) error
	UpdateStatus(ctx context.Context, jobKey, instanceID string, status domain.JobStatus) error
	Heartbeat(ctx context.Context, jobKey, instanceID string, ts int64) error
	SaveError(ctx context.Context, jobKey, instanceID, message string) error
}

// fields used in the Redis hash backing each job record.
const (
	fieldStatus        = "status"
	fieldJobInstanceID = "job_instance_id"
	fieldCursor        = "cursor"
	fieldEndTime       = "end_time"
	fieldHeartbeatAt   = "heartbeat_at"
	fieldLastErrorType = "last_error_type"
	fieldLegacyState   = "state" // backward-compat JSON blob
)

// checkAndSetScript atomically verifies the caller's instance id still owns
// the job before applying a single field mutation. Return codes: -1 record
// absent, 0 instance id mismatch, 1 applied.
const checkAndSetScript = `
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == false then
	return -1
end
if current ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[3], ARGV[4])
return 1
`

// RedisStore is the reference Store implementation.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore constructs a RedisStore over rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

var _ Store = (*RedisStore)(nil)

// legacyState is the JSON shape of the backward-compatible blob field,
// kept for records written before the field-level schema existed.
type legacyState struct {
	Status        domain.JobStatus `json:"status"`
	JobInstanceID string           `json:"job_instance_id"`
	Cursor        int64            `json:"cursor"`
	EndTime       int64            `json:"end_time"`
	HeartbeatAt   int64            `json:"heartbeat_at"`
	LastErrorType string           `json:"last_error_type"`
}

// Get reads the full record for jobKey, or (nil, nil) if it does not
// exist. If the field-level record has no job_instance_id field but a
// legacy blob is present, Get falls back to deserializing the blob.
func (s *RedisStore) Get(ctx context.Context, jobKey string) (*domain.JobState, error) {
	h, err := s.rdb.HGetAll(ctx, jobKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(h) == 0 {
		return nil, nil
	}

	if _, ok := h[fieldJobInstanceID]; !ok {
		if blob, ok := h[fieldLegacyState]; ok {
			var legacy legacyState
			if err := json.Unmarshal([]byte(blob), &legacy); err != nil {
				return nil, fmt.Errorf("%w: decoding legacy state blob: %v", ErrBackend, err)
			}
			return &domain.JobState{
				Status:        legacy.Status,
				JobInstanceID: legacy.JobInstanceID,
				Cursor:        legacy.Cursor,
				EndTime:       legacy.EndTime,
				HeartbeatAt:   legacy.HeartbeatAt,
				LastErrorType: legacy.LastErrorType,
			}, nil
		}
		return nil, fmt.Errorf("%w: job record missing instance id", ErrBackend)
	}

	cursor, _ := strconv.ParseInt(h[fieldCursor], 10, 64)
	endTime, _ := strconv.ParseInt(h[fieldEndTime], 10, 64)
	heartbeat, _ := strconv.ParseInt(h[fieldHeartbeatAt], 10, 64)

	return &domain.JobState{
		Status:        domain.JobStatus(h[fieldStatus]),
		JobInstanceID: h[fieldJobInstanceID],
		Cursor:        cursor,
		EndTime:       endTime,
		HeartbeatAt:   heartbeat,
		LastErrorType: h[fieldLastErrorType],
	}, nil
}

// Upsert unconditionally writes the full record, used for lease
// acquisition and takeover where no prior instance id needs verifying.
func (s *RedisStore) Upsert(ctx context.Context, jobKey string, state domain.JobState) error {
	legacy := legacyState{
		Status:        state.Status,
		JobInstanceID: state.JobInstanceID,
		Cursor:        state.Cursor,
		EndTime:       state.EndTime,
		HeartbeatAt:   state.HeartbeatAt,
		LastErrorType: state.LastErrorType,
	}
	blob, err := json.Marshal(legacy)
	if err != nil {
		return fmt.Errorf("%w: encoding legacy state blob: %v", ErrBackend, err)
	}

	err = s.rdb.HSet(ctx, jobKey, map[string]interface{}{
		fieldStatus:        string(state.Status),
		fieldJobInstanceID: state.JobInstanceID,
		fieldCursor:        state.Cursor,
		fieldEndTime:       state.EndTime,
		fieldHeartbeatAt:   state.HeartbeatAt,
		fieldLastErrorType: state.LastErrorType,
		fieldLegacyState:   string(blob),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisStore) checkAndSet(ctx context.Context, jobKey, instanceID, field, value string) error {
	res, err := s.rdb.Eval(ctx, checkAndSetScript, []string{jobKey}, fieldJobInstanceID, instanceID, field, value).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	code, ok := res.(int64)
	if !ok {
		return fmt.Errorf("%w: unexpected script result %T", ErrBackend, res)
	}
	switch code {
	case -1:
		return ErrNotFound
	case 0:
		return ErrStaleInstance
	case 1:
		return nil
	default:
		return fmt.Errorf("%w: unexpected script code %d", ErrBackend, code)
	}
}

// UpdateCursor fences a write of the checkpoint cursor.
func (s *RedisStore) UpdateCursor(ctx context.Context, jobKey, instanceID string, cursor int64) error {
	return s.checkAndSet(ctx, jobKey, instanceID, fieldCursor, strconv.FormatInt(cursor, 10))
}

// UpdateStatus fences a write of the job's lifecycle status.
func (s *RedisStore) UpdateStatus(ctx context.Context, jobKey, instanceID string, status domain.JobStatus) error {
	return s.checkAndSet(ctx, jobKey, instanceID, fieldStatus, string(status))
}

// Heartbeat fences a write of the liveness timestamp.
func (s *RedisStore) Heartbeat(ctx context.Context, jobKey, instanceID string, ts int64) error {
	return s.checkAndSet(ctx, jobKey, instanceID, fieldHeartbeatAt, strconv.FormatInt(ts, 10))
}

// SaveError fences a write of the last error's type/message.
func (s *RedisStore) SaveError(ctx context.Context, jobKey, instanceID, message string) error {
	return s.checkAndSet(ctx, jobKey, instanceID, fieldLastErrorType, message)
}
