package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/autobook/internal/domain"
)

var ErrInvalidJob = errors.New("invalid job")

// payloadTTL keeps orphaned payloads from living forever if an index write is lost.
const payloadTTL = 14 * 24 * time.Hour

type RedisQ struct {
	rdb      *r.Client
	validate *validator.Validate
	now      func() time.Time
}

func New(rdb *r.Client) *RedisQ {
	return &RedisQ{rdb: rdb, validate: validator.New(), now: time.Now}
}

func queueKey(s domain.Stage) string { return "queue:" + string(s) }
func delayKey(s domain.Stage) string { return "delay:" + string(s) }
func jobKey(id string) string         { return "job:" + id }

func (q *RedisQ) prepare(j *domain.Job) error {
	if j.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return errors.Wrap(err, "job id")
		}
		j.ID = id.String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = q.now()
	}
	if err := q.validate.Struct(j); err != nil {
		return errors.Wrapf(ErrInvalidJob, "%v", err)
	}
	return nil
}

// Enqueue stores the payload and indexes it in the stage's sorted set inside
// one MULTI, so a reader never sees an index entry without its payload.
func (q *RedisQ) Enqueue(ctx context.Context, j *domain.Job) error {
	if err := q.prepare(j); err != nil {
		return err
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(j.ID), raw, payloadTTL)
	pipe.ZAdd(ctx, queueKey(j.Stage), r.Z{Score: j.Score(), Member: j.ID})
	_, err = pipe.Exec(ctx)
	return errors.Wrapf(err, "enqueue %s", j.Stage)
}

// EnqueueAt parks a job in the stage's delayed set until runAt.
func (q *RedisQ) EnqueueAt(ctx context.Context, j *domain.Job, runAt time.Time) error {
	if !runAt.After(q.now()) {
		return q.Enqueue(ctx, j)
	}
	if err := q.prepare(j); err != nil {
		return err
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(j.ID), raw, payloadTTL)
	pipe.ZAdd(ctx, delayKey(j.Stage), r.Z{Score: float64(runAt.Unix()), Member: j.ID})
	_, err = pipe.Exec(ctx)
	return errors.Wrapf(err, "delay %s", j.Stage)
}

// Dequeue pops the lowest-score job. A nil job with a nil error means the
// stage is empty or the payload vanished; callers treat both as "nothing to do".
func (q *RedisQ) Dequeue(ctx context.Context, stage domain.Stage) (*domain.Job, error) {
	zs, err := q.rdb.ZPopMin(ctx, queueKey(stage), 1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "dequeue %s", stage)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	id := fmt.Sprint(zs[0].Member)
	raw, err := q.rdb.GetDel(ctx, jobKey(id)).Bytes()
	if errors.Is(err, r.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load job %s", id)
	}
	var j domain.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, errors.Wrapf(err, "decode job %s", id)
	}
	return &j, nil
}

func (q *RedisQ) Length(ctx context.Context, stage domain.Stage) (int64, error) {
	n, err := q.rdb.ZCard(ctx, queueKey(stage)).Result()
	return n, errors.Wrapf(err, "length %s", stage)
}

func (q *RedisQ) Delayed(ctx context.Context, stage domain.Stage) (int64, error) {
	n, err := q.rdb.ZCard(ctx, delayKey(stage)).Result()
	return n, errors.Wrapf(err, "delayed %s", stage)
}

// PromoteDue moves delayed jobs whose run time has passed into the stage queue
// with their regular score. It returns how many jobs were moved.
func (q *RedisQ) PromoteDue(ctx context.Context, stage domain.Stage, now time.Time, batch int64) (int, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, delayKey(stage), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, errors.Wrapf(err, "due %s", stage)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	raws, err := q.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "load due %s", stage)
	}

	pipe := q.rdb.TxPipeline()
	moved := 0
	for i, id := range ids {
		pipe.ZRem(ctx, delayKey(stage), id)
		s, ok := raws[i].(string)
		if !ok {
			continue
		}
		var j domain.Job
		if err := json.Unmarshal([]byte(s), &j); err != nil {
			continue
		}
		pipe.ZAdd(ctx, queueKey(stage), r.Z{Score: j.Score(), Member: id})
		moved++
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "promote %s", stage)
	}
	return moved, nil
}
