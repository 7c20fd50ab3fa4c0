package trigger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/redbutton/internal/apperr"
	"github.com/wisbric/redbutton/pkg/alarm"
)

func TestIdempotencyBucket(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b0 := IdempotencyBucket(base)
	if IdempotencyBucket(base.Add(9*time.Second)) != b0 {
		t.Error("times 9s apart within the window must share a bucket")
	}
	if IdempotencyBucket(base.Add(10*time.Second)) == b0 {
		t.Error("times 10s apart must land in different buckets")
	}
}

func TestMinuteBucket(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	if MinuteBucket(base) != MinuteBucket(base.Add(29*time.Second)) {
		t.Error("same minute must share a bucket")
	}
	if MinuteBucket(base) == MinuteBucket(base.Add(31*time.Second)) {
		t.Error("next minute must get a new bucket")
	}
}

func TestKeysHideToken(t *testing.T) {
	const token = "super-secret-device-token"

	ik := IdempotencyKey(token, 12345)
	rk := RateKey(token, 678)
	for _, key := range []string{ik, rk} {
		if strings.Contains(key, token) {
			t.Errorf("key %q leaks the device token", key)
		}
	}
	if !strings.HasPrefix(ik, "idemp:") {
		t.Errorf("idempotency key prefix missing: %q", ik)
	}
	if !strings.HasPrefix(rk, "rl:") {
		t.Errorf("rate key prefix missing: %q", rk)
	}
	if IdempotencyKey(token, 1) == IdempotencyKey(token, 2) {
		t.Error("different buckets must derive different keys")
	}
}

func newTestKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewKV(rdb), mr
}

func TestKVReserveAndRelease(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()
	key := IdempotencyKey("tok", 1)

	ok, winner, err := kv.Reserve(ctx, key, "alarm-1")
	if err != nil || !ok || winner != "" {
		t.Fatalf("first Reserve = (%v, %q, %v), want (true, \"\", nil)", ok, winner, err)
	}

	ok, winner, err = kv.Reserve(ctx, key, "alarm-2")
	if err != nil || ok || winner != "alarm-1" {
		t.Fatalf("second Reserve = (%v, %q, %v), want (false, alarm-1, nil)", ok, winner, err)
	}

	if ttl := mr.TTL(key); ttl <= 0 || ttl > idempotencyTTL {
		t.Errorf("reservation TTL = %v, want (0, %v]", ttl, idempotencyTTL)
	}

	if err := kv.Release(ctx, key); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	v, err := kv.Lookup(ctx, key)
	if err != nil || v != "" {
		t.Fatalf("Lookup after release = (%q, %v), want empty", v, err)
	}

	ok, _, err = kv.Reserve(ctx, key, "alarm-3")
	if err != nil || !ok {
		t.Fatalf("Reserve after release should succeed, got (%v, %v)", ok, err)
	}
}

func TestKVRateCounter(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()
	key := RateKey("tok", 42)

	for want := int64(1); want <= 3; want++ {
		got, err := kv.IncrRate(ctx, key)
		if err != nil {
			t.Fatalf("IncrRate() error: %v", err)
		}
		if got != want {
			t.Errorf("IncrRate() = %d, want %d", got, want)
		}
		// The increment and the TTL are one script, so the counter
		// carries an expiry from its first moment on.
		if ttl := mr.TTL(key); ttl <= 0 || ttl > rateTTL {
			t.Errorf("rate counter TTL after incr %d = %v, want (0, %v]", want, ttl, rateTTL)
		}
	}

	// The counter expires with its window; a new window starts at 1.
	mr.FastForward(rateTTL + time.Second)
	got, err := kv.IncrRate(ctx, key)
	if err != nil || got != 1 {
		t.Errorf("IncrRate after expiry = (%d, %v), want 1", got, err)
	}
}

// newPipelineService builds a Service that exercises the KV paths with
// alarm reads answered by read instead of a database.
func newPipelineService(t *testing.T, read func(context.Context, uuid.UUID) (alarm.Alarm, error)) (*Service, *KV, time.Time) {
	t.Helper()
	kv, _ := newTestKV(t)
	now := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	svc := &Service{
		kv:        kv,
		opts:      Options{RateLimitPerMinute: 10},
		logger:    slog.Default(),
		now:       func() time.Time { return now },
		newUUID:   uuid.New,
		newSecret: newAckToken,
		readAlarm: read,
	}
	return svc, kv, now
}

func TestTriggerReportsDuplicateWithinBucket(t *testing.T) {
	winner := uuid.New()
	svc, kv, now := newPipelineService(t, func(context.Context, uuid.UUID) (alarm.Alarm, error) {
		return alarm.Alarm{ID: winner, Status: alarm.StatusAcknowledged}, nil
	})

	ctx := context.Background()
	key := IdempotencyKey("tok", IdempotencyBucket(now))
	if _, _, err := kv.Reserve(ctx, key, winner.String()); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Trigger(ctx, Input{Token: "tok"})
	if err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}
	if !res.Duplicate || res.AlarmID != winner {
		t.Errorf("Trigger() = %+v, want duplicate of %s", res, winner)
	}
	if res.Status != string(alarm.StatusAcknowledged) {
		t.Errorf("Status = %q, want the winner's current status", res.Status)
	}
}

func TestTriggerKeepsReservationOnStoreFailure(t *testing.T) {
	// An unreadable winner is not a stale one. The request fails and
	// the reservation stays, so no second alarm joins the bucket.
	winner := uuid.New()
	svc, kv, now := newPipelineService(t, func(context.Context, uuid.UUID) (alarm.Alarm, error) {
		return alarm.Alarm{}, errors.New("connection refused")
	})

	ctx := context.Background()
	key := IdempotencyKey("tok", IdempotencyBucket(now))
	if _, _, err := kv.Reserve(ctx, key, winner.String()); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Trigger(ctx, Input{Token: "tok"})
	if apperr.KindOf(err) != apperr.KindTransient {
		t.Errorf("kind = %v, want transient", apperr.KindOf(err))
	}
	v, err := kv.Lookup(ctx, key)
	if err != nil || v != winner.String() {
		t.Errorf("reservation after failure = (%q, %v), want winner intact", v, err)
	}
}

func TestResolveExisting(t *testing.T) {
	winner := uuid.New()

	t.Run("in-flight winner reports triggered", func(t *testing.T) {
		svc, _, _ := newPipelineService(t, func(context.Context, uuid.UUID) (alarm.Alarm, error) {
			return alarm.Alarm{}, pgx.ErrNoRows
		})
		res, ok, err := svc.resolveExisting(context.Background(), winner.String())
		if err != nil || !ok {
			t.Fatalf("resolveExisting = (ok=%v, err=%v), want resolved", ok, err)
		}
		if res.Status != string(alarm.StatusTriggered) {
			t.Errorf("Status = %q, want TRIGGERED while the row is uncommitted", res.Status)
		}
	})

	t.Run("garbage value is stale", func(t *testing.T) {
		svc, _, _ := newPipelineService(t, nil)
		_, ok, err := svc.resolveExisting(context.Background(), "not-a-uuid")
		if ok || err != nil {
			t.Errorf("resolveExisting = (ok=%v, err=%v), want stale without error", ok, err)
		}
	})

	t.Run("store failure is an error", func(t *testing.T) {
		svc, _, _ := newPipelineService(t, func(context.Context, uuid.UUID) (alarm.Alarm, error) {
			return alarm.Alarm{}, errors.New("timeout")
		})
		_, ok, err := svc.resolveExisting(context.Background(), winner.String())
		if ok || apperr.KindOf(err) != apperr.KindTransient {
			t.Errorf("resolveExisting = (ok=%v, err=%v), want transient error", ok, err)
		}
	})
}

func TestTriggerShapeValidation(t *testing.T) {
	svc := &Service{logger: slog.Default()}

	_, err := svc.Trigger(context.Background(), Input{Token: ""})
	if apperr.KindOf(err) != apperr.KindInvalid {
		t.Errorf("empty token: kind = %v, want invalid", apperr.KindOf(err))
	}

	_, err = svc.Trigger(context.Background(), Input{Token: "tok", Severity: "P9"})
	if apperr.KindOf(err) != apperr.KindInvalid {
		t.Errorf("bad severity: kind = %v, want invalid", apperr.KindOf(err))
	}
}
