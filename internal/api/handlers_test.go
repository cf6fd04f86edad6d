package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dairy_delivery/internal/api"
	"dairy_delivery/internal/batch"
	"dairy_delivery/internal/domain"
	"dairy_delivery/internal/lock"
	"dairy_delivery/internal/proof"
	"dairy_delivery/internal/queue"
	"dairy_delivery/internal/rewards"
	"dairy_delivery/internal/subscription"
	"dairy_delivery/internal/testutil"
	"dairy_delivery/internal/utils"
	"dairy_delivery/internal/wallet"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const secret = "test-secret"

type env struct {
	router   *gin.Engine
	gdb      *gorm.DB
	rdb      *redis.Client
	queue    *queue.RedisQueue
	worker   *batch.Worker
	customer *domain.User
	staff    *domain.User
	admin    *domain.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, gdb := testutil.OpenStore(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	rec := &testutil.RecordingNotifier{}
	cache := utils.NewCache(rdb, time.Minute)
	ws := wallet.NewService(st, cache, rec, wallet.Options{Currency: "INR", LowBalanceThreshold: 1000})
	hook := rewards.NewHook(ws, rec, rewards.Options{ReferralBonus: 5000, StreakBonus: 10000, StreakTarget: 30})
	q := queue.NewRedisQueue(rdb, queue.Options{Name: "deliveries"})
	worker := batch.NewWorker(st, ws, rec)
	dispatcher := batch.NewDispatcher(subscription.NewResolver(st), q, worker)

	router := api.NewRouter(api.Deps{
		DB:           gdb,
		Redis:        rdb,
		Cache:        cache,
		Wallet:       ws,
		Proof:        proof.NewService(st, ws, hook, rec),
		Dispatcher:   dispatcher,
		Worker:       worker,
		Locker:       lock.NewRedisLocker(rdb),
		JWTSecret:    secret,
		BatchLockTTL: time.Minute,
	})
	return &env{
		router:   router,
		gdb:      gdb,
		rdb:      rdb,
		queue:    q,
		worker:   worker,
		customer: testutil.SeedUser(t, gdb, domain.RoleCustomer, "north", 10000),
		staff:    testutil.SeedUser(t, gdb, domain.RoleStaff, "north", -1),
		admin:    testutil.SeedUser(t, gdb, domain.RoleAdmin, "", -1),
	}
}

func (e *env) do(t *testing.T, user *domain.User, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		token, err := utils.GenerateJWT(user.ID, user.Role, secret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	code, body := e.do(t, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuth(t *testing.T) {
	e := newEnv(t)

	code, _ := e.do(t, nil, http.MethodGet, "/wallet", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	code, body := e.do(t, e.customer, http.MethodGet, "/admin/deliveries", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "ACCESS_DENIED", body["error"])

	code, _ = e.do(t, e.admin, http.MethodPost, "/staff/proofs/verify", map[string]string{"code": "X"})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestWalletEndpoints(t *testing.T) {
	e := newEnv(t)
	fresh := testutil.SeedUser(t, e.gdb, domain.RoleCustomer, "north", -1)

	code, body := e.do(t, fresh, http.MethodGet, "/wallet", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "WALLET_NOT_FOUND", body["error"])

	code, _ = e.do(t, fresh, http.MethodPost, "/wallet", nil)
	assert.Equal(t, http.StatusCreated, code)
	code, _ = e.do(t, fresh, http.MethodPost, "/wallet", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, fresh, http.MethodPost, "/wallet/topup", map[string]any{"amount": 0, "reference": "r1"})
	assert.Equal(t, http.StatusBadRequest, code)

	topup := map[string]any{"amount": 2500, "reference": "upi-123"}
	code, body = e.do(t, fresh, http.MethodPost, "/wallet/topup", topup)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, false, body["replayed"])
	code, body = e.do(t, fresh, http.MethodPost, "/wallet/topup", topup)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["replayed"])

	code, body = e.do(t, fresh, http.MethodGet, "/wallet", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2500, body["wallet"].(map[string]any)["balance"])

	code, body = e.do(t, fresh, http.MethodGet, "/wallet/ledger", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TopUpReference(fresh.ID, "upi-123"), entries[0].(map[string]any)["reference_id"])
}

func TestGenerateDispatchesAndLocks(t *testing.T) {
	e := newEnv(t)
	testutil.SeedSubscription(t, e.gdb, e.customer.ID, "north", "2026-10-01", 3000, 1)
	req := map[string]string{"date": "2026-10-20", "locality": "north"}

	code, body := e.do(t, e.admin, http.MethodPost, "/admin/deliveries/generate", map[string]string{"date": "tomorrow", "locality": "north"})
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = e.do(t, e.admin, http.MethodPost, "/admin/deliveries/generate", req)
	require.Equal(t, http.StatusAccepted, code, body)
	assert.EqualValues(t, 1, body["eligible"])
	assert.EqualValues(t, 1, body["enqueued"])

	// Nothing is created until a worker consumes the job
	var count int64
	require.NoError(t, e.gdb.Model(&domain.DailyDelivery{}).Count(&count).Error)
	assert.Zero(t, count)
	ok, err := e.queue.ProcessNext(context.Background(), "test", e.worker.HandleMessage)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, e.gdb.Model(&domain.DailyDelivery{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Another holder owns the lock
	other := lock.NewRedisLocker(e.rdb)
	held, err := other.Acquire(context.Background(), lock.GenerateKey("2026-10-20", "north"), time.Minute)
	require.NoError(t, err)
	require.True(t, held)
	code, body = e.do(t, e.admin, http.MethodPost, "/admin/deliveries/generate", req)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "BATCH_IN_PROGRESS", body["error"])
	require.NoError(t, other.Release(context.Background(), lock.GenerateKey("2026-10-20", "north")))

	// Lock released after a run, so reruns are accepted and stay idempotent downstream
	code, _ = e.do(t, e.admin, http.MethodPost, "/admin/deliveries/generate", req)
	assert.Equal(t, http.StatusAccepted, code)
	_, err = e.queue.ProcessNext(context.Background(), "test", e.worker.HandleMessage)
	require.NoError(t, err)
	require.NoError(t, e.gdb.Model(&domain.DailyDelivery{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFieldFlow(t *testing.T) {
	e := newEnv(t)
	subA := testutil.SeedSubscription(t, e.gdb, e.customer.ID, "north", "2026-10-01", 3000, 1)
	subB := testutil.SeedSubscription(t, e.gdb, e.customer.ID, "north", "2026-10-01", 2000, 1)

	code, body := e.do(t, e.admin, http.MethodPost, "/admin/deliveries/fulfill", map[string]any{"subscription_id": subA.ID, "date": "2026-10-20"})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, batch.OutcomeCreated, body["outcome"])
	proofCode := body["proof_code"].(string)

	code, body = e.do(t, e.admin, http.MethodPost, "/admin/deliveries/fulfill", map[string]any{"subscription_id": subA.ID, "date": "2026-10-20"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, batch.OutcomeDuplicateSkipped, body["outcome"])

	code, body = e.do(t, e.admin, http.MethodPost, "/admin/deliveries/fulfill", map[string]any{"subscription_id": subB.ID, "date": "2026-10-20"})
	require.Equal(t, http.StatusCreated, code, body)
	missedID := uint(body["delivery_id"].(float64))

	code, body = e.do(t, e.admin, http.MethodPost, "/admin/deliveries/fulfill", map[string]any{"subscription_id": 999, "date": "2026-10-20"})
	assert.Equal(t, http.StatusNotFound, code, body)

	// Not out for delivery yet
	code, body = e.do(t, e.staff, http.MethodPost, "/staff/proofs/verify", map[string]string{"code": proofCode})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_TRANSITION", body["error"])

	code, body = e.do(t, e.staff, http.MethodPost, "/staff/route/start", map[string]string{"date": "2026-10-20"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, body["delivery_ids"], 2)

	code, body = e.do(t, e.staff, http.MethodPost, "/staff/proofs/verify", map[string]string{"code": proofCode})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, proof.StatusDelivered, body["status"])
	code, body = e.do(t, e.staff, http.MethodPost, "/staff/proofs/verify", map[string]string{"code": proofCode})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, proof.StatusAlreadyScanned, body["status"])

	code, body = e.do(t, e.staff, http.MethodPost, "/staff/proofs/verify", map[string]string{"code": "ZZZZZZZZZZZZZZZZ"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "INVALID_CODE", body["error"])

	path := fmt.Sprintf("/staff/deliveries/%d/exception", missedID)
	code, body = e.do(t, e.staff, http.MethodPost, path, map[string]string{"reason": "Gate locked"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, proof.StatusMissed, body["status"])
	assert.EqualValues(t, 2000, body["refund_amount"])
	code, body = e.do(t, e.staff, http.MethodPost, path, map[string]string{"reason": "Gate locked"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, proof.StatusAlreadyRefunded, body["status"])

	code, _ = e.do(t, e.staff, http.MethodPost, "/staff/deliveries/abc/exception", map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	// 10000 - 3000 - 2000 + 2000 refund
	code, body = e.do(t, e.admin, http.MethodGet, fmt.Sprintf("/admin/wallets/%d/reconcile", e.customer.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 7000, body["balance"])
	assert.Equal(t, true, body["consistent"])

	code, body = e.do(t, e.admin, http.MethodGet, "/admin/deliveries?date=2026-10-20&status=missed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, body = e.do(t, e.admin, http.MethodGet, fmt.Sprintf("/admin/ledger?owner_id=%d&type=rollover_refund", e.customer.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])
	assert.Equal(t, false, body["cached"])
	code, body = e.do(t, e.admin, http.MethodGet, fmt.Sprintf("/admin/ledger?owner_id=%d&type=rollover_refund", e.customer.ID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["cached"])
}

func TestBatchActionsEndpoint(t *testing.T) {
	e := newEnv(t)
	sub := testutil.SeedSubscription(t, e.gdb, e.customer.ID, "north", "2026-10-01", 3000, 1)
	_, err := e.worker.Process(context.Background(), batch.JobFromSubscription(*sub, "2026-10-20"))
	require.NoError(t, err)
	var pc domain.ProofCode
	require.NoError(t, e.gdb.First(&pc).Error)

	code, _ := e.do(t, e.staff, http.MethodPost, "/staff/route/start", map[string]string{"date": "2026-10-20"})
	require.Equal(t, http.StatusOK, code)

	code, body := e.do(t, e.staff, http.MethodPost, "/staff/actions/batch", map[string]any{"actions": []proof.Action{
		{Type: proof.ActionVerifyProof, Code: pc.Code},
		{Type: proof.ActionVerifyProof, Code: "NOPE"},
		{Type: proof.ActionVerifyProof, Code: pc.Code},
	}})
	require.Equal(t, http.StatusOK, code, body)
	results := body["results"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, proof.StatusDelivered, results[0].(map[string]any)["status"])
	assert.Equal(t, "INVALID_CODE", results[1].(map[string]any)["error"])
	assert.Equal(t, proof.StatusAlreadyScanned, results[2].(map[string]any)["status"])

	code, _ = e.do(t, e.staff, http.MethodPost, "/staff/actions/batch", map[string]any{"actions": []proof.Action{}})
	assert.Equal(t, http.StatusBadRequest, code)
}
