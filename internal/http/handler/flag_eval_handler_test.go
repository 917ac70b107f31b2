package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/repository"
	"github.com/autumn-ma/django-culture/internal/service"
)

var handlerTestDBSeq atomic.Int64

func newEvalRouter(t *testing.T) (*gorm.DB, http.Handler) {
	t.Helper()
	dsn := fmt.Sprintf("file:handler_test_%d?mode=memory&cache=shared", handlerTestDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.FeatureFlag{}, &domain.FeatureFlagUserOverride{}, &domain.FeatureFlagAuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	flags := repository.NewFeatureFlagRepository(db)
	overrides := repository.NewOverrideRepository(db)
	audit := repository.NewAuditLogRepository(db)
	users := repository.NewUserRepository(db)
	svc := service.NewFlagService(flags, overrides, audit, service.NewInMemoryEvaluationCacheStore(), service.NewRolloutEvaluator(), nil, time.Minute)
	h := NewFlagEvalHandler(svc, users, nil)

	r := chi.NewRouter()
	r.Get("/flags/evaluate", h.EvaluateAll)
	r.Get("/flags/evaluate/{name}", h.EvaluateOne)
	return db, r
}

func evalGet(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return rec, body
}

func TestEvaluateOneRejectsInvalidNames(t *testing.T) {
	_, router := newEvalRouter(t)

	for _, name := range []string{"has%20space", "-leading-dash", "sp%C3%A9cial"} {
		rec, _ := evalGet(t, router, "/flags/evaluate/"+name)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("name %q: status = %d", name, rec.Code)
		}
	}
}

func TestEvaluateOneUnknownFlagIsDisabled(t *testing.T) {
	_, router := newEvalRouter(t)

	rec, body := evalGet(t, router, "/flags/evaluate/never-created")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result service.FlagEvaluation
	if err := json.Unmarshal(body["data"], &result); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if result.Enabled {
		t.Fatal("unknown flag must evaluate disabled")
	}
}

func TestEvaluateOneNormalizesAndServesActiveFlag(t *testing.T) {
	db, router := newEvalRouter(t)
	flag := &domain.FeatureFlag{Name: "beta-banner", IsActive: true, RolloutStrategy: domain.StrategyAll}
	if err := db.Create(flag).Error; err != nil {
		t.Fatalf("seed flag: %v", err)
	}

	rec, body := evalGet(t, router, "/flags/evaluate/Beta-Banner")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var result service.FlagEvaluation
	if err := json.Unmarshal(body["data"], &result); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if result.Name != "beta-banner" || !result.Enabled {
		t.Fatalf("result = %+v", result)
	}
}

func TestEvaluateAllReturnsEveryFlag(t *testing.T) {
	db, router := newEvalRouter(t)
	for _, f := range []*domain.FeatureFlag{
		{Name: "on-for-all", IsActive: true, RolloutStrategy: domain.StrategyAll},
		{Name: "switched-off", IsActive: false, RolloutStrategy: domain.StrategyAll},
	} {
		if err := db.Create(f).Error; err != nil {
			t.Fatalf("seed flag: %v", err)
		}
	}

	rec, body := evalGet(t, router, "/flags/evaluate")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var data struct {
		Items []service.FlagEvaluation `json:"items"`
	}
	if err := json.Unmarshal(body["data"], &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	got := map[string]bool{}
	for _, item := range data.Items {
		got[item.Name] = item.Enabled
	}
	if len(got) != 2 || !got["on-for-all"] || got["switched-off"] {
		t.Fatalf("evaluations = %v", got)
	}
}
