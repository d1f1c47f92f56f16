package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/redress/internal/cache"
	"github.com/opensource-finance/redress/internal/compensation"
	"github.com/opensource-finance/redress/internal/domain"
	"github.com/opensource-finance/redress/internal/legacy"
	"github.com/opensource-finance/redress/internal/metrics"
	"github.com/opensource-finance/redress/internal/repository"
)

// createTestServer creates a server over a SQLite audit store in a temp dir.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	engine, err := legacy.NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	resultCache := cache.NewLRUCache(100)
	m := metrics.New()

	compCfg := domain.DefaultConfig().Compensation
	svc := compensation.NewService(compCfg,
		[]domain.Strategy{compensation.NewLegacyStrategy(engine), compensation.NewScenarioStrategy(compCfg)},
		compensation.WithRepository(repo),
		compensation.WithCache(resultCache),
		compensation.WithMetrics(m),
	)

	return NewServer(cfg, Dependencies{
		Service:    svc,
		Engine:     engine,
		Repository: repo,
		Cache:      resultCache,
		Metrics:    m,
	}, "test-v1")
}

func do(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func upiRequest() domain.CalculationRequest {
	return domain.CalculationRequest{
		Strategy: domain.StrategyScenario,
		Fields: map[string]string{
			"scenario_type":        "upi",
			"transaction_amount":   "2500",
			"transaction_date_iso": "2026-01-12",
			"resolved_date_iso":    "2026-01-20",
			"tat_days":             "1",
		},
	}
}

func TestCalculateEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("ScenarioEnvelope", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/compensation/calculate", upiRequest())
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.CalculationResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if result.ID == "" {
			t.Error("expected calculation id")
		}
		if !result.Eligible || result.Amount == nil || result.Amount.String() != "700" {
			t.Errorf("expected eligible 700, got eligible=%v amount=%v", result.Eligible, result.Amount)
		}
		if result.TenantID != "tenant-001" {
			t.Errorf("expected tenant 'tenant-001', got '%s'", result.TenantID)
		}
	})

	t.Run("DisplayFormat", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/compensation/calculate?format=display", upiRequest())
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp domain.CompensationResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.CompensationAmount != "700.00" {
			t.Errorf("expected '700.00', got '%s'", resp.CompensationAmount)
		}
		if resp.TransactionAmount != "2500.00" {
			t.Errorf("expected '2500.00', got '%s'", resp.TransactionAmount)
		}
		if resp.TransactionDate != "2026-01-12" {
			t.Errorf("expected '2026-01-12', got '%s'", resp.TransactionDate)
		}
		if resp.OtherInfo != "scenario_type=upi; calculator=upi" {
			t.Errorf("unexpected otherInfo '%s'", resp.OtherInfo)
		}
	})

	t.Run("IneligibleIsOK", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/compensation/calculate?format=display", domain.CalculationRequest{
			Strategy: domain.StrategyScenario,
			Fields:   map[string]string{"scenario_type": "lottery"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp domain.CompensationResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.CompensationEligible || resp.CompensationAmount != "none" || resp.TransactionAmount != "none" {
			t.Errorf("expected ineligible none response, got %+v", resp)
		}
		if !strings.HasSuffix(resp.OtherInfo, "eligible=false (missing or invalid fields)") {
			t.Errorf("unexpected otherInfo '%s'", resp.OtherInfo)
		}
	})

	t.Run("Legacy", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/compensation/calculate", domain.CalculationRequest{
			Strategy: domain.StrategyLegacy, ScenarioID: 5,
			TransactionDate: "2026-01-01", ReferenceDate: "2026-04-11", Amount: 100000,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.CalculationResult
		json.Unmarshal(rr.Body.Bytes(), &result)
		// 100000 * 0.08 * 100 / 365 = 2191.78, rounded to 2192.
		if result.Amount == nil || result.Amount.String() != "2192" {
			t.Errorf("expected 2192, got %v", result.Amount)
		}
	})

	t.Run("LegacyInvalidDate", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/compensation/calculate", domain.CalculationRequest{
			Strategy: domain.StrategyLegacy, ScenarioID: 1,
			TransactionDate: "2026/01/01", ReferenceDate: "2026-01-05",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownStrategy", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/compensation/calculate", domain.CalculationRequest{Strategy: "guess"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/compensation/calculate", "{invalid")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		body, _ := json.Marshal(upiRequest())
		req := httptest.NewRequest(http.MethodPost, "/compensation/calculate", bytes.NewBuffer(body))

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TenantIDNotASubjectToken", func(t *testing.T) {
		body, _ := json.Marshal(upiRequest())
		req := httptest.NewRequest(http.MethodPost, "/compensation/calculate", bytes.NewBuffer(body))
		req.Header.Set(TenantIDHeader, "bank.a")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/compensation/calculate", upiRequest())

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestBatchEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("MixedItems", func(t *testing.T) {
		good := upiRequest()
		rr := do(t, server, http.MethodPost, "/compensation/batch", BatchRequest{
			Requests: []*domain.CalculationRequest{&good, {Strategy: "guess"}},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp BatchResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 2 {
			t.Fatalf("expected 2 items, got %d", resp.Count)
		}
		if resp.Items[0].Result == nil || resp.Items[0].Error != "" {
			t.Errorf("expected first item to succeed, got %+v", resp.Items[0])
		}
		if resp.Items[1].Error == "" {
			t.Error("expected second item to fail")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/compensation/batch", BatchRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		reqs := make([]*domain.CalculationRequest, MaxBatchSize+1)
		for i := range reqs {
			reqs[i] = &domain.CalculationRequest{Strategy: domain.StrategyScenario}
		}
		rr := do(t, server, http.MethodPost, "/compensation/batch", BatchRequest{Requests: reqs})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestCalculationRetrieval(t *testing.T) {
	server := createTestServer(t)

	rr := do(t, server, http.MethodPost, "/compensation/calculate", upiRequest())
	var created domain.CalculationResult
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/compensation/calculations/"+created.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rec domain.CalculationRecord
		json.Unmarshal(rr.Body.Bytes(), &rec)
		if rec.ID != created.ID || rec.Result == nil || rec.Result.Scenario != "upi" {
			t.Errorf("unexpected record %+v", rec)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/compensation/calculations/does-not-exist", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/compensation/calculations?limit=5", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 calculation, got %d", resp.Count)
		}
	})

	t.Run("BadLimit", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/compensation/calculations?limit=lots", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestCatalogueEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Rules", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/compensation/rules", nil)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 27 {
			t.Errorf("expected 27 rules, got %d", resp.Count)
		}
	})

	t.Run("Rule", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/compensation/rules/14", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var rule legacy.Rule
		json.Unmarshal(rr.Body.Bytes(), &rule)
		if rule.ID != 14 || rule.Type != legacy.TypeLimitedRefund {
			t.Errorf("unexpected rule %+v", rule)
		}

		if rr := do(t, server, http.MethodGet, "/compensation/rules/99", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodGet, "/compensation/rules/abc", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Scenarios", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/compensation/scenarios", nil)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 10 {
			t.Errorf("expected 10 scenarios, got %d", resp.Count)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Status  string          `json:"status"`
			Version string          `json:"version"`
			Cache   *cache.LRUStats `json:"cache"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Cache == nil || resp.Cache.Capacity != 100 {
			t.Errorf("expected LRU stats with capacity 100, got %+v", resp.Cache)
		}

		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Version)
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		do(t, server, http.MethodPost, "/compensation/calculate", upiRequest())

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "redress_calculations_total") {
			t.Error("expected redress_calculations_total in metrics output")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", " my-tenant-123 ")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
	t.Run("CORSReflectsAllowedOrigin", func(t *testing.T) {
		handler := CORS([]string{"https://ops.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		preflight := func(origin string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodOptions, "/compensation/calculate", nil)
			req.Header.Set("Origin", origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			return rr
		}

		rr := preflight("https://ops.example")
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
			t.Errorf("expected origin to be reflected, got %q", got)
		}

		rr = preflight("https://elsewhere.example")
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no CORS headers, got %q", got)
		}
	})

	t.Run("CORSWithoutOriginPassesThrough", func(t *testing.T) {
		handler := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusTeapot {
			t.Errorf("expected handler status, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS headers without an Origin")
		}
	})

	t.Run("TracingMiddlewareKeepsCallerRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := GetRequestID(r.Context()); got != "req-42" {
				t.Errorf("expected request ID 'req-42', got %q", got)
			}
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) != "req-42" {
			t.Errorf("expected echoed request ID, got %q", rr.Header().Get(RequestIDHeader))
		}
	})
}
