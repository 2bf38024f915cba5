package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルに一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordLogin_IncrementsCounterWithLabels はIdP・結果別にログイン数が記録されることを検証する。
func TestRecordLogin_IncrementsCounterWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("google", "created")
	c.RecordLogin("google", "created")
	c.RecordLogin("facebook", "merged")

	m := findMetric(t, reg, "academy_oauth_logins_total", map[string]string{"provider": "google", "outcome": "created"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("google/created = %v, want 2", v)
	}
	m = findMetric(t, reg, "academy_oauth_logins_total", map[string]string{"provider": "facebook", "outcome": "merged"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("facebook/merged = %v, want 1", v)
	}
}

func TestRecordIdentityConflict_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIdentityConflict()

	m := findMetric(t, reg, "academy_identity_conflicts_total", nil)
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("identity_conflicts_total = %v, want 1", v)
	}
}

func TestRecordTokenRefresh_SplitsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokenRefresh(true)
	c.RecordTokenRefresh(false)
	c.RecordTokenRefresh(false)

	if v := findMetric(t, reg, "academy_token_refresh_total", map[string]string{"result": "success"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("success = %v, want 1", v)
	}
	if v := findMetric(t, reg, "academy_token_refresh_total", map[string]string{"result": "failure"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("failure = %v, want 2", v)
	}
}

func TestRecordAuthFailure_IncrementsCounterWithReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthFailure("expired")

	m := findMetric(t, reg, "academy_auth_failures_total", map[string]string{"reason": "expired"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("auth_failures_total{reason=expired} = %v, want 1", v)
	}
}

func TestRecordSessionCache_IncrementsCounterWithResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionCache(CacheHit)
	c.RecordSessionCache(CacheMiss)
	c.RecordSessionCache(CacheHit)

	if v := findMetric(t, reg, "academy_session_cache_total", map[string]string{"result": CacheHit}).GetCounter().GetValue(); v != 2 {
		t.Errorf("hit = %v, want 2", v)
	}
	if v := findMetric(t, reg, "academy_session_cache_total", map[string]string{"result": CacheMiss}).GetCounter().GetValue(); v != 1 {
		t.Errorf("miss = %v, want 1", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコード別に記録されることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)
	c.RecordHTTPStatus(401)

	if v := findMetric(t, reg, "academy_http_status_total", map[string]string{"status_code": "401"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("status 401 = %v, want 2", v)
	}
}

func TestRecordResolveLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordResolveLatency(25 * time.Millisecond)

	m := findMetric(t, reg, "academy_identity_resolve_seconds", nil)
	if n := m.GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("sample count = %d, want 1", n)
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリ間で干渉しないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordIdentityConflict()

	if v := findMetric(t, reg2, "academy_identity_conflicts_total", nil).GetCounter().GetValue(); v != 0 {
		t.Errorf("reg2 identity_conflicts_total = %v, want 0", v)
	}
}
