package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON body of the admin metrics endpoint.
type Summary struct {
	HTTP          httpSummary   `json:"http"`
	SignIns       signInSummary `json:"signIns"`
	RateLimit     countInfo     `json:"rateLimit"`
	Notifications byLabel       `json:"notifications"`
	Scans         scanSummary   `json:"scans"`
	Realtime      realtimeInfo  `json:"realtime"`
	DB            dbInfo        `json:"db"`
	Server        serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type signInSummary struct {
	ByOutcome byLabel `json:"byOutcome"`
	Lockouts  float64 `json:"lockouts"`
}

type countInfo struct {
	Rejections float64 `json:"rejections"`
}

type byLabel map[string]float64

type scanSummary struct {
	Runs        byLabel `json:"runs"`
	Failures    byLabel `json:"failures"`
	P95Duration float64 `json:"p95Duration"`
}

type realtimeInfo struct {
	Connections float64 `json:"connections"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

// Handler returns an http.HandlerFunc that serves live metrics as JSON.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summary()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summary gathers the registry into a Summary.
func (m *Metrics) Summary() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	start := gaugeValue(fam["cockpit_server_start_time_seconds"])
	return &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["cockpit_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["cockpit_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["cockpit_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["cockpit_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["cockpit_http_request_duration_seconds"], 0.99),
		},
		SignIns: signInSummary{
			ByOutcome: countersByLabel(fam["cockpit_signins_total"], "outcome", nil),
			Lockouts:  sumCounter(fam["cockpit_account_lockouts_total"]),
		},
		RateLimit: countInfo{
			Rejections: sumCounter(fam["cockpit_ratelimit_rejections_total"]),
		},
		Notifications: countersByLabel(fam["cockpit_notifications_created_total"], "type", nil),
		Scans: scanSummary{
			Runs:        countersByLabel(fam["cockpit_alert_scans_total"], "pass", nil),
			Failures:    countersByLabel(fam["cockpit_alert_scans_total"], "pass", &labelFilter{"status", "error"}),
			P95Duration: histogramPercentile(fam["cockpit_alert_scan_duration_seconds"], 0.95),
		},
		Realtime: realtimeInfo{
			Connections: gaugeValue(fam["cockpit_websocket_connections"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["cockpit_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["cockpit_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["cockpit_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

// --- Prometheus metric helpers ---

type labelFilter struct {
	name, value string
}

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetGauge() == nil {
		return 0
	}
	return ms[0].GetGauge().GetValue()
}

func labelValue(m *dto.Metric, name string) (string, bool) {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue(), true
		}
	}
	return "", false
}

// countersByLabel sums counters grouped by the value of label key, keeping
// only series that match filter when one is given.
func countersByLabel(f *dto.MetricFamily, key string, filter *labelFilter) byLabel {
	out := byLabel{}
	if f == nil {
		return out
	}
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		if filter != nil {
			if v, ok := labelValue(m, filter.name); !ok || v != filter.value {
				continue
			}
		}
		if v, ok := labelValue(m, key); ok {
			out[v] += m.GetCounter().GetValue()
		}
	}
	return out
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		if code, ok := labelValue(m, "status_code"); ok && len(code) > 0 && code[0] >= '5' {
			errors += v
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
