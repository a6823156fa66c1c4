package fipe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fipe-harvester/models"
)

type countingLimiter struct{ calls atomic.Int32 }

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

type recordingMetrics struct {
	mu        sync.Mutex
	issued    int
	succeeded int
	failed    int
	throttled []time.Duration
}

func (m *recordingMetrics) RequestIssued(string) {
	m.mu.Lock()
	m.issued++
	m.mu.Unlock()
}

func (m *recordingMetrics) RequestSucceeded(string) {
	m.mu.Lock()
	m.succeeded++
	m.mu.Unlock()
}

func (m *recordingMetrics) RequestThrottled(_ string, wait time.Duration) {
	m.mu.Lock()
	m.throttled = append(m.throttled, wait)
	m.mu.Unlock()
}

func (m *recordingMetrics) RequestFailed(string, error) {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

type harness struct {
	client  *Client
	limiter *countingLimiter
	metrics *recordingMetrics
	hits    *atomic.Int32
	waits   []time.Duration
}

// newHarness starts a fake upstream; handler receives the zero-based hit index.
func newHarness(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, hit int)) *harness {
	t.Helper()

	h := &harness{
		limiter: &countingLimiter{},
		metrics: &recordingMetrics{},
		hits:    &atomic.Int32{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit := int(h.hits.Add(1)) - 1
		handler(w, r, hit)
	}))
	t.Cleanup(srv.Close)

	h.client = NewClient(Options{
		BaseURL:          srv.URL,
		VehicleType:      1,
		Timeout:          5 * time.Second,
		MaxRetries:       3,
		RetryDelay:       time.Millisecond,
		ThrottleAttempts: 4,
		ThrottleDelay:    2 * time.Second,
	}, h.limiter, h.metrics, nil)
	h.client.sleep = func(_ context.Context, d time.Duration) error {
		h.waits = append(h.waits, d)
		return nil
	}
	return h
}

func TestCallThrottleBackoffIncreases(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, _ *http.Request, hit int) {
		if hit < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[{"Label":"Acura","Value":"1"},{"Label":"Agrale","Value":"2"}]`))
	})

	brands, err := h.client.Brands(context.Background(), 300)
	require.NoError(t, err)
	assert.Equal(t, []models.Brand{{Code: "1", Name: "Acura"}, {Code: "2", Name: "Agrale"}}, brands)

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, h.waits)
	for i := 1; i < len(h.waits); i++ {
		assert.Greater(t, h.waits[i], h.waits[i-1])
	}
	assert.Equal(t, int32(4), h.limiter.calls.Load(), "every attempt acquires a permit")
	assert.Len(t, h.metrics.throttled, 3)
	assert.Equal(t, 1, h.metrics.succeeded)
	assert.Equal(t, 4, h.metrics.issued)
}

func TestCallThrottleExhaustion(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := h.client.Brands(context.Background(), 300)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.ErrorIs(t, err, models.ErrTransientUpstream)
	assert.Equal(t, int32(4), h.hits.Load(), "throttling does not consume the retry budget")
	assert.Len(t, h.waits, 3)
}

func TestCallTransportRetry(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		wantErr  bool
		wantHits int32
	}{
		{name: "recovers after 5xx", failures: 2, wantErr: false, wantHits: 3},
		{name: "exhausts retry budget", failures: 10, wantErr: true, wantHits: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(w http.ResponseWriter, _ *http.Request, hit int) {
				if hit < tt.failures {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				_, _ = w.Write([]byte(`[{"Codigo":300,"Mes":"outubro/2023 "}]`))
			})

			ref, err := h.client.CurrentReference(context.Background())
			assert.Equal(t, tt.wantHits, h.hits.Load())
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrTransientUpstream)
				assert.False(t, errors.Is(err, models.ErrRateLimited))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.ReferencePeriod{Code: 300, Label: "outubro/2023"}, ref)
		})
	}
}

func TestCallTerminalFailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "html body", status: http.StatusOK, body: `<html>blocked</html>`, wantErr: models.ErrMalformedResponse},
		{name: "vendor error envelope", status: http.StatusOK, body: `{"codigo":"0","erro":"nadaencontrado"}`, wantErr: models.ErrUpstreamRejected},
		{name: "vendor error with numeric code", status: http.StatusOK, body: `{"codigo":2,"erro":"Parâmetros inválidos"}`, wantErr: models.ErrUpstreamRejected},
		{name: "bad request", status: http.StatusBadRequest, body: `bad`, wantErr: models.ErrUpstreamRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := h.client.Brands(context.Background(), 300)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, errors.Is(err, models.ErrTransientUpstream))
			assert.Equal(t, int32(1), h.hits.Load())
			assert.Equal(t, 1, h.metrics.failed)
		})
	}
}

func TestCallCancelledWhileThrottled(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	h.client.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	_, err := h.client.Brands(context.Background(), 300)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), h.hits.Load())
}

func TestModelsPayloadAndEnvelope(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/"+EndpointModels, r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "300", r.PostForm.Get("codigoTabelaReferencia"))
		assert.Equal(t, "1", r.PostForm.Get("codigoTipoVeiculo"))
		assert.Equal(t, "21", r.PostForm.Get("codigoMarca"))

		_, _ = w.Write([]byte(`{"Modelos":[{"Label":"147 C/ CL","Value":4828}],"Anos":[]}`))
	})

	ms, err := h.client.Models(context.Background(), 300, "21")
	require.NoError(t, err)
	assert.Equal(t, []models.Model{{Code: "4828", Name: "147 C/ CL", BrandCode: "21"}}, ms)
}

func TestModelYears(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "4828", r.PostForm.Get("codigoModelo"))
		_, _ = w.Write([]byte(`[{"Label":"32000 Gasolina","Value":"32000-1"},{"Label":"1992 Diesel","Value":"1992-3"}]`))
	})

	ys, err := h.client.ModelYears(context.Background(), 300, "21", "4828")
	require.NoError(t, err)
	require.Len(t, ys, 2)
	assert.True(t, ys[0].ZeroKm())
	assert.Equal(t, models.ModelYear{Code: "1992-3", Label: "1992 Diesel", ModelCode: "4828", Year: 1992, FuelType: 3}, ys[1])
}

func TestPrice(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "2014", r.PostForm.Get("anoModelo"))
		assert.Equal(t, "1", r.PostForm.Get("codigoTipoCombustivel"))
		assert.Equal(t, "tradicional", r.PostForm.Get("tipoConsulta"))
		_, _ = w.Write([]byte(`{"Valor":"R$ 45.231,90","Marca":"Fiat","Modelo":"Uno","AnoModelo":2014,` +
			`"Combustivel":"Gasolina","CodigoFipe":"001267-0","MesReferencia":"outubro de 2023 ","SiglaCombustivel":"G"}`))
	})

	year := models.ModelYear{Code: "2014-1", Year: 2014, FuelType: 1}
	p, err := h.client.Price(context.Background(), 300, "21", "4828", year)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("45231.90")))
	assert.Equal(t, models.PriceKey{ModelCode: "4828", YearCode: "2014-1", ReferenceCode: 300}, p.Key())
	assert.Equal(t, "001267-0", p.FipeCode)
	assert.Equal(t, "Gasolina", p.Fuel)
}

func TestPriceUnparseable(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		_, _ = w.Write([]byte(`{"Valor":"consulte"}`))
	})

	_, err := h.client.Price(context.Background(), 300, "21", "4828", models.ModelYear{Code: "2014-1", Year: 2014, FuelType: 1})
	assert.ErrorIs(t, err, models.ErrMalformedResponse)
}

func TestCodeUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want Code
		ok   bool
	}{
		{`"21"`, "21", true},
		{`4828`, "4828", true},
		{`"2014-1"`, "2014-1", true},
		{`null`, "", true},
		{`true`, "", false},
	}
	for _, tt := range tests {
		var c Code
		err := c.UnmarshalJSON([]byte(tt.in))
		if tt.ok && err != nil {
			t.Errorf("UnmarshalJSON(%s) error = %v", tt.in, err)
			continue
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("UnmarshalJSON(%s) expected error", tt.in)
			}
			continue
		}
		if c != tt.want {
			t.Errorf("UnmarshalJSON(%s) = %q, want %q", tt.in, c, tt.want)
		}
	}
}

func TestPriceVendorErrorNumericCode(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		_, _ = w.Write([]byte(`{"codigo":2,"erro":"Parâmetros inválidos"}`))
	})

	_, err := h.client.Price(context.Background(), 300, "21", "4828", models.ModelYear{Code: "2014-1", Year: 2014, FuelType: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUpstreamRejected)
	assert.False(t, errors.Is(err, models.ErrMalformedResponse))
	assert.Contains(t, err.Error(), "codigo 2")
}
