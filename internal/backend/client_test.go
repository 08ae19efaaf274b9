package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// --- helpers ---

func backendServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	return NewHTTPClient(baseURL, 5*time.Second)
}

// --- CreateJob ---

func TestCreateJob_Training(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/training/train" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["split_id"] != "split-1" {
			t.Errorf("unexpected split_id: %v", body["split_id"])
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "j1", "status": "started"})
	})

	c := newTestClient(t, ts.URL)
	id, err := c.CreateJob(context.Background(), models.JobTypeTraining, map[string]any{"split_id": "split-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "j1" {
		t.Errorf("expected job id j1, got %q", id)
	}
}

func TestCreateJob_UnknownType(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	_, err := c.CreateJob(context.Background(), models.JobType("deploy"), nil)
	if !errors.Is(err, ErrUnknownJobType) {
		t.Errorf("expected ErrUnknownJobType, got %v", err)
	}
}

func TestCreateJob_BadRequestCarriesMessage(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "split_id is required"})
	})

	c := newTestClient(t, ts.URL)
	_, err := c.CreateJob(context.Background(), models.JobTypeTraining, nil)
	if !errors.Is(err, ErrBackendStatus) {
		t.Fatalf("expected ErrBackendStatus, got %v", err)
	}
	if want := "split_id is required"; !strings.Contains(err.Error(), want) {
		t.Errorf("expected error to contain %q, got %q", want, err.Error())
	}
}

func TestCreateJob_MissingJobID(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "started"})
	})

	c := newTestClient(t, ts.URL)
	_, err := c.CreateJob(context.Background(), models.JobTypeDataGeneration, nil)
	if !errors.Is(err, ErrBackendStatus) {
		t.Errorf("expected ErrBackendStatus, got %v", err)
	}
}

// --- JobStatus ---

func TestJobStatus_Running(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/preprocessing/p-1/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "running",
			"progress":     40,
			"current_step": "engineering features",
		})
	})

	c := newTestClient(t, ts.URL)
	st, err := c.JobStatus(context.Background(), models.JobTypePreprocessing, "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Status != models.JobStatusRunning {
		t.Errorf("expected running, got %s", st.Status)
	}
	if st.ProgressPercent() != 40 {
		t.Errorf("expected progress 40, got %d", st.ProgressPercent())
	}
	if st.CurrentStep != "engineering features" {
		t.Errorf("unexpected step: %s", st.CurrentStep)
	}
}

func TestJobStatus_DataGenerationPath(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/generate/g-1/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "progress": 100, "result": map[string]any{"dataset_id": "ds-1"}})
	})

	c := newTestClient(t, ts.URL)
	st, err := c.JobStatus(context.Background(), models.JobTypeDataGeneration, "g-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Result["dataset_id"] != "ds-1" {
		t.Errorf("unexpected result: %v", st.Result)
	}
}

func TestJobStatus_UnknownStatus(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "started"})
	})

	c := newTestClient(t, ts.URL)
	_, err := c.JobStatus(context.Background(), models.JobTypeTraining, "j")
	if !errors.Is(err, ErrBackendStatus) {
		t.Errorf("expected ErrBackendStatus, got %v", err)
	}
}

func TestJobStatus_NotFound(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := newTestClient(t, ts.URL)
	_, err := c.JobStatus(context.Background(), models.JobTypeTraining, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJobStatus_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := newTestClient(t, url)
	_, err := c.JobStatus(context.Background(), models.JobTypeTraining, "j")
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Errorf("expected ErrBackendUnreachable, got %v", err)
	}
}

func TestJobStatus_Timeout(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	c := NewHTTPClient(ts.URL, 50*time.Millisecond)
	_, err := c.JobStatus(context.Background(), models.JobTypeTraining, "j")
	if !errors.Is(err, ErrBackendTimeout) {
		t.Errorf("expected ErrBackendTimeout, got %v", err)
	}
}

func TestJobStatus_ContextCanceled(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := newTestClient(t, ts.URL)
	_, err := c.JobStatus(ctx, models.JobTypeTraining, "j")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- Simulate ---

func TestSimulate(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analytics/simulate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req models.SimulationRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Overrides["sleep_hours"] != 7.8 {
			t.Errorf("unexpected overrides: %v", req.Overrides)
		}
		json.NewEncoder(w).Encode(models.SimulationResult{OriginalRisk: 0.6, NewRisk: 0.4, RiskReduction: 0.2})
	})

	c := newTestClient(t, ts.URL)
	res, err := c.Simulate(context.Background(), models.SimulationRequest{
		ModelID: "m1", AthleteID: "a1", Date: "2024-03-01",
		Overrides: models.Overrides{"sleep_hours": 7.8},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NewRisk != 0.4 {
		t.Errorf("unexpected new risk: %v", res.NewRisk)
	}
}

// --- collections ---

func TestListDatasets_EmptyIsNotNil(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"datasets": null}`))
	})

	c := newTestClient(t, ts.URL)
	ds, err := c.ListDatasets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds == nil || len(ds) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", ds)
	}
}

func TestReady(t *testing.T) {
	ts := backendServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/validation/status" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{}`))
	})

	c := newTestClient(t, ts.URL)
	if err := c.Ready(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
