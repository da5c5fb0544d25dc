package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var errEngine = errors.New("engine not running")

func pass(context.Context) error { return nil }
func fail(context.Context) error { return errEngine }

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		want     Status
		checks   map[string]Status
	}{
		{name: "empty", want: StatusOK},
		{
			name:     "healthy",
			checkers: []Checker{{Name: "capture", Check: pass}, {Name: "history", Check: pass}},
			want:     StatusOK,
			checks:   map[string]Status{"capture": StatusOK, "history": StatusOK},
		},
		{
			name:     "capture down",
			checkers: []Checker{{Name: "capture", Check: fail}, {Name: "history", Check: pass}},
			want:     StatusFail,
			checks:   map[string]Status{"capture": StatusFail, "history": StatusOK},
		},
		{
			name:     "recognizer tripped",
			checkers: []Checker{{Name: "capture", Check: pass}, {Name: "recognizers", Check: fail, Optional: true}},
			want:     StatusDegraded,
			checks:   map[string]Status{"capture": StatusOK, "recognizers": StatusDegraded},
		},
		{
			name: "failure outranks degradation",
			checkers: []Checker{
				{Name: "recognizers", Check: fail, Optional: true},
				{Name: "capture", Check: fail},
			},
			want: StatusFail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rep := New(tt.checkers).Evaluate(context.Background())
			if rep.Status != tt.want {
				t.Errorf("status = %q, want %q", rep.Status, tt.want)
			}
			for name, want := range tt.checks {
				got := rep.Checks[name]
				if got.Status != want {
					t.Errorf("%s: status = %q, want %q", name, got.Status, want)
				}
				if (want == StatusOK) != (got.Error == "") {
					t.Errorf("%s: error = %q", name, got.Error)
				}
				if got.Elapsed == "" {
					t.Errorf("%s: elapsed not reported", name)
				}
			}
		})
	}
}

func TestEvaluate_TimeoutBoundsCheck(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "history", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}}, WithTimeout(20*time.Millisecond))

	done := make(chan Report, 1)
	go func() { done <- h.Evaluate(context.Background()) }()
	select {
	case rep := <-done:
		if got := rep.Checks["history"]; got.Status != StatusFail || got.Error != context.DeadlineExceeded.Error() {
			t.Errorf("history = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Evaluate ignored the timeout")
	}
}

func TestEvaluate_ChecksOverlap(t *testing.T) {
	t.Parallel()

	// Each check waits for the other, so a sequential run would time out.
	var a, b = make(chan struct{}), make(chan struct{})
	meet := func(mine, theirs chan struct{}) func(context.Context) error {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-theirs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	rep := New([]Checker{
		{Name: "a", Check: meet(a, b)},
		{Name: "b", Check: meet(b, a)},
	}, WithTimeout(2*time.Second)).Evaluate(context.Background())
	if rep.Status != StatusOK {
		t.Errorf("report = %+v", rep)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New([]Checker{{Name: "capture", Check: fail}}).Register(mux)

	tests := []struct {
		method, path string
		code         int
		status       Status
	}{
		{http.MethodGet, "/healthz", http.StatusOK, StatusOK},
		{http.MethodGet, "/readyz", http.StatusServiceUnavailable, StatusFail},
		{http.MethodPost, "/readyz", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.code)
		}
		if tt.status == "" {
			continue
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("%s: Content-Type = %q", tt.path, ct)
		}
		var rep Report
		if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
			t.Fatalf("%s: decode: %v", tt.path, err)
		}
		if rep.Status != tt.status {
			t.Errorf("%s: status = %q, want %q", tt.path, rep.Status, tt.status)
		}
	}
}
