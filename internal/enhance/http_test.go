package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPServiceEnhance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/resolve" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.CalleeName != "mystery" {
			t.Errorf("callee = %q", req.CalleeName)
		}
		json.NewEncoder(w).Encode(Result{QualifiedCallee: "vendor::mystery", ToCrate: "vendor", Confidence: 0.85})
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL+"/", nil)
	res, err := svc.Enhance(context.Background(), Request{Crate: "app", CalleeName: "mystery", FilePath: "src/main.rs", Line: 3})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if res.QualifiedCallee != "vendor::mystery" || res.Confidence != 0.85 {
		t.Errorf("result = %+v", res)
	}
}

func TestHTTPServiceNotFoundIsEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, nil)
	res, err := svc.Enhance(context.Background(), Request{CalleeName: "mystery"})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if res != (Result{}) {
		t.Errorf("result = %+v, want empty", res)
	}
}

func TestHTTPServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL, nil)
	_, err := svc.Enhance(context.Background(), Request{CalleeName: "mystery"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
