package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/afyawatch/fieldsync/internal/queue"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestTableFor(t *testing.T) {
	tests := []struct {
		typ   queue.ReportType
		table string
		ok    bool
	}{
		{queue.TypeDiseaseReport, "disease_reports", true},
		{queue.TypeWaterQuality, "water_quality_reports", true},
		{queue.TypeFeedback, "feedback", true},
		{queue.ReportType("selfie"), "", false},
	}

	for _, tt := range tests {
		table, err := TableFor(tt.typ)
		if tt.ok && (err != nil || table != tt.table) {
			t.Errorf("TableFor(%s) = %s, %v; want %s", tt.typ, table, err, tt.table)
		}
		if !tt.ok && !errors.Is(err, ErrUnknownType) {
			t.Errorf("TableFor(%s) expected ErrUnknownType, got %v", tt.typ, err)
		}
	}
}

func TestUploadSendsIdempotencyKey(t *testing.T) {
	var gotPath, gotPrefer string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotPrefer = r.Header.Get("Prefer")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "test-key", discardLogger())
	payload := map[string]any{"disease": "cholera", "county": "Kisumu"}

	err := c.Upload(context.Background(), queue.TypeDiseaseReport, "abc-123", payload)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if gotPath != "/rest/v1/disease_reports?on_conflict=client_idempotency_key" {
		t.Errorf("unexpected request path: %s", gotPath)
	}
	if gotPrefer != "resolution=ignore-duplicates,return=minimal" {
		t.Errorf("unexpected Prefer header: %s", gotPrefer)
	}
	if gotBody[IdempotencyKeyField] != "abc-123" {
		t.Errorf("idempotency key missing from body: %v", gotBody)
	}
	if gotBody["disease"] != "cholera" {
		t.Errorf("payload missing from body: %v", gotBody)
	}
	if _, mutated := payload[IdempotencyKeyField]; mutated {
		t.Error("caller payload was mutated")
	}
}

func TestUploadConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint"}`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "test-key", discardLogger())
	if err := c.Upload(context.Background(), queue.TypeFeedback, "dup-1", nil); err != nil {
		t.Errorf("conflicting retry must be treated as success, got %v", err)
	}
}

func TestUploadServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "test-key", discardLogger())
	err := c.Upload(context.Background(), queue.TypeWaterQuality, "x", nil)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestUploadUnknownTypeFails(t *testing.T) {
	c := NewRESTClient("http://127.0.0.1:1", "k", discardLogger())
	err := c.Upload(context.Background(), queue.ReportType("bogus"), "x", nil)
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}
