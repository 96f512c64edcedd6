package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cartopack/kmztiler/internal/export"
)

// Test server setup
func setupTestServer() *httptest.Server {
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))

	apiServer := New("1.0.0-test", export.New(log.New(io.Discard, "", 0)))

	// Mount API routes at /api/v1
	r.Mount("/api/v1", apiServer.Routes())

	return httptest.NewServer(r)
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	// Check status code
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	// Check content type
	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	// Parse response
	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	// Validate response
	if healthResp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %s", healthResp.Status)
	}

	if healthResp.Version != "1.0.0-test" {
		t.Errorf("Expected version '1.0.0-test', got %s", healthResp.Version)
	}

	if healthResp.Uptime < 0 {
		t.Errorf("Expected valid uptime, got %d", healthResp.Uptime)
	}

	// Check timestamp is recent
	if time.Since(healthResp.Timestamp) > time.Minute {
		t.Errorf("Timestamp seems too old: %v", healthResp.Timestamp)
	}
}

// testPNG renders a small gradient raster for uploads.
func testPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 120, 90))
	for y := 0; y < 90; y++ {
		for x := 0; x < 120; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 2),
				G: uint8(y * 2),
				B: 128,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func multipartExportRequest(t *testing.T, url string, fields map[string]string, raster []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if raster != nil {
		fw, err := mw.CreateFormFile("raster", "upload.png")
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		if _, err := fw.Write(raster); err != nil {
			t.Fatalf("Failed to write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("Failed to write form field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest("POST", url, &body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestExportEndpoint_Success(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	req := multipartExportRequest(t, server.URL+"/api/v1/export", map[string]string{
		"bbox":     "10.0,45.0,12.0,47.0",
		"device":   "custom",
		"tile_cap": "4",
		"name":     "Upload Test",
	}, testPNG(t))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.google-earth.kmz" {
		t.Errorf("Expected KMZ content type, got %s", ct)
	}

	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected an X-Request-ID header")
	}

	// The body must be a well-formed KMZ with the KML document first.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Response is not a valid zip: %v", err)
	}
	if len(zr.File) < 2 {
		t.Fatalf("Expected doc.kml plus tiles, got %d entries", len(zr.File))
	}
	if zr.File[0].Name != "doc.kml" {
		t.Errorf("Expected doc.kml first, got %s", zr.File[0].Name)
	}
}

func TestExportEndpoint_MissingRaster(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	req := multipartExportRequest(t, server.URL+"/api/v1/export", map[string]string{
		"bbox": "10.0,45.0,12.0,47.0",
	}, nil)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errResp.Code != "MISSING_RASTER" {
		t.Errorf("Expected code MISSING_RASTER, got %s", errResp.Code)
	}
	if errResp.RequestID == "" {
		t.Error("Expected a request ID in the error response")
	}
}

func TestExportEndpoint_InvalidBBox(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	tests := []struct {
		name string
		bbox string
	}{
		{name: "missing", bbox: ""},
		{name: "short", bbox: "10,45,12"},
		{name: "not numbers", bbox: "a,b,c,d"},
		{name: "inverted", bbox: "12,45,10,47"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartExportRequest(t, server.URL+"/api/v1/export", map[string]string{
				"bbox": tt.bbox,
			}, testPNG(t))

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Failed to make request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}

			var errResp ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if errResp.Code != "INVALID_BBOX" {
				t.Errorf("Expected code INVALID_BBOX, got %s", errResp.Code)
			}
		})
	}
}

func TestExportEndpoint_BadTileCap(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	req := multipartExportRequest(t, server.URL+"/api/v1/export", map[string]string{
		"bbox":     "10.0,45.0,12.0,47.0",
		"device":   "custom",
		"tile_cap": "0",
	}, testPNG(t))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", resp.StatusCode)
	}
}

func TestParseBBox(t *testing.T) {
	box, err := ParseBBox(" 10.5 , 45 , 12 , 47.25 ")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if box.Min[0] != 10.5 || box.Min[1] != 45 || box.Max[0] != 12 || box.Max[1] != 47.25 {
		t.Errorf("Unexpected bounds: %v", box)
	}

	if _, err := ParseBBox("1,2,3"); err == nil {
		t.Error("Expected an error for a three-component bbox")
	}
}
