// Package server exposes the exporter over HTTP: upload a raster,
// receive a KMZ.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/cartopack/kmztiler/internal/export"
	"github.com/cartopack/kmztiler/pkg/raster"
)

// 64 MiB of uploaded raster is plenty for device-sized exports.
const maxUploadBytes = 64 << 20

// Server implements the export API.
type Server struct {
	startTime time.Time
	version   string
	exporter  *export.Exporter
}

// New creates a new server instance.
func New(version string, exporter *export.Exporter) *Server {
	return &Server{
		startTime: time.Now(),
		version:   version,
		exporter:  exporter,
	}
}

// Routes mounts the API endpoints on a fresh router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", s.getHealth)
	r.Post("/export", s.createExport)
	return r
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
}

// ErrorResponse is the JSON body for every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(s.startTime).Seconds()),
		Version:   s.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// createExport accepts a multipart form with a "raster" file plus the
// export parameters and streams the finished KMZ back.
func (s *Server) createExport(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_FORM",
			fmt.Sprintf("invalid multipart form: %v", err), requestID)
		return
	}

	file, header, err := r.FormFile("raster")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "MISSING_RASTER",
			"form field 'raster' with the source image is required", requestID)
		return
	}
	defer file.Close()

	buf, err := raster.Decode(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_RASTER", err.Error(), requestID)
		return
	}

	// Uploads carry no world file sidecar, so the bounding box is a
	// required form field.
	box, err := ParseBBox(r.FormValue("bbox"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_BBOX", err.Error(), requestID)
		return
	}

	opts, err := exportOptions(r, header.Filename)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), requestID)
		return
	}

	pkg, result, err := s.exporter.Build(r.Context(), raster.NewSource(buf, box), opts)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "EXPORT_FAILED", err.Error(), requestID)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.google-earth.kmz")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", opts.Name+".kmz"))
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Tile-Count", strconv.Itoa(result.Tiles))
	w.WriteHeader(http.StatusOK)

	if err := pkg.Write(w); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func exportOptions(r *http.Request, filename string) (export.Options, error) {
	device := r.FormValue("device")
	if device == "" {
		device = "custom"
	}

	tileCap := 250
	if v := r.FormValue("tile_cap"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return export.Options{}, fmt.Errorf("invalid tile_cap %q", v)
		}
		tileCap = n
	}

	name := r.FormValue("name")
	if name == "" {
		name = filename
		if i := strings.LastIndex(name, "."); i > 0 {
			name = name[:i]
		}
		if name == "" {
			name = "Custom Map"
		}
	}

	return export.Options{
		Device:  device,
		TileCap: tileCap,
		Name:    name,
	}, nil
}

// ParseBBox parses a "west,south,east,north" degree quadruple.
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must be 'west,south,east,north'")
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bbox component %q", p)
		}
		vals[i] = v
	}

	west, south, east, north := vals[0], vals[1], vals[2], vals[3]
	if east < west {
		return orb.Bound{}, fmt.Errorf("bbox east %g is west of west %g", east, west)
	}
	if north < south {
		return orb.Bound{}, fmt.Errorf("bbox north %g is south of south %g", north, south)
	}

	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)

	response := ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding error response: %v", err)
	}
}
