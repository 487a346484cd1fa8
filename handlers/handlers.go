package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/vidforge/composer-api/errors"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/metrics"
	"github.com/vidforge/composer-api/pipeline"
	"github.com/vidforge/composer-api/requests"
)

type ComposerAPIHandlersCollection struct {
	Coordinator *pipeline.Coordinator
}

type ComposeVideoResponse struct {
	RequestID string `json:"request_id"`
}

func (d *ComposerAPIHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		io.WriteString(w, "OK")
	}
}

// ComposeVideo accepts a composition job document and hands it to the
// coordinator. The request only pays for the schema check; everything else
// runs asynchronously under the returned request ID.
func (d *ComposerAPIHandlersCollection) ComposeVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		start := time.Now()
		success, status := false, http.StatusAccepted
		defer func() {
			metrics.Metrics.VideoRequestCount.Inc()
			metrics.Metrics.VideoRequestDurationSec.
				WithLabelValues(strconv.FormatBool(success), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
		}()

		if !HasContentType(req, "application/json") {
			status = http.StatusUnsupportedMediaType
			errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		}
		payload, err := io.ReadAll(req.Body)
		if err != nil {
			status = http.StatusInternalServerError
			errors.WriteHTTPInternalServerError(w, "Cannot read body", err)
			return
		}
		result, err := job.ValidateSchema(payload)
		if err != nil {
			// gojsonschema only errors here when the body is not JSON at all
			status = http.StatusBadRequest
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}
		if !result.Valid() {
			status = http.StatusBadRequest
			errors.WriteHTTPBadBodySchema("ComposeVideo", w, result.Errors())
			return
		}

		requestID := requests.GetRequestId(req)
		d.Coordinator.StartJob(requestID, payload)

		success = true
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(ComposeVideoResponse{RequestID: requestID}); err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to write response", err)
		}
	}
}

// VideoStatus reports the tracked state of a job, including terminal results.
func (d *ComposerAPIHandlersCollection) VideoStatus() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := params.ByName("requestID")
		info := d.Coordinator.Status(requestID)
		if info == nil {
			errors.WriteHTTPNotFound(w, "Request not found", nil)
			return
		}
		snapshot := info.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&snapshot); err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to write response", err)
		}
	}
}

// CancelVideo requests cancellation of a running job.
func (d *ComposerAPIHandlersCollection) CancelVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := params.ByName("requestID")
		if d.Coordinator.Status(requestID) == nil {
			errors.WriteHTTPNotFound(w, "Request not found", nil)
			return
		}
		if !d.Coordinator.Cancel(requestID) {
			errors.WriteHTTPBadRequest(w, "Request is not running", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}
	return false
}
