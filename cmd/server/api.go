package main

import (
	"encoding/json"
	"net/http"

	"prodrec-backend/lib/serviceutil"
	"prodrec-backend/services/recommend"

	"github.com/go-chi/chi/v5"
)

type ApiConfig struct {
	// bearer token required on the fetch endpoints, empty disables auth
	AccessToken string `json:"access_token"`
}

type triggerRequest struct {
	Keywords []string `json:"keywords"`
}

type triggerResponse struct {
	TaskId string `json:"task_id"`
}

type cancelRequest struct {
	TaskId string `json:"task_id"`
}

type taskStatusResponse struct {
	TaskId          string   `json:"task_id"`
	Keywords        []string `json:"keywords"`
	State           string   `json:"state"`
	CancelRequested bool     `json:"cancel_requested"`
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJson(w, status, map[string]string{"error": message})
}

func InitApi(router chi.Router, cfg ApiConfig, service *recommend.Service) {
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, map[string]string{"Hello": "World"})
	})

	router.Group(func(r chi.Router) {
		if cfg.AccessToken != "" {
			r.Use(serviceutil.RequireBearer(cfg.AccessToken))
		}

		r.Post("/trigger_product_fetch", func(w http.ResponseWriter, req *http.Request) {
			var body triggerRequest
			err := json.NewDecoder(req.Body).Decode(&body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "malformed request body")
				return
			}
			task, err := service.Trigger(req.Context(), body.Keywords)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJson(w, http.StatusAccepted, triggerResponse{TaskId: task.Id})
		})

		r.Post("/cancel_product_fetch", func(w http.ResponseWriter, req *http.Request) {
			var body cancelRequest
			err := json.NewDecoder(req.Body).Decode(&body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "malformed request body")
				return
			}
			if !service.Cancel(body.TaskId) {
				writeError(w, http.StatusNotFound, "no running task with that id")
				return
			}
			writeJson(w, http.StatusOK, map[string]string{"task_id": body.TaskId})
		})

		r.Get("/fetch_status", func(w http.ResponseWriter, req *http.Request) {
			statuses := service.Status()
			out := make([]taskStatusResponse, 0, len(statuses))
			for _, s := range statuses {
				out = append(out, taskStatusResponse{
					TaskId:          s.Id,
					Keywords:        s.Keywords,
					State:           string(s.State),
					CancelRequested: s.CancelRequested,
				})
			}
			writeJson(w, http.StatusOK, out)
		})
	})
}
