// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/hw"
)

// UnitStatus is the status of an AWG or a capture unit, as served by
// the status router.
type UnitStatus struct {
	Unit   string `json:"unit"`
	State  string `json:"state"`
	Status string `json:"status"`
	Err    bool   `json:"err,omitempty"`
}

func unitStatus(name string, st ctrl.Status) UnitStatus {
	return UnitStatus{
		Unit:   name,
		State:  st.State.String(),
		Status: st.String(),
		Err:    st.Err,
	}
}

// StatusRouter returns a read-only HTTP view of the boards opened on srv:
//
//	GET /boards
//	GET /boards/{board}/versions
//	GET /boards/{board}/awgs
//	GET /boards/{board}/awgs/{id}
//	GET /boards/{board}/capture-units
//	GET /boards/{board}/capture-units/{id}
func StatusRouter(srv *Server) chi.Router {
	r := chi.NewRouter()
	r.Get("/boards", func(w http.ResponseWriter, r *http.Request) {
		respond(w, srv.Boards())
	})
	r.Route("/boards/{board}", func(r chi.Router) {
		r.Get("/versions", withBoard(srv, func(w http.ResponseWriter, r *http.Request, c *ctrl.Coordinator) {
			vs, err := c.Versions()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			respond(w, vs)
		}))
		r.Get("/awgs", withBoard(srv, func(w http.ResponseWriter, r *http.Request, c *ctrl.Coordinator) {
			o := make([]UnitStatus, 0, hw.NumAWGs)
			for _, id := range hw.AllAWGs() {
				o = append(o, unitStatus(id.String(), c.AwgStatus(id)))
			}
			respond(w, o)
		}))
		r.Get("/awgs/{id}", withBoard(srv, func(w http.ResponseWriter, r *http.Request, c *ctrl.Coordinator) {
			i, err := strconv.Atoi(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			id, err := hw.ParseAWG(i)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			respond(w, unitStatus(id.String(), c.AwgStatus(id)))
		}))
		r.Get("/capture-units", withBoard(srv, func(w http.ResponseWriter, r *http.Request, c *ctrl.Coordinator) {
			o := make([]UnitStatus, 0, hw.NumCaptureUnits)
			for _, id := range hw.AllCaptureUnits() {
				o = append(o, unitStatus(id.String(), c.CaptureUnitStatus(id)))
			}
			respond(w, o)
		}))
		r.Get("/capture-units/{id}", withBoard(srv, func(w http.ResponseWriter, r *http.Request, c *ctrl.Coordinator) {
			i, err := strconv.Atoi(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			id, err := hw.ParseCaptureUnit(i)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			respond(w, unitStatus(id.String(), c.CaptureUnitStatus(id)))
		}))
	})
	return r
}

func withBoard(srv *Server, f func(w http.ResponseWriter, r *http.Request, c *ctrl.Coordinator)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "board")
		c, ok := srv.Coordinator(name)
		if !ok {
			http.Error(w, "unknown board "+strconv.Quote(name), http.StatusNotFound)
			return
		}
		f(w, r, c)
	}
}

func respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
