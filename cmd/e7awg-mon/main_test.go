// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-lpc/e7awg/server"
)

func TestLoadConfig(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "e7awg-mon.yml")
	err := os.WriteFile(fname, []byte(`url: "http://board-srv:9080"
freq: 1m
mail:
  server: smtp.example.org
  port: 587
`), 0644)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("E7AWG_MON_MAIL_USERNAME", "daq")
	t.Setenv("E7AWG_MON_MAIL_PASSWORD", "s3cr3t")
	t.Setenv("E7AWG_MON_MAIL_TARGETS", "a@example.org,b@example.org")

	cfg, err := loadConfig(fname)
	if err != nil {
		t.Fatalf("could not load configuration: %+v", err)
	}

	want := Config{
		URL:       "http://board-srv:9080",
		Freq:      time.Minute,
		MaxAlerts: 5,
		Mail: MailConfig{
			Server:   "smtp.example.org",
			Port:     587,
			Username: "daq",
			Password: "s3cr3t",
			Targets:  "a@example.org,b@example.org",
		},
	}
	if cfg != want {
		t.Fatalf("invalid configuration:\ngot= %+v\nwant=%+v", cfg, want)
	}
	if !cfg.Mail.valid() {
		t.Fatalf("mail configuration should be valid")
	}
}

type fakeStatus struct {
	mu    sync.Mutex
	units []server.UnitStatus
}

func (fs *fakeStatus) set(units ...server.UnitStatus) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.units = units
}

func (fs *fakeStatus) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/boards", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"b1"})
	})
	r.Get("/boards/b1/awgs", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		_ = json.NewEncoder(w).Encode(fs.units)
	})
	r.Get("/boards/b1/capture-units", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]server.UnitStatus{
			{Unit: "CaptureUnit.U0", State: "idle", Status: "idle"},
		})
	})
	return r
}

func TestProbe(t *testing.T) {
	fs := new(fakeStatus)
	srv := httptest.NewServer(fs.router())
	defer srv.Close()

	cfg := defaultConfig()
	cfg.URL = srv.URL + "/"
	cfg.MaxAlerts = 2

	var subjects []string
	mon := newMonitor(cfg)
	mon.notify = []func(subject, body string) error{
		func(subject, body string) error {
			subjects = append(subjects, subject)
			return nil
		},
	}

	fs.set(
		server.UnitStatus{Unit: "AWG.U0", State: "stopped", Status: "stopped(error)", Err: true},
		server.UnitStatus{Unit: "AWG.U1", State: "running", Status: "running"},
	)
	for i := 0; i < 4; i++ {
		err := mon.probe()
		if err != nil {
			t.Fatalf("could not probe: %+v", err)
		}
	}
	if got, want := len(subjects), cfg.MaxAlerts; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}
	if got, want := subjects[0], "[e7awg-mon] unit alert: b1/AWG.U0"; got != want {
		t.Fatalf("invalid subject:\ngot= %q\nwant=%q", got, want)
	}
	if got, want := mon.alerts["b1/AWG.U0"], 4; got != want {
		t.Fatalf("invalid alert count: got=%d, want=%d", got, want)
	}

	fs.set(server.UnitStatus{Unit: "AWG.U0", State: "initialized", Status: "initialized"})
	err := mon.probe()
	if err != nil {
		t.Fatalf("could not probe: %+v", err)
	}
	if _, ok := mon.alerts["b1/AWG.U0"]; ok {
		t.Fatalf("alert count should have been cleared")
	}

	mon.cfg.URL = srv.URL + "/missing"
	err = mon.probe()
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("invalid error: %v", err)
	}
}

func TestAlertSMS(t *testing.T) {
	var (
		status = "success"
		msg    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data struct {
				Msg string `json:"message"`
			} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		msg = req.Data.Msg
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}))
	defer srv.Close()

	cfg := defaultConfig()
	cfg.SMS = srv.URL
	mon := newMonitor(cfg)
	if got, want := len(mon.notify), 1; got != want {
		t.Fatalf("invalid number of notifiers: got=%d, want=%d", got, want)
	}

	err := mon.alertSMS("alert", "body")
	if err != nil {
		t.Fatalf("could not send sms: %+v", err)
	}
	if msg != "alert" {
		t.Fatalf("invalid sms message: %q", msg)
	}

	status = "failure"
	err = mon.alertSMS("alert", "body")
	if err == nil {
		t.Fatalf("expected an error")
	}
}
