// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command e7awg-mon monitors the boards served by an e7awg-srv server
// and sends alerts when a unit stops with an error.
//
// Usage: e7awg-mon [OPTIONS]
//
// The mail alert credentials are read from the configuration file or
// from the E7AWG_MON_MAIL_{SERVER,PORT,USERNAME,PASSWORD,TARGETS}
// environment variables.
package main // import "github.com/go-lpc/e7awg/cmd/e7awg-mon"

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-lpc/e7awg/server"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	mail "gopkg.in/gomail.v2"
)

type Config struct {
	URL       string        `koanf:"url"`  // base URL of the e7awg-srv status server
	Freq      time.Duration `koanf:"freq"` // probing interval
	MaxAlerts int           `koanf:"maxalerts"`
	Mail      MailConfig    `koanf:"mail"`
	SMS       string        `koanf:"sms"` // SMS gateway end-point
}

type MailConfig struct {
	Server   string `koanf:"server"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Targets  string `koanf:"targets"` // comma separated
}

func (cfg MailConfig) valid() bool {
	return cfg.Server != "" && cfg.Port != 0 &&
		cfg.Username != "" && cfg.Password != "" &&
		cfg.Targets != ""
}

func defaultConfig() Config {
	return Config{
		URL:       "http://localhost:9080",
		Freq:      30 * time.Second,
		MaxAlerts: 5,
	}
}

func main() {
	log.SetPrefix("e7awg-mon: ")
	log.SetFlags(0)

	fname := flag.String("cfg", "e7awg-mon.yml", "path to configuration file")

	flag.Parse()

	cfg, err := loadConfig(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mon := newMonitor(cfg)
	log.Printf("monitoring %q every %v...", cfg.URL, cfg.Freq)
	mon.run(ctx)
}

func loadConfig(fname string) (Config, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err != nil {
		return Config{}, fmt.Errorf("could not load default configuration: %w", err)
	}

	err = k.Load(file.Provider(fname), yaml.Parser())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("could not load configuration file %q: %w", fname, err)
	}

	err = k.Load(env.Provider("E7AWG_MON_", ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, "E7AWG_MON_")),
			"_", ".", -1,
		)
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("could not load environment: %w", err)
	}

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("could not decode configuration: %w", err)
	}
	return cfg, nil
}

type monitor struct {
	cfg    Config
	cli    *http.Client
	alerts map[string]int // number of alerts per unit
	notify []func(subject, body string) error
}

func newMonitor(cfg Config) *monitor {
	mon := &monitor{
		cfg:    cfg,
		cli:    &http.Client{Timeout: 10 * time.Second},
		alerts: make(map[string]int),
	}
	if cfg.Mail.valid() {
		mon.notify = append(mon.notify, mon.alertMail)
	} else {
		log.Printf("mail alerts disabled: missing credentials")
	}
	if cfg.SMS != "" {
		mon.notify = append(mon.notify, mon.alertSMS)
	}
	return mon
}

func (mon *monitor) run(ctx context.Context) {
	tick := time.NewTicker(mon.cfg.Freq)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			err := mon.probe()
			if err != nil {
				log.Printf("could not probe %q: %+v", mon.cfg.URL, err)
			}
		}
	}
}

// probe checks the status of all the units of all the opened boards.
func (mon *monitor) probe() error {
	var boards []string
	err := mon.get("/boards", &boards)
	if err != nil {
		return err
	}
	for _, board := range boards {
		for _, kind := range []string{"awgs", "capture-units"} {
			var units []server.UnitStatus
			err := mon.get("/boards/"+url.PathEscape(board)+"/"+kind, &units)
			if err != nil {
				return err
			}
			for _, unit := range units {
				key := board + "/" + unit.Unit
				if !unit.Err {
					delete(mon.alerts, key)
					continue
				}
				mon.alert(board, unit)
			}
		}
	}
	return nil
}

func (mon *monitor) get(path string, v interface{}) error {
	resp, err := mon.cli.Get(strings.TrimRight(mon.cfg.URL, "/") + path)
	if err != nil {
		return fmt.Errorf("could not GET %q: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("could not GET %q: %s", path, resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(v)
	if err != nil {
		return fmt.Errorf("could not decode %q: %w", path, err)
	}
	return nil
}

func (mon *monitor) alert(board string, unit server.UnitStatus) {
	key := board + "/" + unit.Unit
	log.Printf("board %q: %s %s", board, unit.Unit, unit.Status)
	mon.alerts[key]++

	if mon.alerts[key] > mon.cfg.MaxAlerts {
		return
	}

	var (
		subject = fmt.Sprintf("[e7awg-mon] unit alert: %s/%s", board, unit.Unit)
		body    = fmt.Sprintf("board:  %q\nunit:   %s\nstatus: %s\nfreq:   %v",
			board, unit.Unit, unit.Status, mon.cfg.Freq,
		)
	)
	for _, notify := range mon.notify {
		err := notify(subject, body)
		if err != nil {
			log.Printf("could not send alert: %+v", err)
		}
	}
}

func (mon *monitor) alertMail(subject, body string) error {
	cfg := mon.cfg.Mail

	msg := mail.NewMessage()
	msg.SetHeader("From", cfg.Username)
	msg.SetHeader("Bcc", strings.Split(cfg.Targets, ",")...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		return fmt.Errorf("could not send mail alert: %w", err)
	}
	return nil
}

func (mon *monitor) alertSMS(subject, body string) error {
	var msg struct {
		Action string `json:"action"`
		Data   struct {
			All bool   `json:"all"`
			Msg string `json:"message"`
		} `json:"data"`
	}
	msg.Action = "send"
	msg.Data.All = true
	msg.Data.Msg = subject

	data := new(bytes.Buffer)
	err := json.NewEncoder(data).Encode(msg)
	if err != nil {
		return fmt.Errorf("could not encode sms to json: %w", err)
	}
	resp, err := mon.cli.Post(mon.cfg.SMS, "application/json", data)
	if err != nil {
		return fmt.Errorf("could not POST sms alert: %w", err)
	}
	defer resp.Body.Close()

	var status struct {
		Msg string `json:"status"`
	}
	err = json.NewDecoder(resp.Body).Decode(&status)
	if err != nil {
		return fmt.Errorf("could not decode sms reply: %w", err)
	}
	if status.Msg != "success" {
		return fmt.Errorf("could not send sms: status=%q", status.Msg)
	}
	return nil
}
