// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command e7awg-srv serves e7awg boards to remote clients.
//
// Clients connect to the control address and open boards by host name.
// A read-only HTTP view of the opened boards is served on the status
// address.
//
// Usage: e7awg-srv [OPTIONS]
//
// Example:
//
//	$> e7awg-srv -cfg ./e7awg-srv.yml
//	$> e7awg-srv -dump-config > e7awg-srv.yml
package main // import "github.com/go-lpc/e7awg/cmd/e7awg-srv"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-lpc/e7awg/ctrl"
	"github.com/go-lpc/e7awg/internal/fakehw"
	"github.com/go-lpc/e7awg/server"
	"github.com/go-lpc/e7awg/transport"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	yml "gopkg.in/yaml.v2"
)

// Config is the configuration of e7awg-srv.
type Config struct {
	Addr    string        `koanf:"addr" yaml:"addr"`       // control address
	HTTP    string        `koanf:"http" yaml:"http"`       // status address, empty to disable
	LockDir string        `koanf:"lockdir" yaml:"lockdir"` // directory of the board locks
	Emulate bool          `koanf:"emulate" yaml:"emulate"` // serve emulated boards
	Poll    time.Duration `koanf:"poll" yaml:"poll"`       // status polling interval
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"` // UDP request timeout
	Rate    float64       `koanf:"rate" yaml:"rate"`       // max register requests per second, 0 for no limit
	Burst   int           `koanf:"burst" yaml:"burst"`
}

func defaultConfig() Config {
	return Config{
		Addr:    ":9000",
		HTTP:    ":9080",
		LockDir: os.TempDir(),
		Poll:    10 * time.Millisecond,
		Timeout: 25 * time.Second,
		Burst:   1,
	}
}

func main() {
	log.SetPrefix("e7awg-srv: ")
	log.SetFlags(0)

	var (
		fname = flag.String("cfg", "e7awg-srv.yml", "path to configuration file")
		dump  = flag.Bool("dump-config", false, "dump the configuration and exit")
	)

	flag.Parse()

	cfg, err := loadConfig(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	if *dump {
		err = dumpConfig(os.Stdout, cfg)
		if err != nil {
			log.Fatalf("could not dump configuration: %+v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = run(ctx, cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// loadConfig loads the configuration from fname, on top of the default
// configuration. A missing file is not an error.
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

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("could not decode configuration: %w", err)
	}
	return cfg, nil
}

func dumpConfig(w io.Writer, cfg Config) error {
	return yml.NewEncoder(w).Encode(cfg)
}

// lockName returns the name of the lock file of a board.
func lockName(board string) string {
	return "e7awg-" + strings.NewReplacer(":", "_", "/", "_").Replace(board)
}

func newOpener(cfg Config, msg *log.Logger) server.Opener {
	return func(board string) (*ctrl.Coordinator, io.Closer, error) {
		var (
			tr  ctrl.Transport
			cls io.Closer
		)
		switch {
		case cfg.Emulate:
			tr = fakehw.New()
		default:
			limit := rate.Inf
			if cfg.Rate > 0 {
				limit = rate.Limit(cfg.Rate)
			}
			udp, err := transport.Dial(
				board,
				transport.WithLogger(msg),
				transport.WithTimeout(cfg.Timeout),
				transport.WithRateLimit(limit, cfg.Burst),
			)
			if err != nil {
				return nil, nil, err
			}
			tr, cls = udp, udp
		}

		c, err := ctrl.New(
			tr,
			ctrl.WithLogger(msg),
			ctrl.WithLockDir(cfg.LockDir, lockName(board)),
			ctrl.WithPollInterval(cfg.Poll),
		)
		if err != nil {
			if cls != nil {
				_ = cls.Close()
			}
			return nil, nil, err
		}
		msg.Printf("opened board %q", board)
		return c, cls, nil
	}
}

func run(ctx context.Context, cfg Config) error {
	msg := log.Default()

	srv, err := server.New(cfg.Addr, newOpener(cfg, msg), server.WithLogger(msg))
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}
	defer srv.Close()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		log.Printf("serving boards on %v...", srv.Addr())
		return srv.Serve(ctx)
	})

	if cfg.HTTP != "" {
		root := chi.NewRouter()
		root.Use(middleware.Logger)
		root.Mount("/", server.StatusRouter(srv))

		hsrv := &http.Server{Addr: cfg.HTTP, Handler: root}
		grp.Go(func() error {
			log.Printf("serving status on %q...", cfg.HTTP)
			err := hsrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("could not serve status: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hsrv.Shutdown(sctx)
		})
	}

	return grp.Wait()
}
