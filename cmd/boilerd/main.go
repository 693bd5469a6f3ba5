// Command boilerd is the controller harness: it loads configuration,
// brings up the plant-link transport and status API, optionally journals
// to TimescaleDB, and drives the controller one cycle per TICK frame.
// Background HTTP server plus signal-triggered graceful shutdown, with
// the long-running goroutines coordinated via golang.org/x/sync/errgroup
// since this harness has more than one server to bring down together.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zakarynichols/steamboiler/internal/api"
	"github.com/zakarynichols/steamboiler/internal/control"
	"github.com/zakarynichols/steamboiler/internal/harnessconfig"
	"github.com/zakarynichols/steamboiler/internal/journal"
	"github.com/zakarynichols/steamboiler/internal/message"
	"github.com/zakarynichols/steamboiler/internal/transport"
)

func main() {
	configPath := flag.String("config", "boilerd.yaml", "path to harness config")
	flag.Parse()

	h, err := harnessconfig.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(h.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	ctl := control.New(h.Boiler)
	router := api.NewRouter(ctl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sink message.Sink
	if h.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, h.DatabaseURL)
		if err != nil {
			logrus.WithError(err).Fatal("failed to connect to journal database")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logrus.WithError(err).Fatal("failed to ping journal database")
		}
		if err := journal.Migrate(ctx, pool); err != nil {
			logrus.WithError(err).Fatal("failed to run journal migrations")
		}
		js, err := journal.New(ctx, pool, ctl.RunID, broadcastSink{router}, ctl.CycleNumber)
		if err != nil {
			logrus.WithError(err).Fatal("failed to register run")
		}
		sink = js
		logrus.WithField("run_id", ctl.RunID).Info("journaling enabled")
	} else {
		sink = broadcastSink{router}
	}

	var clockMu sync.Mutex
	onCycle := func(in *message.Mailbox) []message.Message {
		clockMu.Lock()
		defer clockMu.Unlock()
		out := message.NewSliceSink()
		ctl.Clock(in, multiSink{out, sink})
		return out.Sent
	}

	plantLink := transport.NewServer(h.PlantLinkAddr, onCycle)

	httpServer := &http.Server{
		Addr:         h.APIAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ln, err := net.Listen("tcp", h.PlantLinkAddr)
		if err != nil {
			return err
		}
		go func() {
			<-gctx.Done()
			ln.Close()
		}()
		if err := plantLink.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logrus.WithField("addr", h.APIAddr).Info("status API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case <-gctx.Done():
		}
		logrus.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("boilerd exited with error")
	}
}

// multiSink fans every controller-emitted message out to the plant-link
// reply batch and the journal/broadcast sink in the same call, so neither
// observer can see a message the other missed.
type multiSink struct {
	primary *message.SliceSink
	rest    message.Sink
}

func (m multiSink) Send(msg message.Message) {
	m.primary.Send(msg)
	m.rest.Send(msg)
}

// broadcastSink feeds every mode transition to the /stream websocket
// clients; it discards non-mode messages, since the API only broadcasts
// mode changes (spec.md §6).
type broadcastSink struct {
	router *api.Router
}

func (b broadcastSink) Send(msg message.Message) {
	if msg.Kind == message.KindMode {
		b.router.Broadcast(control.FromMessageMode(msg.Mode))
	}
}
