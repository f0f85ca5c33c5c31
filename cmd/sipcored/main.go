// Command sipcored runs a registrar, an OPTIONS responder and a stateful
// proxy on one UDP socket.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/zenghr0820/sipcore"
	"github.com/zenghr0820/sipcore/dialog"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/metrics"
	"github.com/zenghr0820/sipcore/persist"
	"github.com/zenghr0820/sipcore/processor"
	"github.com/zenghr0820/sipcore/transaction"
)

var log = logger.Component("sipcored")

func main() {
	path := flag.String("config", "", "config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := loadConfig(*path)
	if err != nil {
		logger.NewLogger().Init()
		log.Fatalf("%s", err)
	}
	logger.NewLogger(
		logger.Name(cfg.Log.Name),
		logger.Dir(cfg.Log.Dir),
		logger.Level(cfg.Log.Level),
		logger.EnvMode(cfg.Log.Env),
	).Init()

	if err := run(cfg); err != nil {
		log.Fatalf("%s", err)
	}
}

func run(cfg *Config) error {
	timings := transaction.DefaultTimings()
	timings.T1, timings.T2, timings.T4 = cfg.T1, cfg.T2, cfg.T4
	timings.DisposeGrace = cfg.T1

	m := metrics.New(cfg.Metrics.Namespace)
	opts := []sipcore.Option{
		sipcore.ListenAddr(cfg.Listen),
		sipcore.Transport(cfg.Host),
		sipcore.DnsConfig(cfg.DNS),
		sipcore.MailboxSize(cfg.Mailbox),
		sipcore.Timers(timings),
		sipcore.Expires(cfg.MinExpires, cfg.MaxExpires),
		sipcore.Upstream(cfg.Upstream),
		sipcore.Metrics(m),
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			return err
		}
		opts = append(opts, sipcore.BindingStore(processor.NewRedisStore(client, cfg.Redis.Prefix)))
	}

	var sink persist.Sink = persist.LogSink{}
	if cfg.MySQL.DSN != "" {
		db, err := sqlx.Connect("mysql", cfg.MySQL.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		sink = persist.NewSQLSink(db, sqlbuilder.MySQL)
	}
	recorder := persist.NewWriteBehind(sink, cfg.MySQL.Queue, 5*time.Second)
	defer recorder.Close()
	opts = append(opts, sipcore.Recorder(recorder))

	srv, err := sipcore.NewServer(opts...)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{Addr: cfg.Metrics.Listen, Handler: m.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %s", err)
		}
	}()
	defer httpServer.Close()

	go watchEvents(srv.Events())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Infof("received %s, shutting down", sig)
		srv.Close()
	}()

	log.Infof("%s started", srv)
	if err := srv.Run(); err != sipcore.ErrServerClosed {
		return err
	}
	return nil
}

func watchEvents(events <-chan dialog.Event) {
	for ev := range events {
		switch ev.Kind {
		case dialog.EventTimeout, dialog.EventTransportError, dialog.EventProcessorError:
			log.Warnf("%s", ev)
		default:
			log.Debugf("%s", ev)
		}
	}
}
