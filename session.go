package main

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/epalmerini/burrow/internal/buffer"
	"github.com/epalmerini/burrow/internal/config"
	"github.com/epalmerini/burrow/internal/db"
	"github.com/epalmerini/burrow/internal/filelog"
	"github.com/epalmerini/burrow/internal/ingest"
	"github.com/epalmerini/burrow/internal/proto"
	"github.com/epalmerini/burrow/internal/rabbitmq"
	"github.com/epalmerini/burrow/internal/registry"
	"github.com/epalmerini/burrow/internal/tui"
	"github.com/sirupsen/logrus"
)

const (
	dialTimeout     = 15 * time.Second
	teardownTimeout = 10 * time.Second
)

// runSession connects to the broker and runs the interactive UI until quit.
func runSession(ctx context.Context, configPath string) error {
	log := logrus.StandardLogger()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	conn := cfg.Connection()
	if conn.Host == "" {
		return errors.New("no broker host configured: set host in the config file or AMQP_URL")
	}

	// Capture from the start so connection messages show up in the logs pane.
	hook := tui.NewLogHook()
	log.AddHook(hook)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	broker, err := rabbitmq.Dial(dialCtx, conn, cfg.QueuePrefix(), log)
	cancel()
	if err != nil {
		return err
	}
	defer broker.Close()

	out := log.Out
	log.SetOutput(io.Discard)
	defer log.SetOutput(out)

	archive, closeArchive := openArchive(ctx, cfg, conn, log)
	defer closeArchive()

	var decoder *proto.Decoder
	if cfg.Proto != "" {
		decoder, err = proto.NewDecoder(cfg.Proto, log)
		if err != nil {
			log.WithError(err).WithField("path", cfg.Proto).Warn("Protobuf decoding disabled")
			decoder = nil
		} else {
			log.Infof("Loaded %d protobuf message types", len(decoder.ListTypes()))
		}
	}

	reg := registry.New(cfg.Exchanges)
	queue := ingest.NewQueue()
	defer queue.Close()

	engine := rabbitmq.NewEngine(broker, queue, nil, rabbitmq.EngineConfig{
		ClientName:    cfg.QueuePrefix(),
		SessionScoped: cfg.SessionScopedQueues,
	}, log)

	pipeline := &ingest.Pipeline{
		Registry: reg,
		Lines:    buffer.NewLines(cfg.LineCapacity()),
		Batcher:  filelog.NewBatcher(cfg.FlushInterval(), log),
		Workers:  engine,
		Log:      log,
		Decoder:  decoder,
	}
	if archive != nil {
		pipeline.Archive = archive
	}

	err = tui.Run(tui.Options{
		Config:   cfg,
		Registry: reg,
		Engine:   engine,
		Queue:    queue,
		Pipeline: pipeline,
		Hook:     hook,
		Log:      log,
		Host:     conn.Address(),
	})
	if err != nil {
		// The UI did not get to run its own teardown.
		tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		err = errors.Join(err, engine.Shutdown(tctx), pipeline.Close())
	}
	return err
}

// openArchive starts an archive session when enabled. Archive failures only
// disable archiving.
func openArchive(ctx context.Context, cfg *config.FileConfig, conn config.Connection, log logrus.FieldLogger) (*db.AsyncWriter, func()) {
	if !cfg.Archive {
		return nil, func() {}
	}

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.WithError(err).Warn("Message archive disabled")
		return nil, func() {}
	}

	sessionID, err := store.CreateSession(ctx, cfg.QueuePrefix(), db.SanitizeAMQPURL(conn.URL()))
	if err != nil {
		log.WithError(err).Warn("Message archive disabled")
		_ = store.Close()
		return nil, func() {}
	}

	writer := db.NewAsyncWriter(store, sessionID, log)
	log.WithField("session", sessionID).Info("Archiving messages")

	return writer, func() {
		writer.Close()
		if n := writer.Dropped(); n > 0 {
			log.Warnf("Archive dropped %d messages", n)
		}
		if err := store.EndSession(context.Background(), sessionID); err != nil {
			log.WithError(err).Warn("Could not close archive session")
		}
		_ = store.Close()
	}
}
