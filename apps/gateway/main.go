package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mahaj/chat-relay/pkg/auth"
	"github.com/mahaj/chat-relay/pkg/config"
	"github.com/mahaj/chat-relay/pkg/connid"
	"github.com/mahaj/chat-relay/pkg/db"
	"github.com/mahaj/chat-relay/pkg/fanout"
	"github.com/mahaj/chat-relay/pkg/feed"
	"github.com/mahaj/chat-relay/pkg/intake"
	"github.com/mahaj/chat-relay/pkg/registry"
	"github.com/mahaj/chat-relay/pkg/session"
	"github.com/mahaj/chat-relay/pkg/store"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "gateway").Logger()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	reg := registry.New(rdb, log)

	scylla, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to scylla")
	}
	defer scylla.Close()
	messages := store.New(scylla)

	verifier := auth.NewJWT(cfg.JWTSecret, cfg.TokenTTL)

	publisher := feed.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	hub := NewHub(log)
	go hub.Run(ctx)

	gateway := session.New(verifier, reg, messages, hub, cfg.TokenTTL, cfg.OpTimeout, log)
	submit := intake.New(reg, messages, publisher, cfg.OpTimeout, log)
	broadcaster := fanout.New(reg, hub, cfg.FanoutConcurrency, cfg.PushTimeout, log)

	// Every gateway instance consumes the full topic under its own group id
	// so each one fans out to its local connections.
	groupID := "gateway-" + uuid.NewString()
	consumer := feed.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, groupID, log)
	defer consumer.Close()
	go func() {
		if err := consumer.Run(ctx, broadcaster.HandleBatch); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed consumer stopped")
		}
	}()

	ws := &wsServer{hub: hub, session: gateway, intake: submit, ids: mustGenerator(log), log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.serveWs)

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.GatewayAddr).Msg("gateway service starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("gateway server failed")
	}
}

func mustGenerator(log zerolog.Logger) *connid.Generator {
	// Node id should be unique per instance; env override for multi-node runs.
	node := int64(1)
	if v := os.Getenv("NODE_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			node = n
		}
	}
	gen, err := connid.NewGenerator(node)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize connection id generator")
	}
	return gen
}
