package main

import (
	"context"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"syncdoc/internal/config"
	"syncdoc/internal/session"
	"syncdoc/internal/transport"
)

func main() {
	cfg := config.LoadServer()
	ctx := context.Background()

	var audit session.AuditSink = session.NoopAuditSink{}
	if cfg.UsePostgres {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("unable to connect to database: %v", err)
		}
		defer pool.Close()
		log.Println("connected to PostgreSQL successfully")
		audit = session.NewPgAuditSink(pool)
	}

	registry := transport.NewRegistry(audit)

	var bus transport.Broadcaster
	if cfg.UseRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Fatalf("could not connect to redis: %v", err)
		}
		log.Println("connected to Redis successfully")
		bus = transport.NewRedisBus(rdb, ctx)
	}

	srv := transport.NewServer(registry, bus)
	router := transport.NewRouter(srv)

	log.Printf("syncdoc sync server starting on %s...", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
