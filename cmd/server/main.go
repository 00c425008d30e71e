package main

import (
	"database/sql"
	"errors"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"PixelVault/internal/app"
	"PixelVault/internal/store"
	"PixelVault/pkg/kit"
)

func main() {
	service := "pixelvault"
	log := kit.NewLogger(service)
	defer func() { _ = log.Sync() }()

	port := getenv("PORT", "3001")
	jwtSecret := getenv("JWT_SECRET", "dev-secret")

	st, err := openStore(log)
	if err != nil {
		log.Fatal("open store failed", zap.Error(err))
	}

	deps := app.Deps{
		Store:       st,
		JWTSecret:   jwtSecret,
		CORSOrigins: splitCSV(os.Getenv("CORS_ORIGINS")),
	}

	reg := prometheus.NewRegistry()
	h := app.NewHandler(deps, app.HTTPDeps{
		Log:            log,
		Service:        service,
		Registry:       reg,
		MetricsEnabled: true,
		MetricsToken:   os.Getenv("METRICS_TOKEN"),
	})

	if err := kit.RunHTTPServer(":"+port, h, log); err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
}

func openStore(log *zap.Logger) (store.Store, error) {
	backend := getenv("STORE_BACKEND", "file")

	switch backend {
	case "memory":
		log.Info("using in-memory store")
		return store.NewMemStore(), nil

	case "postgres":
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			return nil, errors.New("DATABASE_URL is required with STORE_BACKEND=postgres")
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		log.Info("using postgres store")
		return store.NewPostgresStore(db), nil

	default:
		path := getenv("DB_PATH", "db.json")
		log.Info("using file store", zap.String("path", path))
		return store.OpenFile(path)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
