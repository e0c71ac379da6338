package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/qiyuanwang/roundtable/backend/internal/config"
	"github.com/qiyuanwang/roundtable/backend/internal/handler"
	"github.com/qiyuanwang/roundtable/backend/internal/handler/ws"
	"github.com/qiyuanwang/roundtable/backend/internal/service/ai"
	"github.com/qiyuanwang/roundtable/backend/internal/service/audit"
	"github.com/qiyuanwang/roundtable/backend/internal/service/decide"
	"github.com/qiyuanwang/roundtable/backend/internal/service/queue"
	roomservice "github.com/qiyuanwang/roundtable/backend/internal/service/room"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	roomSvc := roomservice.NewService(roomservice.Config{
		HistoryKeep:    cfg.Room.HistoryKeep,
		HistoryContext: cfg.Room.HistoryContext,
		AgentLogKeep:   cfg.Room.AgentLogKeep,
	})

	// Initialize scoring collaborators. Without Ark credentials fall back to
	// the heuristic sources so the room stays usable offline.
	var scorers []decide.Scorer
	var generator decide.Generator
	if cfg.AI.Enabled() {
		aiSvc, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing with heuristic scoring - 请检查 Ark 模型相关环境变量")
			scorers = ai.FallbackScorers()
		} else {
			log.Println("AI service initialized successfully")
			scorers = aiSvc.Scorers()
			generator = aiSvc
		}
	} else {
		log.Println("Ark 凭证未配置，使用启发式意愿评分")
		scorers = ai.FallbackScorers()
	}

	pipeline := decide.NewPipeline(scorers, generator, cfg.Room.Threshold)

	jobTimeout := time.Duration(cfg.Room.JobTimeoutSeconds) * time.Second
	scoringQueue := queue.New(pipeline, cfg.Room.QueueCapacity, jobTimeout)
	scoringQueue.Start(ctx)

	auditSink := audit.NewCSVSink(cfg.Room.AuditDir)
	defer auditSink.Close()

	wsHandler := ws.New(roomSvc, scoringQueue, auditSink, cfg.Room.Threshold)

	router := handler.NewRouter(roomSvc, wsHandler)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Roundtable backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
