package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recmonkey/scout/agent/assemble"
	"github.com/recmonkey/scout/agent/conversation"
	llmx "github.com/recmonkey/scout/agent/llm"
	"github.com/recmonkey/scout/agent/orchestrator"
	promptx "github.com/recmonkey/scout/agent/prompt"
	"github.com/recmonkey/scout/agent/share"
	toolx "github.com/recmonkey/scout/agent/tool"
	configx "github.com/recmonkey/scout/pkg/config"
	"github.com/recmonkey/scout/pkg/geoip"
	_ "github.com/recmonkey/scout/pkg/logger/autoload"
	"github.com/recmonkey/scout/pkg/postgres"
	"github.com/recmonkey/scout/pkg/serper"
	"github.com/recmonkey/scout/server"
)

type AppConfig struct {
	Addr            string        `split_words:"true" default:":8080"`
	ShutdownTimeout time.Duration `split_words:"true" default:"15s"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("SCOUT")

	db := postgres.MustOpen(*configx.MustNew[postgres.Config]("POSTGRES"))
	defer db.Close()

	convStore := conversation.NewPostgresStore(db)
	if err := convStore.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("init conversation tables")
	}
	shareStore := share.NewPostgresStore(db)
	if err := shareStore.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("init share table")
	}

	searchClient := serper.MustNew(*configx.MustNew[serper.Config]("SERPER"))
	geoClient := geoip.MustNew(*configx.MustNew[geoip.Config]("GEOIP"))

	gateway, err := toolx.NewGateway(searchClient, geoClient)
	if err != nil {
		log.Fatal().Err(err).Msg("build tool gateway")
	}

	llmCfg := configx.MustNew[llmx.Config]("LLM")

	// Fail on bad gateway credentials now, not on the first user query.
	models, err := llmx.Preflight(ctx, llmx.NewClient(llmCfg.RouterGateway()))
	if err != nil {
		log.Fatal().Err(err).Msg("gateway preflight")
	}
	log.Info().Int("models", models).Msg("gateway preflight ok")

	runner, err := llmx.NewRunner(ctx, *llmCfg, gateway.Infos())
	if err != nil {
		log.Fatal().Err(err).Msg("build turn runner")
	}

	prompts := promptx.LoadPromptSet()
	router, err := llmx.NewRouter(ctx, *llmCfg, llmx.RouterPrompts{
		Route:       prompts.Router,
		Budget:      prompts.BudgetQuestion,
		Diagnostics: prompts.DiagnosticQuestions,
		QuickPrep:   prompts.QuickPrep,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build intake router")
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:      convStore,
		Locker:     conversation.NewLocker(),
		Builder:    promptx.NewBuilder(prompts),
		Prompts:    prompts,
		Runner:     runner,
		Gateway:    gateway,
		Assemblers: assemble.NewRegistry(),
		Sink:       orchestrator.ZerologSink{},
	}, *configx.MustNew[orchestrator.Config]("ORCH"))
	if err != nil {
		log.Fatal().Err(err).Msg("build orchestrator")
	}

	shares, err := share.NewService(shareStore)
	if err != nil {
		log.Fatal().Err(err).Msg("build share service")
	}

	auth, err := server.NewAuthService(*configx.MustNew[server.AuthConfig]("AUTH"))
	if err != nil {
		log.Fatal().Err(err).Msg("build auth service")
	}

	handler, err := server.New(orch, router, shares, convStore, auth)
	if err != nil {
		log.Fatal().Err(err).Msg("build http server")
	}

	httpSrv := &http.Server{
		Addr:              appCfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", appCfg.Addr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
