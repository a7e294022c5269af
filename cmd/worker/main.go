package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	flog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GenFox/app/repository"
	"github.com/ManuelReschke/GenFox/internal/pkg/cache"
	"github.com/ManuelReschke/GenFox/internal/pkg/database"
	"github.com/ManuelReschke/GenFox/internal/pkg/env"
	"github.com/ManuelReschke/GenFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
	"github.com/ManuelReschke/GenFox/internal/pkg/objectstore"
	"github.com/ManuelReschke/GenFox/internal/pkg/orchestrator"
	"github.com/ManuelReschke/GenFox/internal/pkg/provider"
)

func main() {
	env.SetupEnvFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.LoadConfig())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close(db)

	client := cache.NewClient(ctx, cache.LoadConfig())
	defer cache.Close(client)

	storeCfg, err := objectstore.LoadConfig()
	if err != nil {
		log.Fatalf("object storage: %v", err)
	}
	outputs, err := objectstore.New(ctx, storeCfg)
	if err != nil {
		log.Fatalf("object storage: %v", err)
	}

	repos := repository.NewFactory(db, client).GetRepositories()
	adapters := provider.NewDefaultRegistry(provider.LoadConfig())
	for _, key := range adapters.Keys() {
		a, _ := adapters.Get(key)
		flog.Infof("[Worker] Provider %s configured=%t mode=%s", key, a.IsConfigured(), a.Mode())
	}

	orch := orchestrator.New(repos.ProviderConfig, adapters, repos.UsageLog, orchestrator.LoadConfig())
	processor := jobqueue.NewGenerationProcessor(
		repos.Job,
		orch,
		outputs,
		ledger.NewService(db),
		jobqueue.NewProgressCache(client),
	)

	queue := jobqueue.NewQueue(client, jobqueue.LoadConfig())
	queue.RegisterProcessor(jobqueue.JobTypeGeneration, processor)

	manager := jobqueue.NewManager(queue)
	manager.Start()
	flog.Info("[Worker] Waiting for jobs")

	<-ctx.Done()
	flog.Info("[Worker] Shutdown signal received")
	manager.Stop()
}
