// Copyright 2025 Ceramic Network
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/batch"
	"github.com/ceramicnetwork/cas-anchor/pkg/blobstore"
	"github.com/ceramicnetwork/cas-anchor/pkg/candidate"
	"github.com/ceramicnetwork/cas-anchor/pkg/chain"
	"github.com/ceramicnetwork/cas-anchor/pkg/clock"
	"github.com/ceramicnetwork/cas-anchor/pkg/config"
	"github.com/ceramicnetwork/cas-anchor/pkg/database"
	"github.com/ceramicnetwork/cas-anchor/pkg/queue"
	"github.com/ceramicnetwork/cas-anchor/pkg/scheduler"
	"github.com/ceramicnetwork/cas-anchor/pkg/service"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags)
	log.Println("starting CAS anchor worker")

	policyPath := flag.String("policy", "", "path to an optional anchor policy YAML file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *policyPath != "" {
		policy, err := config.LoadAnchorPolicy(*policyPath)
		if err != nil {
			log.Fatalf("load anchor policy %s: %v", *policyPath, err)
		}
		policy.ApplyTo(cfg)
		log.Printf("applied anchor policy from %s (environment=%s)", *policyPath, policy.Environment)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	clk := clock.New()

	dbClient, err := database.NewClient(cfg, database.WithLogger(
		log.New(log.Writer(), "[Database] ", log.LstdFlags),
	))
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer dbClient.Close()

	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Fatalf("run database migrations: %v", err)
	}

	requestStore := database.NewRequestStore(dbClient)
	anchorStore := database.NewAnchorStore(dbClient)
	metadataStore := database.NewMetadataStore(dbClient)

	merkleBlobs, err := blobstore.New(cfg.MerkleBlobBackend,
		blobstore.WithS3Bucket(cfg.S3Bucket), blobstore.WithS3Region(cfg.S3Region))
	if err != nil {
		log.Fatalf("construct merkle blob store: %v", err)
	}
	witnessBlobs, err := blobstore.New(cfg.WitnessBlobBackend,
		blobstore.WithS3Bucket(cfg.S3Bucket), blobstore.WithS3Region(cfg.S3Region))
	if err != nil {
		log.Fatalf("construct witness blob store: %v", err)
	}

	chainClient, err := chain.NewClient(chain.Config{
		EthereumURL:            cfg.EthereumURL,
		ChainID:                cfg.EthChainID,
		PrivateKeyHex:          cfg.EthPrivateKey,
		UseContractMode:        cfg.UseSmartContractAnchors,
		AnchorContractAddress:  cfg.AnchorContractAddress,
		TransactionTimeout:     time.Duration(cfg.TransactionTimeoutSecs) * time.Second,
		OverrideGasLimit:       cfg.OverrideGasConfig,
		GasLimit:               cfg.GasLimit,
		MaxFeeBumpAttempts:     cfg.MaxFeeBumpAttempts,
		FeeBumpPercent:         cfg.FeeBumpPercent,
	}, chain.WithLogger(log.New(log.Writer(), "[ChainClient] ", log.LstdFlags)))
	if err != nil {
		log.Fatalf("construct chain client: %v", err)
	}
	if err := chainClient.Health(context.Background()); err != nil {
		log.Printf("warning: chain client health check failed at startup: %v", err)
	}

	selector := candidate.New(metadataStore, anchorStore)

	var consumer queue.Consumer
	if cfg.QueueURL != "" {
		sqsConsumer, err := queue.NewSQSConsumer(context.Background(), cfg.QueueURL, cfg.AWSRegion)
		if err != nil {
			log.Fatalf("construct sqs consumer: %v", err)
		}
		consumer = sqsConsumer
		log.Printf("running in queue mode against %s", cfg.QueueURL)
	} else {
		log.Println("running in database-poll mode (QUEUE_URL not set)")
	}

	anchorSvc := service.New(
		requestStore, anchorStore, selector, chainClient,
		merkleBlobs, witnessBlobs, consumer,
		service.Config{
			MaxStreamLimit:    cfg.MaxStreamLimit,
			MinStreamLimit:    cfg.MinStreamLimit,
			CandidateLimit:    cfg.CandidateLimit,
			MerkleDepthLimit:  cfg.MerkleDepthLimit,
			AlertOnLongAnchor: time.Duration(cfg.AlertOnLongAnchorMs) * time.Millisecond,
			ReadyTimeout:      time.Duration(cfg.ReadyTimeoutMS) * time.Millisecond,
			Promotion: database.PromotionConfig{
				MaxAnchoringDelay:  time.Duration(cfg.MaxAnchoringDelayMS) * time.Millisecond,
				ProcessingTimeout:  time.Duration(cfg.ProcessingTimeoutMS) * time.Millisecond,
				FailureRetryWindow: time.Duration(cfg.FailureRetryWindowMS) * time.Millisecond,
			},
			UseContractMode: cfg.UseSmartContractAnchors,
			ContractTxType:  "f(bytes32)",
		},
		service.WithClock(clk),
		service.WithLogger(log.New(log.Writer(), "[AnchorService] ", log.LstdFlags)),
	)

	promoter, err := batch.NewPromoter(requestStore, cfg,
		batch.WithLogger(log.New(log.Writer(), "[Promoter] ", log.LstdFlags)))
	if err != nil {
		log.Fatalf("construct promoter: %v", err)
	}

	anchorScheduler, err := scheduler.New(scheduler.Config{
		Interval: time.Duration(cfg.SchedulerIntervalMS) * time.Millisecond,
		Task: func(ctx context.Context) error {
			_, err := anchorSvc.AnchorRequests(ctx)
			return err
		},
		Logger: log.New(log.Writer(), "[AnchorScheduler] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("construct anchor scheduler: %v", err)
	}

	promotionScheduler, err := scheduler.New(scheduler.Config{
		Interval: time.Duration(cfg.SchedulerIntervalMS) * time.Millisecond,
		Task: func(ctx context.Context) error {
			if _, err := promoter.PromoteReady(ctx); err != nil {
				return err
			}
			if _, err := promoter.RecoverExpiredReady(ctx); err != nil {
				return err
			}
			if err := anchorSvc.EmitAnchorEventIfReady(ctx); err != nil {
				return err
			}
			_, err := promoter.GarbageCollect(ctx)
			return err
		},
		Logger: log.New(log.Writer(), "[PromotionScheduler] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("construct promotion scheduler: %v", err)
	}

	ctx := context.Background()
	if err := anchorScheduler.Start(ctx); err != nil {
		log.Fatalf("start anchor scheduler: %v", err)
	}
	if err := promotionScheduler.Start(ctx); err != nil {
		log.Fatalf("start promotion scheduler: %v", err)
	}
	log.Println("anchor worker running")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		dbHealth, dbErr := dbClient.Health(r.Context())
		chainErr := chainClient.Health(r.Context())
		if dbErr != nil || !dbHealth.Healthy || chainErr != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	})

	httpServer := &http.Server{
		Addr:    ":8080",
		Handler: mux,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("health server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down anchor worker")
	if err := anchorScheduler.Stop(); err != nil {
		log.Printf("anchor scheduler stop error: %v", err)
	}
	if err := promotionScheduler.Stop(); err != nil {
		log.Printf("promotion scheduler stop error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown error: %v", err)
	}

	log.Println("anchor worker stopped")
}
