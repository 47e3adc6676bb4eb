package main

import (
	"flag"
	"log"
	"time"

	"github.com/bizmatch-io/bizmatch/internal/api"
	"github.com/bizmatch-io/bizmatch/internal/auth"
	"github.com/bizmatch-io/bizmatch/internal/config"
	"github.com/bizmatch-io/bizmatch/internal/database"
	"github.com/bizmatch-io/bizmatch/internal/email"
	"github.com/bizmatch-io/bizmatch/internal/entitlement"
	"github.com/bizmatch-io/bizmatch/internal/kv"
	"github.com/bizmatch-io/bizmatch/internal/payments"
	"github.com/bizmatch-io/bizmatch/internal/reportstore"
	"github.com/bizmatch-io/bizmatch/internal/scoring"
	"github.com/bizmatch-io/bizmatch/internal/staging"
	"github.com/bizmatch-io/bizmatch/internal/store"
)

const version = "0.0.1"

func initializeAPI(configPath string) (*api.Api, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	db, dialect, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}

	st := store.New(db, dialect)

	cache := kv.NewMemoryStore(5 * time.Minute)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret)
	gate := auth.NewGate(st, cache, tokens,
		cfg.Session.CookieName, cfg.Session.Secure,
		time.Duration(cfg.Session.TTLHours)*time.Hour,
		time.Duration(cfg.Session.FallbackHours)*time.Hour,
		time.Duration(cfg.Auth.JWTTTLHours)*time.Hour,
	)

	reconciler := staging.NewReconciler(st, cache, time.Duration(cfg.Staging.TTLHours)*time.Hour)

	entitlements := entitlement.New(st, entitlement.Pricing{
		Currency:             cfg.Pricing.Currency,
		FirstReportCents:     cfg.Pricing.FirstReportCents,
		ReturningReportCents: cfg.Pricing.ReturningReportCents,
		AccessPassCents:      cfg.Pricing.AccessPassCents,
		RetakeBundleCents:    cfg.Pricing.RetakeBundleCents,
		RetakeBundleSize:     cfg.Pricing.RetakeBundleSize,
	})

	var sender email.Sender
	if cfg.SMTP.Server != "" {
		sender = email.NewSMTPSender(cfg.SMTP.Server, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		log.Println("SMTP not configured, outbound email disabled")
		sender = email.NoopSender{}
	}

	processor := payments.NewHTTPProcessor(cfg.Processor.BaseURL, cfg.Processor.APIKey)
	paymentSvc := payments.New(st, entitlements, reconciler, processor, sender, cfg.Processor.CheckoutBaseURL)

	var archive *reportstore.Archive
	if cfg.Reports.S3Endpoint != "" {
		archive, err = reportstore.NewArchive(
			cfg.Reports.S3Endpoint, cfg.Reports.S3Region, cfg.Reports.S3Bucket,
			cfg.Reports.S3AccessKey, cfg.Reports.S3SecretKey,
		)
		if err != nil {
			return nil, err
		}
	} else {
		log.Println("Report archive not configured, reports served inline only")
	}

	return api.New(api.Deps{
		Config:       cfg,
		Store:        st,
		Gate:         gate,
		Reconciler:   reconciler,
		Entitlements: entitlements,
		Payments:     paymentSvc,
		Scorer:       scoring.NewHTTPScorer(cfg.Scoring.BaseURL),
		Archive:      archive,
		Sender:       sender,
	})
}

func main() {
	configPath := flag.String("config", "app.yml", "Path to configuration file")
	flag.Parse()

	log.Printf("Starting BizMatch API v%s with config: %s", version, *configPath)

	api, err := initializeAPI(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	api.Serve()
}
