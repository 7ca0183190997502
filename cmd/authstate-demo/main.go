package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/activitymap"
	"github.com/goliatone/go-authstate/adapters/featuregate"
	"github.com/goliatone/go-authstate/provider/memory"
	storememory "github.com/goliatone/go-authstate/store/memory"
	storeredis "github.com/goliatone/go-authstate/store/redis"
	"github.com/goliatone/go-authstate/store/sqlstore"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

type closableStorage interface {
	authstate.Storage
	Close() error
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("authstate"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
	logger := lgr.GetLogger("demo")

	cfg, err := authstate.LoadConfigFromEnv()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	fmt.Println(print.MaybeHighlightJSON(cfg))

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("storage", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	linkLogger := lgr.GetLogger("links")
	provider := memory.New(memory.ConfigFrom(cfg),
		memory.WithLogger(lgr.GetLogger("provider")),
		memory.WithLinkSender(memory.LinkSenderFunc(func(ctx context.Context, email, link string) error {
			linkLogger.Info("sign in link", "email", email, "link", link)
			return nil
		})),
	)
	defer provider.Close()

	// signed in users cannot drop back to an anonymous session
	var coord *authstate.StoredCoordinator
	features := featuregate.NewClaimsGate(
		featuregate.NewClaimsProvider(featuregate.WithUserSource(func() authstate.User {
			return coord.CurrentUser()
		})),
		featuregate.WithRule(authstate.FeatureAnonymous, featuregate.DenyRole(string(authstate.UserStatusAuthenticated))),
	)

	activityLogger := lgr.GetLogger("activity")
	coord = authstate.NewStoredCoordinator(provider, store,
		authstate.WithLoggerProvider(lgr),
		authstate.WithConfig(cfg),
		authstate.WithFeatureGate(features),
		authstate.WithActivitySink(activitymap.Sink(func(ctx context.Context, n activitymap.Normalized) error {
			activityLogger.Info(n.Verb, "actor", n.ActorID, "object", n.ObjectID, "metadata", n.Metadata)
			return nil
		})),
	)
	defer coord.Close()

	go watchUser(coord, lgr.GetLogger("user"))

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: true,
			StrictRouting:     false,
		}))
	})
	srv.Router().WithLogger(lgr.GetLogger("router"))

	controller := authstate.NewStoredHTTPController(coord, authstate.HTTPConfig{
		PathPrefix:     cfg.HTTPPrefix,
		LoggerProvider: lgr,
	})
	group := srv.Router().Group(cfg.HTTPPrefix)
	controller.RegisterRoutes(group)
	group.Get("/features", featureStatus(features))

	srv.Serve(cfg.HTTPAddr)

	sig := WaitExitSignal()
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func openStore(ctx context.Context, cfg authstate.Config) (closableStorage, error) {
	switch cfg.Store {
	case authstate.StoreMemory:
		return storememory.New(cfg.MemoryStoreSize)
	case authstate.StoreRedis:
		return storeredis.NewFromConfig(ctx, cfg)
	case authstate.StoreSQLite:
		return sqlstore.Open(ctx, cfg.SQLiteDSN)
	default:
		return nil, errors.New("unknown store "+cfg.Store, errors.CategoryBadInput).
			WithMetadata(map[string]any{
				"supported": []string{authstate.StoreMemory, authstate.StoreRedis, authstate.StoreSQLite},
			})
	}
}

var demoFeatures = []string{
	authstate.FeaturePasswordless,
	authstate.FeaturePassword,
	authstate.FeatureGoogle,
	authstate.FeatureAnonymous,
}

// featureStatus reports which sign in methods the current user may use.
func featureStatus(features *featuregate.ClaimsGate) router.HandlerFunc {
	return func(ctx router.Context) error {
		status := make(map[string]bool, len(demoFeatures))
		for _, key := range demoFeatures {
			enabled, err := features.Enabled(ctx.Context(), key)
			if err != nil {
				return ctx.JSON(router.StatusInternalServerError, map[string]any{"error": err.Error()})
			}
			status[key] = enabled
		}
		return ctx.JSON(router.StatusOK, map[string]any{"features": status})
	}
}

func watchUser(coord *authstate.StoredCoordinator, logger glog.Logger) {
	stream := coord.UserChanges(context.Background())
	for {
		user, err := stream.Next(context.Background())
		if err != nil {
			return
		}
		logger.Info("user changed", "id", user.ID, "status", user.Status, "email", user.Email)
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
