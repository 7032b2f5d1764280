package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lava-reports/internal/cache"
	"lava-reports/internal/config"
	"lava-reports/internal/denom"
	"lava-reports/internal/directory"
	"lava-reports/internal/locator"
	"lava-reports/internal/node"
	"lava-reports/internal/normalize"
	"lava-reports/internal/notify"
	"lava-reports/internal/pricing"
	"lava-reports/internal/report"
	"lava-reports/internal/storage"
	"lava-reports/internal/worker"
)

const userAgent = "lavareport/1.0"

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	now func() time.Time
	out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), now: time.Now, out: os.Stdout}
}

// runtime holds the collaborators built for one command.
type runtime struct {
	builder *report.Builder
	rates   *pricing.RateCache
	close   func()
}

func (a *App) openCaches(ctx context.Context) (responses, ibc cache.Store, closer func(), err error) {
	cfg := a.Config.Cache
	switch cfg.Backend {
	case "none":
		return cache.Nop{}, cache.Nop{}, func() {}, nil
	case "redis":
		client, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return cache.NewRedisStore(client, cfg.Prefix, cfg.TTL),
			cache.NewRedisStore(client, cfg.Prefix+":ibc", cfg.IBCTTL),
			func() { closeRedis(client) }, nil
	default:
		responses, err := cache.NewFileStore(cache.FileOptions{Dir: filepath.Join(cfg.Dir, "responses"), Prefix: cfg.Prefix, TTL: cfg.TTL})
		if err != nil {
			return nil, nil, nil, err
		}
		ibc, err := cache.NewFileStore(cache.FileOptions{Dir: filepath.Join(cfg.Dir, "ibc"), Prefix: cfg.Prefix, TTL: cfg.IBCTTL})
		if err != nil {
			return nil, nil, nil, err
		}
		return responses, ibc, func() {}, nil
	}
}

func closeRedis(client *redis.Client) {
	_ = client.Close()
}

func (a *App) newRuntime(ctx context.Context) (*runtime, error) {
	cfg := a.Config

	responses, ibcStore, closeCaches, err := a.openCaches(ctx)
	if err != nil {
		return nil, fmt.Errorf("open caches: %w", err)
	}

	cli := node.NewCLI(node.CLIOptions{
		Binary:     cfg.Node.Binary,
		NodeURL:    cfg.Node.RPCURL,
		Timeout:    cfg.Node.Timeout,
		MaxRetries: cfg.Node.MaxRetries,
		RPS:        cfg.Node.RPS,
	}, node.ExecRunner{}, a.Logger)
	chain := node.NewChain(node.NewCached(cli, responses, a.Logger))

	table, err := denom.LoadTable(cfg.Prices.DenomMapPath, a.Logger)
	if err != nil {
		closeCaches()
		return nil, err
	}

	gecko := pricing.NewCoinGecko(pricing.CoinGeckoOptions{
		BaseURL:   cfg.Prices.BaseURL,
		APIKey:    cfg.Prices.APIKey,
		Timeout:   cfg.Prices.Timeout,
		RPS:       cfg.Prices.RPS,
		UserAgent: userAgent,
	}, a.Logger)
	rates := pricing.NewRateCache(gecko, pricing.CacheOptions{
		TTL:     cfg.Prices.TTL,
		MinRate: decimal.NewFromFloat(cfg.Prices.MinRate),
		MaxRate: decimal.NewFromFloat(cfg.Prices.MaxRate),
		Seeds:   pricing.SeedsFromFloats(cfg.Prices.SeedRates),
	}, a.Logger)

	norm := normalize.New(table, denom.NewIBCResolver(chain, ibcStore, a.Logger), rates, normalize.Options{
		MinAmount: decimal.NewFromFloat(cfg.Normalizer.MinAmount),
		MaxAmount: decimal.NewFromFloat(cfg.Normalizer.MaxAmount),
	}, a.Logger)

	loc := locator.New(chain, locator.Options{
		BlocksPerDay: cfg.Locator.BlocksPerDay,
		Window:       cfg.Locator.Window,
		Tolerance:    cfg.Locator.Tolerance,
	}, a.Logger)

	dir := directory.New(directory.Options{
		ProvidersURL:  cfg.Directory.ProvidersURL,
		ValidatorsURL: cfg.Directory.ValidatorsURL,
		Timeout:       cfg.Directory.Timeout,
		UserAgent:     userAgent,
	}, a.Logger).WithStaking(chain)

	pool := worker.NewPool(worker.Options{
		Concurrency: cfg.Workers.Concurrency,
		Timeout:     cfg.Workers.BatchTimeout,
	}, a.Logger)

	builder := report.NewBuilder(report.Deps{
		Chain:      chain,
		Locator:    loc,
		Directory:  dir,
		Normalizer: norm,
		Pool:       pool,
		Now:        a.now,
	}, a.Logger)

	return &runtime{builder: builder, rates: rates, close: closeCaches}, nil
}

func (a *App) newNotifier() notify.Notifier {
	if a.Config.Notify.Telegram.Enabled {
		cfg := a.Config.Notify.Telegram
		return notify.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// publish writes doc, announces it and reports a timed out batch as an error
// after the partial report is on disk.
func (a *App) publish(ctx context.Context, doc report.Document) (string, error) {
	writer := report.NewWriter(a.Config.Output.Dir, a.now, a.Logger)
	path, err := writer.Write(doc.Name(), doc)
	if err != nil {
		return "", err
	}

	if notifier := a.newNotifier(); notifier != nil {
		note := notify.Notification{
			Report:     doc.Name(),
			Path:       path,
			Network:    a.Config.App.Network,
			Highlights: doc.Highlights(),
			Partial:    doc.Partial(),
			FinishedAt: a.now(),
		}
		if err := notifier.Notify(ctx, note); err != nil {
			a.Logger.Error().Err(err).Str("report", doc.Name()).Msg("failed to dispatch report summary")
		}
	}

	for _, line := range doc.Highlights() {
		a.Logger.Info().Str("report", doc.Name()).Msg(line)
	}
	if doc.Partial() {
		return path, fmt.Errorf("%s report is partial: %w", doc.Name(), worker.ErrTimeout)
	}
	return path, nil
}

// withRuntime builds the collaborators, runs fn until it returns or the
// process is interrupted, and releases them.
func (a *App) withRuntime(ctx context.Context, fn func(context.Context, *runtime) error) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	err = fn(ctx, rt)
	var lerr *locator.LocatorError
	if errors.As(err, &lerr) {
		a.Logger.Error().Str("kind", lerr.Kind.String()).Int64("height", lerr.Height).Msg("block locator aborted")
	}
	return err
}

// IntervalOptions configure the interval command.
type IntervalOptions struct {
	Months int
	Days   []int
	Supply bool
}

// SupplyOptions configure the supply command.
type SupplyOptions struct {
	Days    int
	Archive bool
}

// ExportOptions hold parameters for exporting supply history.
type ExportOptions struct {
	From       *time.Time
	To         *time.Time
	ReportPath string
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit      int
	ReportPath string
}

// ValueOptions configure the value command.
type ValueOptions struct {
	Tokens []string
	Save   bool
}
