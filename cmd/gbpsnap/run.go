package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/gbpsnap/internal/artifacts"
	"github.com/FranksOps/gbpsnap/internal/browser"
	"github.com/FranksOps/gbpsnap/internal/config"
	"github.com/FranksOps/gbpsnap/internal/executor"
	"github.com/FranksOps/gbpsnap/internal/fingerprint"
	"github.com/FranksOps/gbpsnap/internal/metrics"
	"github.com/FranksOps/gbpsnap/internal/pipeline"
	"github.com/FranksOps/gbpsnap/internal/records"
	"github.com/FranksOps/gbpsnap/internal/scraper"
	"github.com/FranksOps/gbpsnap/internal/serp"
	"github.com/FranksOps/gbpsnap/internal/sink"
	"github.com/FranksOps/gbpsnap/pkg/proxy"
	"github.com/FranksOps/gbpsnap/pkg/useragent"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process an input CSV (or sitemap) and write results",
	Args:  cobra.NoArgs,
	RunE:  runPipeline,
}

func init() {
	config.RunFlags(runCmd.Flags())
	config.StorageFlags(runCmd.Flags())
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.MetricsPort > 0 {
		srv := metrics.Start(cfg.MetricsPort, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	history, err := openHistory(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	proxies := proxy.NewPool(proxy.Config{})
	if cfg.ProxiesFile != "" {
		if err := proxies.LoadFile(cfg.ProxiesFile); err != nil {
			return err
		}
	}
	agents := useragent.NewPool(nil)
	if cfg.UserAgentsFile != "" {
		if agents, err = useragent.LoadFile(cfg.UserAgentsFile); err != nil {
			return err
		}
	}

	fetcher, err := newFetcher(cfg, proxies, agents)
	if err != nil {
		return err
	}

	bcfg := browser.Config{
		Headless:       cfg.Browser.Headless,
		ExecPath:       cfg.Browser.ExecPath,
		RemoteURL:      cfg.Browser.RemoteURL,
		UserAgent:      cfg.Browser.UserAgent,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		Width:          cfg.Browser.Width,
		Height:         cfg.Browser.Height,
	}
	if bcfg.UserAgent == "" {
		bcfg.UserAgent = agents.Random()
	}
	if u := proxies.Next(); u != nil {
		bcfg.ProxyServer = proxy.ServerArg(u)
	}
	// Chrome starts with the first job, after the input has loaded. It
	// outlives ctx so that in-flight jobs can finish after an interrupt.
	chrome := browser.NewLazy(ctx, bcfg, logger)
	defer chrome.Close()

	opts := []executor.Option{
		executor.WithLogger(logger),
		executor.WithURLs(serp.Google{
			Host:     cfg.Search.Host,
			Language: cfg.Search.Language,
			Country:  cfg.Search.Country,
		}),
	}
	if cfg.Prefetch.Enabled {
		var robots *scraper.RobotsTxtAuditor
		if cfg.Prefetch.Robots {
			robots = scraper.NewRobotsTxtAuditor(fetcher, logger)
		}
		opts = append(opts, executor.WithProbe(scraper.NewProbe(fetcher, robots, cfg.Prefetch.Agent, logger)))
	}
	exec := executor.New(chrome, registry, artifacts.NewStore(cfg.Output.Artifacts), executor.Config{
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		StepTimeout:    cfg.StepTimeout,
		AttemptTimeout: cfg.AttemptTimeout,
	}, opts...)

	p := pipeline.New(loader(cfg, fetcher, logger), exec, pipeline.Config{
		Mode:        cfg.Mode,
		Concurrency: cfg.Concurrency,
		JobDelay:    cfg.JobDelay,
		Jitter:      cfg.Jitter,
		Files: sink.Files{
			Results: cfg.Output.Results,
			Errors:  cfg.Output.Errors,
			Summary: cfg.Output.Summary,
		},
		HTMLReport: cfg.Output.Report,
	}, pipeline.WithHistory(history), pipeline.WithLogger(logger))

	res, err := p.Run(ctx)
	if res != nil {
		fmt.Fprintln(cmd.OutOrStdout(), res.Summary.Line())
		fmt.Fprintf(cmd.OutOrStdout(), "results: %s\n", cfg.Output.Results)
	}
	return err
}

func newFetcher(cfg *config.Config, proxies *proxy.Pool, agents *useragent.Pool) (*scraper.Fetcher, error) {
	profile, err := fingerprint.ParseProfile(cfg.Prefetch.Fingerprint)
	if err != nil {
		return nil, err
	}
	fc := scraper.FetchConfig{
		Timeout:        cfg.Prefetch.Timeout,
		UseCookieJar:   true,
		UAPool:         agents,
		Fingerprint:    profile,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
	}
	if proxies.Len() > 0 {
		fc.ProxyPool = proxies
	}
	return scraper.NewFetcher(fc)
}

func loader(cfg *config.Config, fetcher *scraper.Fetcher, logger *slog.Logger) pipeline.Loader {
	opts := records.Options{DefaultFlow: cfg.Flow}
	if cfg.Sitemap != "" {
		return pipeline.SitemapSource(scraper.NewSitemapFetcher(fetcher, logger), cfg.Sitemap, opts)
	}
	return pipeline.CSVSource(cfg.Input, opts)
}
