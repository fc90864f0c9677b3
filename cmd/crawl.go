package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/server"
	"github.com/JakeFAU/sitecrawler/internal/service"
)

type crawlFlags struct {
	maxDepth int
	maxPages int
	delay    float64
	workers  int
	render   bool
	cookie   string
	exts     []string
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl one site and print a summary",
		Long: `Runs a single crawl session to completion. Ctrl-C stops the session
gracefully; results are kept in the configured store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			return runCrawl(cmd, rt, args[0], flags)
		},
	}
	f := cmd.Flags()
	f.IntVar(&flags.maxDepth, "max-depth", 0, "maximum link depth from the start URL (0 = unlimited)")
	f.IntVar(&flags.maxPages, "max-pages", 0, "maximum pages to fetch (0 = unlimited)")
	f.Float64Var(&flags.delay, "delay", 0, "seconds each worker waits between pages")
	f.IntVar(&flags.workers, "workers", 0, "concurrent workers")
	f.BoolVar(&flags.render, "js", false, "render pages with headless Chrome")
	f.StringVar(&flags.cookie, "cookie", "", `cookies sent with every request, "a=1; b=2"`)
	f.StringSliceVar(&flags.exts, "attachments", nil, "attachment extensions, e.g. pdf,docx")
	return cmd
}

// request keeps unset flags nil so configured defaults apply.
func (f crawlFlags) request(cmd *cobra.Command, startURL string) service.StartRequest {
	req := service.StartRequest{
		StartURL:             startURL,
		RenderJavaScript:     f.render,
		CookieString:         f.cookie,
		AttachmentExtensions: f.exts,
	}
	if cmd.Flags().Changed("max-depth") {
		req.MaxDepth = &f.maxDepth
	}
	if cmd.Flags().Changed("max-pages") {
		req.MaxPages = &f.maxPages
	}
	if cmd.Flags().Changed("delay") {
		req.RequestDelay = &f.delay
	}
	if cmd.Flags().Changed("workers") {
		req.ConcurrentWorkers = &f.workers
	}
	return req
}

func runCrawl(cmd *cobra.Command, rt *runtime, startURL string, flags crawlFlags) error {
	ctx := cmd.Context()
	app, err := server.Build(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.Server.ShutdownTimeout)
		defer cancel()
		app.Close(closeCtx)
	}()

	svc := app.Service()
	session, err := svc.Start(ctx, flags.request(cmd, startURL))
	if err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}
	rt.logger.Info("crawl started",
		zap.String("session_id", session.ID),
		zap.String("start_url", session.StartURL))

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-finished:
			return
		case <-sigCtx.Done():
		}
		rt.logger.Info("interrupt received, stopping crawl", zap.String("session_id", session.ID))
		if _, err := svc.Stop(context.WithoutCancel(ctx), session.ID); err != nil &&
			!errors.Is(err, crawler.ErrSessionNotActive) {
			rt.logger.Warn("stop failed", zap.Error(err))
		}
	}()

	final, err := svc.Wait(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("wait for crawl: %w", err)
	}
	printSummary(cmd.OutOrStdout(), final)
	if final.Status == crawler.StatusFailed {
		return fmt.Errorf("crawl %s failed", final.ID)
	}
	return nil
}

func printSummary(w io.Writer, s crawler.Session) {
	elapsed := time.Duration(0)
	if s.FinishedAt != nil {
		elapsed = s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond)
	}
	fmt.Fprintf(w, "session      %s\n", s.ID)
	fmt.Fprintf(w, "status       %s\n", s.Status)
	fmt.Fprintf(w, "start url    %s\n", s.StartURL)
	fmt.Fprintf(w, "elapsed      %s\n", elapsed)
	fmt.Fprintf(w, "pages        %d (%d failed)\n", s.Counters.Pages, s.Counters.FailedPages)
	fmt.Fprintf(w, "flows        %d\n", s.Counters.Flows)
	fmt.Fprintf(w, "attachments  %d\n", s.Counters.Attachments)
	fmt.Fprintf(w, "external     %d\n", s.Counters.ExternalURLs)
	fmt.Fprintf(w, "internal     %d\n", s.Counters.InternalLinks)
}
