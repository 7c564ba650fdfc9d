package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coupuas/threadauto/internal/generate"
	"github.com/coupuas/threadauto/internal/notify"
	"github.com/coupuas/threadauto/internal/orchestrator"
	"github.com/coupuas/threadauto/internal/product"
	"github.com/coupuas/threadauto/internal/queue"
	"github.com/coupuas/threadauto/internal/threads"
)

var (
	linksFile string
	headless  bool
)

var runCmd = &cobra.Command{
	Use:   "run [links...]",
	Short: "Upload a batch of product links",
	Long: `Reads Coupang Partners links from the arguments or from a file, skips
links already in the upload history, and posts the rest one by one. A second
Ctrl-C hard-kills; the first one finishes the current item and stops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(verbose)
		if err != nil {
			return err
		}
		return runBatch(cmd.Context(), app, args)
	},
}

func init() {
	runCmd.Flags().StringVarP(&linksFile, "file", "f", "", "file with product links, one per line or free-form text")
	runCmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window (login must already be saved)")
	rootCmd.AddCommand(runCmd)
}

// collectLinks merges argument links with the links file and filters out
// anything that is not an allowed product URL.
func collectLinks(args []string) ([]string, error) {
	text := ""
	if linksFile != "" {
		raw, err := os.ReadFile(linksFile)
		if err != nil {
			return nil, fmt.Errorf("reading links file: %w", err)
		}
		text = string(raw)
	}

	links := product.ExtractLinks(text)
	for _, a := range args {
		if product.AllowedURL(a) {
			links = append(links, a)
		}
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("no valid product links given")
	}
	return links, nil
}

func runBatch(ctx context.Context, app *App, args []string) error {
	links, err := collectLinks(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, db, err := app.openHistory(ctx)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer db.Close()

	uploaded, err := repo.UploadedSet(ctx)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	q := queue.New(func(u string) bool {
		_, ok := uploaded[u]
		return ok
	})
	accepted := 0
	for _, l := range links {
		if q.Push(queue.WorkItem{URL: l}) {
			accepted++
		}
	}
	fmt.Printf("Queued %d of %d links (%d duplicates or already uploaded)\n",
		accepted, len(links), len(links)-accepted)
	if accepted == 0 {
		return nil
	}

	client := app.backendClient(ctx)
	if err := app.ensureBackendLogin(ctx, client); err != nil {
		return fmt.Errorf("backend login: %w", err)
	}

	browser, err := threads.Launch(ctx, threads.BrowserOptions{
		Headless: headless || app.cfg.Headless,
		Account:  app.cfg.Account,
	}, app.vault, app.log)
	if err != nil {
		return err
	}
	defer browser.Close(ctx)

	session := threads.NewSession(browser.Page(), app.cfg.Account, app.cfg.LoginWait, app.log)
	resolver := threads.NewResolver(app.cfg.ThreadsBaseURL, app.cfg.ThreadsFallbacks,
		app.cfg.RetriesPerDomain, app.cfg.NavTimeout, app.log)
	base, err := resolver.Resolve(ctx, session)
	if err != nil {
		return err
	}
	session.SetBase(base)

	tg := notify.NewTelegram(app.cfg.TelegramBotToken, app.cfg.TelegramChatID, app.log)

	orch := orchestrator.New(orchestrator.Deps{
		Queue:     q,
		Quota:     client,
		Poster:    session,
		Generator: generate.NewGenerator(app.cfg.AnthropicAPIKey, app.log),
		Parser:    product.NewParser(app.log),
		History:   repo,
		Logger:    app.log,
		Interval:  app.cfg.UploadInterval,
		Heartbeat: func(ctx context.Context, task string) {
			if err := client.Heartbeat(ctx, task); err != nil {
				app.log.Debug(ctx, "heartbeat failed", "error", err)
			}
		},
		Events: orchestrator.Events{
			Progress: func(phase, detail string) {
				app.log.Debug(ctx, "progress", "phase", phase, "detail", detail)
			},
			Item: func(d orchestrator.ItemDetail) {
				fmt.Printf("  [%s] %s %s\n", d.Status, d.URL, d.Error)
			},
		},
	})

	res, runErr := orch.Run(ctx)
	tg.SendBatchResult(context.WithoutCancel(ctx), res)

	fmt.Printf("\nBatch finished: %d total, %d uploaded, %d failed, %d parse failures, %d skipped",
		res.Total, res.Uploaded, res.Failed, res.ParseFailed, res.Skipped)
	if res.Cancelled {
		fmt.Print(" (cancelled)")
	}
	fmt.Println()

	if runErr != nil {
		tg.SendError(context.WithoutCancel(ctx), runErr.Error())
		return runErr
	}
	return nil
}
