// -- cmd/auth.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/authmon"
	"github.com/xkilldash9x/webpilot/internal/ledger"
	"github.com/xkilldash9x/webpilot/internal/observability"
	corepage "github.com/xkilldash9x/webpilot/internal/page"
	"github.com/xkilldash9x/webpilot/internal/page/cdp"
	"github.com/xkilldash9x/webpilot/internal/poll"
)

const shutdownGracePeriod = 10 * time.Second

// authReport is the JSON artifact an auth run produces.
type authReport struct {
	Status        schemas.AuthStatus `json:"status"`
	FinalURL      string             `json:"finalUrl,omitempty"`
	MergedHeaders schemas.HeaderMap  `json:"mergedHeaders,omitempty"`
	Cookies       []schemas.Cookie   `json:"cookies,omitempty"`
	ExchangeCount int                `json:"exchangeCount"`
}

// newAuthCmd creates the `auth` command: navigate to a URL, wait for the user
// (or the site itself) to reach an authenticated state, then dump the
// captured headers and cookies.
func newAuthCmd() *cobra.Command {
	var (
		successURL     string
		selector       string
		timeout        time.Duration
		show           bool
		matchSubstring string
		outputPath     string
		screenshotPath string
	)

	authCmd := &cobra.Command{
		Use:   "auth <url>",
		Short: "Opens a page and waits until it reaches an authenticated state",
		Long: `Opens the given URL in an embedded browser and polls until authentication
is detected, either because the location reached --success-url or because an
element matching --selector appeared. On success the merged request headers
and cookies observed during the session are written as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if successURL == "" && selector == "" {
				return errors.New("one of --success-url or --selector is required")
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			target := args[0]
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				target = "https://" + target
			}

			cfg := currentConfig()
			if show {
				cfg.Browser.Headless = false
			}

			surface, err := cdp.NewSurface(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("launching browser surface: %w", err)
			}

			pg, err := corepage.New(ctx, cfg, surface, logger)
			if err != nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
				defer cancel()
				_ = surface.Close(closeCtx)
				return fmt.Errorf("creating page: %w", err)
			}
			surface.StartPump(pg.Bus())

			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
				defer cancel()
				if err := pg.Close(closeCtx); err != nil {
					logger.Warn("Page close reported an error.", zap.Error(err))
				}
			}()

			evaluator := buildEvaluator(successURL, selector)

			var report authReport
			authDone := make(chan struct{})
			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				defer close(authDone)

				status, err := pg.Authenticate(gctx, target, evaluator, poll.Options{Timeout: timeout})
				var authErr *authmon.AuthError
				switch {
				case errors.As(err, &authErr):
					report.Status = schemas.StatusTimedOut
					logger.Warn("Authentication timed out.",
						zap.Duration("elapsed", authErr.Elapsed),
						zap.Int("attempts", authErr.Attempts))
					return nil
				case err != nil:
					return err
				}

				report.Status = status
				if status != schemas.StatusAuthenticated {
					return nil
				}

				report.MergedHeaders = pg.GetRequestHeaders(ledger.URLContains(matchSubstring))
				report.ExchangeCount = len(pg.GetRequests())
				if url, err := pg.CurrentURL(gctx); err == nil {
					report.FinalURL = url
				}
				if cookies, err := pg.Cookies(gctx, ""); err == nil {
					report.Cookies = cookies
				} else {
					logger.Warn("Could not collect cookies.", zap.Error(err))
				}

				if screenshotPath != "" {
					shot, err := pg.Screenshot(gctx, schemas.ScreenshotOptions{Format: "png", FullPage: true})
					if err != nil {
						logger.Warn("Screenshot capture failed.", zap.Error(err))
					} else if err := os.WriteFile(screenshotPath, shot, 0o644); err != nil {
						logger.Warn("Could not write screenshot.", zap.String("path", screenshotPath), zap.Error(err))
					}
				}
				return nil
			})

			// Closing the page on interrupt unblocks the wait immediately
			// and turns it into a cancelled verdict.
			g.Go(func() error {
				select {
				case <-gctx.Done():
					closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
					defer cancel()
					_ = pg.Close(closeCtx)
					return gctx.Err()
				case <-authDone:
					return nil
				}
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return writeReport(report, outputPath)
		},
	}

	authCmd.Flags().StringVar(&successURL, "success-url", "", "substring of the location that marks authentication success")
	authCmd.Flags().StringVar(&selector, "selector", "", "CSS selector whose presence marks authentication success")
	authCmd.Flags().DurationVar(&timeout, "timeout", 0, "authentication wait timeout (default from config)")
	authCmd.Flags().BoolVar(&show, "show", false, "run the browser with a visible window")
	authCmd.Flags().StringVar(&matchSubstring, "match", "", "only merge headers from request URLs containing this substring")
	authCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the JSON report to this file instead of stdout")
	authCmd.Flags().StringVar(&screenshotPath, "screenshot", "", "capture a full-page screenshot on success")

	return authCmd
}

// buildEvaluator assembles the authentication predicate from the flag pair.
// When both are set, either signal counts as authenticated.
func buildEvaluator(successURL, selector string) corepage.AuthEvaluator {
	return func(ctx context.Context, p *corepage.Page) (bool, error) {
		if successURL != "" {
			url, err := p.CurrentURL(ctx)
			if err != nil {
				return false, err
			}
			if strings.Contains(url, successURL) {
				return true, nil
			}
		}
		if selector != "" {
			var found bool
			probe := fmt.Sprintf("!!document.querySelector(%q)", selector)
			if err := p.Evaluate(ctx, probe, &found); err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
		return false, nil
	}
}

func writeReport(report authReport, outputPath string) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	data = append(data, '\n')

	if outputPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("writing report to %s: %w", outputPath, err)
	}
	return nil
}
