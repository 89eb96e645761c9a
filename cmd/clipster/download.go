package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"clipster/internal/artifact"
	"clipster/internal/jobapi"
	xlog "clipster/internal/log"
	"clipster/internal/platform"
	"clipster/internal/pushchannel"
	"clipster/internal/session"
)

type downloadOptions struct {
	quality  string
	platform string
	noSave   bool
}

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	dl := &downloadOptions{}

	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download a media URL through the backend",
		Long:  "Submits the URL, starts a job at the chosen quality (default: best offered), follows its progress over the push channel and saves the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, opts, dl, args[0])
		},
	}

	cmd.Flags().StringVarP(&dl.quality, "quality", "q", "", "quality to request (default: last offered)")
	cmd.Flags().StringVarP(&dl.platform, "platform", "p", "", "platform override ("+platformChoices()+")")
	cmd.Flags().BoolVar(&dl.noSave, "no-save", false, "only print the download URL, do not save the file")
	return cmd
}

func runDownload(cmd *cobra.Command, opts *rootOptions, dl *downloadOptions, rawURL string) error {
	cfg := opts.cfg
	logger := xlog.WithComponent("cli")

	p, err := platform.Parse(dl.platform)
	if err != nil {
		return err
	}

	api, err := jobapi.New(cfg.APIURL, jobapi.WithTimeout(cfg.HTTPTimeout))
	if err != nil {
		return err
	}
	pc := pushchannel.New(cfg.PushURL, pushchannel.WithReconnect(cfg.Reconnect.Attempts, cfg.Reconnect.Delay))

	var ctrlOpts []session.Option
	if !dl.noSave {
		ctrlOpts = append(ctrlOpts, session.WithRetriever(artifact.New(cfg.DownloadDir, artifact.WithBaseURL(cfg.APIURL))))
	}
	ctrl := session.NewController(api, pc, ctrlOpts...)
	defer ctrl.Close()
	pc.Attach(ctrl)
	defer pc.Detach()
	if p != platform.Auto {
		ctrl.SetPlatform(p)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error {
		return ignoreCanceled(pc.Run(runCtx))
	})
	g.Go(func() error {
		return ignoreCanceled(ctrl.Run(runCtx, pc.Events()))
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			return srv.Close()
		})
	}

	g.Go(func() error {
		defer cancelRun()
		return drive(runCtx, ctrl, dl, newRenderer(cmd.OutOrStdout()), rawURL)
	})

	return g.Wait()
}

// drive walks the session through submit, quality choice and job start,
// then renders snapshots until the attempt ends.
func drive(ctx context.Context, ctrl *session.Controller, dl *downloadOptions, r *renderer, rawURL string) error {
	updates, unwatch := ctrl.Watch()
	defer unwatch()

	// Job creation carries the socket id, so wait for the push channel first.
	if err := waitConnected(ctx, updates, r); err != nil {
		return err
	}

	if err := ctrl.Submit(ctx, rawURL); err != nil {
		return err
	}
	r.info(ctrl.Snapshot())

	if dl.quality != "" {
		if err := ctrl.ChooseQuality(dl.quality); err != nil {
			return err
		}
	}
	if err := ctrl.StartDownload(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return errors.New("session closed")
			}
			r.show(s)
			if !s.Terminal() {
				continue
			}
			if s.State == session.StateFailed {
				return fmt.Errorf("download failed: %s", s.LastError)
			}
			ctrl.Wait()
			r.done(ctrl.Snapshot())
			return nil
		}
	}
}

func waitConnected(ctx context.Context, updates <-chan session.Session, r *renderer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return errors.New("session closed")
			}
			r.show(s)
			if s.Connection == session.ConnectionConnected {
				return nil
			}
		}
	}
}

func platformChoices() string {
	names := []string{platform.Auto.String()}
	for _, p := range platform.All() {
		names = append(names, p.String())
	}
	return strings.Join(names, ", ")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
