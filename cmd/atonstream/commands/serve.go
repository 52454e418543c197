package commands

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wojas/go-healthz"
	"golang.org/x/sync/errgroup"

	"github.com/aton-render/atonstream/compositor"
	"github.com/aton-render/atonstream/framebuffer"
	"github.com/aton-render/atonstream/notify"
	"github.com/aton-render/atonstream/server"
	"github.com/aton-render/atonstream/status"
	"github.com/aton-render/atonstream/status/healthtracker"
	"github.com/aton-render/atonstream/status/starttracker"
)

var (
	multiFrame bool
	enableAOVs bool
	httpAddr   string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&multiFrame, "multi-frame", false, "Keep one image per frame, overrides store.multi_frame")
	serveCmd.Flags().BoolVar(&enableAOVs, "enable-aovs", true, "Keep all AOVs, not only the first, overrides store.enable_aovs")
	serveCmd.Flags().StringVar(&httpAddr, "http", "", "HTTP status address, overrides http.address")
}

// listenerCheckInterval is how often healthz checks that the listener is up
const listenerCheckInterval = 5 * time.Second

func runServe(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	if cmd.Flags().Changed("multi-frame") {
		conf.Store.MultiFrame = multiFrame
	}
	if cmd.Flags().Changed("enable-aovs") {
		conf.Store.EnableAOVs = enableAOVs
	}
	if cmd.Flags().Changed("http") {
		conf.HTTP.Address = httpAddr
	}

	l := logrus.StandardLogger()
	store := framebuffer.New(l, conf.Store.LockWarn)
	comp := compositor.New(l, store, notify.New(l), compositor.Options{
		MultiFrame: conf.Store.MultiFrame,
		EnableAOVs: conf.Store.EnableAOVs,
	})

	startup := starttracker.New(conf.Startup)
	startup.Register()
	health := healthtracker.New(conf.Health, "renderer", "stream")
	health.Register()

	srv := server.New(l, comp, server.Options{
		Address:        conf.Listen.Address,
		MaxConnections: conf.Listen.MaxConnections,
		Health:         health,
	})
	if err := srv.Start(conf.Listen.Port); err != nil {
		return err
	}
	defer srv.Stop()
	startup.SetListening()

	healthz.Register("renderer_listener", listenerCheckInterval, func() error {
		if !srv.Listening() {
			if msg := srv.Err(); msg != "" {
				return errors.New(msg)
			}
			return errors.New("not listening")
		}
		return nil
	})
	healthz.AddBuildInfo()
	if hostname, err := os.Hostname(); err == nil {
		healthz.SetMeta("hostname", hostname)
	}
	healthz.SetMeta("version", version)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		h := status.NewRouter(conf, comp, srv)
		return status.Serve(ctx, conf.HTTP.Address, h, startup.SetServing)
	})
	eg.Go(func() error {
		select {
		case <-srv.Done():
			logrus.Info("Listener ended after a quit message, exiting")
			cancel()
		case <-ctx.Done():
			logrus.Info("Shutting down")
			srv.Stop()
		}
		return nil
	})

	logrus.WithFields(logrus.Fields{
		"port":        srv.Port(),
		"multi_frame": conf.Store.MultiFrame,
		"enable_aovs": conf.Store.EnableAOVs,
	}).Info("Ready for renderers")
	return eg.Wait()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive renders and serve them over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd); err != nil {
			logrus.WithError(err).Fatal("Error")
		}
	},
}
