package commands

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aton-render/atonstream/client"
)

var quitHost string

func init() {
	rootCmd.AddCommand(quitCmd)
	quitCmd.Flags().StringVar(&quitHost, "host", client.Host(), "Server host, defaults to ATON_HOST")
}

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Ask a server to stop listening",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if !client.ValidHost(quitHost) {
			logrus.Fatalf("Invalid host: %q", quitHost)
		}
		c := client.New(quitHost, conf.Listen.Port, client.Options{})
		if err := c.Quit(rootCtx); err != nil {
			logrus.WithError(errors.Cause(err)).Fatal("Quit failed")
		}
		logrus.WithField("server", c.Addr()).Info("Quit sent")
	},
}
