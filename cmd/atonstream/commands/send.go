package commands

import (
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aton-render/atonstream/client"
	"github.com/aton-render/atonstream/wire"
)

var (
	sendHost      string
	sendSession   int64
	sendName      string
	sendWidth     int
	sendHeight    int
	sendBucket    int
	sendFrames    []float32
	sendAOVs      []string
	sendDelay     time.Duration
	sendMemory    string
	sendReconnect string
	sendVersion   string
)

func init() {
	rootCmd.AddCommand(sendCmd)
	f := sendCmd.Flags()
	f.StringVar(&sendHost, "host", client.Host(), "Server host, defaults to ATON_HOST")
	f.Int64Var(&sendSession, "session", 0, "Session id, defaults to the current time in milliseconds")
	f.StringVar(&sendName, "name", "synth", "Output name")
	f.IntVar(&sendWidth, "width", 640, "Image width")
	f.IntVar(&sendHeight, "height", 360, "Image height")
	f.IntVar(&sendBucket, "bucket", 64, "Bucket size")
	f.Float32SliceVar(&sendFrames, "frames", []float32{1}, "Frames to render")
	f.StringSliceVar(&sendAOVs, "aovs", []string{"RGBA:4", "Z:1", "N:3"}, "AOVs as name:spp, the first is the primary AOV")
	f.DurationVar(&sendDelay, "delay", 0, "Pause after every bucket")
	f.StringVar(&sendMemory, "memory", "512MB", "Renderer memory to report")
	f.StringVar(&sendReconnect, "reconnect", "never", "Reconnect mode: never or per-bucket")
	f.StringVar(&sendVersion, "renderer-version", "7.2.1.0", "Renderer version to report")
}

// parseAOVs parses name:spp pairs
func parseAOVs(specs []string) ([]client.AOV, error) {
	var aovs []client.AOV
	for _, s := range specs {
		name, sppStr, ok := strings.Cut(s, ":")
		if !ok || name == "" {
			return nil, errors.Errorf("aov %q: expected name:spp", s)
		}
		spp, err := strconv.Atoi(sppStr)
		if err != nil || spp < 1 || spp > wire.MaxSPP {
			return nil, errors.Errorf("aov %q: invalid spp", s)
		}
		aovs = append(aovs, client.AOV{Name: name, SPP: spp})
	}
	names := lo.Map(aovs, func(a client.AOV, _ int) string { return a.Name })
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		return nil, errors.Errorf("duplicate aovs: %v", dups)
	}
	return aovs, nil
}

func parseReconnect(s string) (client.Reconnect, error) {
	switch s {
	case "never":
		return client.ReconnectNever, nil
	case "per-bucket":
		return client.ReconnectPerBucket, nil
	}
	return 0, errors.Errorf("invalid reconnect mode: %q", s)
}

func runSend() error {
	if !client.ValidHost(sendHost) {
		return errors.Errorf("invalid host: %q", sendHost)
	}
	aovs, err := parseAOVs(sendAOVs)
	if err != nil {
		return err
	}
	reconnect, err := parseReconnect(sendReconnect)
	if err != nil {
		return err
	}
	var memory datasize.ByteSize
	if err := memory.UnmarshalText([]byte(sendMemory)); err != nil {
		return errors.Wrap(err, "memory")
	}
	rv, err := wire.ParseVersion(sendVersion)
	if err != nil {
		return err
	}
	if sendSession == 0 {
		sendSession = client.UniqueID()
	}

	c := client.New(sendHost, conf.Listen.Port, client.Options{
		Reconnect: reconnect,
	})
	defer func() { _ = c.Close() }()

	s := &client.Synth{
		Session:    sendSession,
		OutputName: sendName,
		Width:      sendWidth,
		Height:     sendHeight,
		BucketSize: sendBucket,
		Frames:     sendFrames,
		AOVs:       aovs,
		Memory:     memory,
		Delay:      sendDelay,
		Version:    rv,
	}
	logrus.WithFields(logrus.Fields{
		"server":  c.Addr(),
		"session": s.Session,
		"size":    strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height),
		"frames":  len(s.Frames),
	}).Info("Sending synthetic render")
	return s.Render(rootCtx, c)
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Stream a synthetic test render to a server",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSend(); err != nil {
			logrus.WithError(err).Fatal("Error")
		}
	},
}
