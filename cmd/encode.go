package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/smazurov/foveanode/internal/config"
	"github.com/smazurov/foveanode/internal/logging"
	"github.com/smazurov/foveanode/internal/session"
	"github.com/smazurov/foveanode/internal/sink"
	"github.com/smazurov/foveanode/internal/store"
	"github.com/smazurov/foveanode/internal/types"
	"github.com/spf13/cobra"
)

// EncodeOptions configures an offline encode run.
type EncodeOptions struct {
	Input    string
	Output   string
	Width    int
	Height   int
	Pipeline string
	ID       string
}

// EncodeSummary reports what an encode run produced.
type EncodeSummary struct {
	Frames     int
	Bytes      uint64
	Level      int
	Descriptor string
}

// CreateEncodeCmd creates the encode command.
func CreateEncodeCmd() *cobra.Command {
	var opts EncodeOptions

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode raw grayscale frames into a stream file",
		Long: `Reads consecutive 8-bit grayscale frames of width*height bytes, runs them through ` +
			`a session pipeline and writes the emitted frames as a length-prefixed stream file. ` +
			`A descriptor for decoding is written next to the output as <output>.toml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := RunEncode(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encoded %d frames, %d bytes, final level %d\n",
				summary.Frames, summary.Bytes, summary.Level)
			fmt.Fprintf(cmd.OutOrStdout(), "descriptor: %s\n", summary.Descriptor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Raw 8-bit grayscale frames")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Stream file to write")
	cmd.Flags().IntVar(&opts.Width, "width", 0, "Frame width in pixels")
	cmd.Flags().IntVar(&opts.Height, "height", 0, "Frame height in pixels")
	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "Pipeline config file (defaults when empty)")
	cmd.Flags().StringVar(&opts.ID, "id", "offline", "Session identifier recorded in the descriptor")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")

	return cmd
}

// RunEncode encodes every frame of opts.Input, in order, through one session.
// Progress is drawn on progress.
func RunEncode(opts EncodeOptions, progress io.Writer) (EncodeSummary, error) {
	var summary EncodeSummary

	p, err := loadPipeline(opts.Pipeline)
	if err != nil {
		return summary, err
	}

	raw, err := os.ReadFile(opts.Input)
	if err != nil {
		return summary, fmt.Errorf("failed to read input: %w", err)
	}
	frameSize := opts.Width * opts.Height
	if opts.Width <= 0 || opts.Height <= 0 {
		return summary, types.InvalidInput("frame size %dx%d must be positive", opts.Width, opts.Height)
	}
	if len(raw) == 0 || len(raw)%frameSize != 0 {
		return summary, types.InvalidInput("input of %d bytes is not a whole number of %dx%d frames",
			len(raw), opts.Width, opts.Height)
	}

	target, err := sink.FileTarget(opts.Output)
	if err != nil {
		return summary, err
	}
	out, err := sink.Open(target)
	if err != nil {
		return summary, err
	}

	sess, err := session.New(session.Options{
		ID:         opts.ID,
		Width:      opts.Width,
		Height:     opts.Height,
		Pipeline:   p,
		Sink:       out,
		SinkTarget: target,
		Logger:     logging.GetLogger("session"),
	})
	if err != nil {
		return summary, errors.Join(err, out.Close())
	}

	total := len(raw) / frameSize
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Encoding"),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
	)

	for i := range total {
		frame, err := types.FrameFromBytes(opts.Width, opts.Height, uint64(i), raw[i*frameSize:(i+1)*frameSize])
		if err != nil {
			return summary, errors.Join(err, sess.Stop())
		}
		if _, err := sess.ProcessFrame(frame); err != nil {
			return summary, errors.Join(fmt.Errorf("frame %d: %w", i, err), sess.Stop())
		}
		data, err := sess.EmitNext()
		if err != nil {
			return summary, fmt.Errorf("frame %d: %w", i, err)
		}
		summary.Bytes += uint64(len(data))
		summary.Frames++
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	summary.Level = sess.Status().Level
	if err := sess.Stop(); err != nil {
		return summary, fmt.Errorf("failed to close output: %w", err)
	}

	summary.Descriptor = opts.Output + ".toml"
	st := store.NewTOML(summary.Descriptor)
	if err := st.Load(); err != nil {
		return summary, err
	}
	if err := st.Put(store.Descriptor{
		ID:        opts.ID,
		Width:     opts.Width,
		Height:    opts.Height,
		Sink:      target,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return summary, err
	}
	return summary, nil
}

// loadPipeline reads path, or returns the defaults when path is empty.
func loadPipeline(path string) (config.Pipeline, error) {
	if path == "" {
		return config.DefaultPipeline(), nil
	}
	return config.LoadPipeline(path)
}
