package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/smazurov/foveanode/internal/bitrate"
	"github.com/smazurov/foveanode/internal/encoder"
	"github.com/smazurov/foveanode/internal/sink"
	"github.com/smazurov/foveanode/internal/store"
	"github.com/spf13/cobra"
)

// InspectOptions configures an inspect run.
type InspectOptions struct {
	Input      string
	Descriptor string
	Pipeline   string
	ID         string
	Regions    bool
	Dump       string
}

// InspectSummary reports what an inspect run decoded.
type InspectSummary struct {
	Frames int
	Levels []int
}

// CreateInspectCmd creates the inspect command.
func CreateInspectCmd() *cobra.Command {
	var opts InspectOptions

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decode a stream file and print per-frame metadata",
		Long: `Reads a stream file written by encode or a file:// session sink, decodes every frame ` +
			`with the session descriptor and prints its size, level and quality trailer. ` +
			`Use the same --pipeline the stream was encoded with.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := RunInspect(opts, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Stream file to read")
	cmd.Flags().StringVar(&opts.Descriptor, "descriptor", "", "Session descriptor file (default <input>.toml)")
	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "Pipeline config file (defaults when empty)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "Session id within the descriptor file")
	cmd.Flags().BoolVar(&opts.Regions, "regions", false, "Print every region of every frame")
	cmd.Flags().StringVar(&opts.Dump, "dump", "", "Write reconstructed 8-bit frames to this file")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// RunInspect decodes every record of opts.Input and writes a report to w.
func RunInspect(opts InspectOptions, w io.Writer) (InspectSummary, error) {
	var summary InspectSummary

	desc, err := readDescriptor(opts)
	if err != nil {
		return summary, err
	}
	base, err := loadPipeline(opts.Pipeline)
	if err != nil {
		return summary, err
	}
	p := base.Apply(desc.Overrides)
	if err := p.Validate(); err != nil {
		return summary, err
	}

	ctrl, err := bitrate.New(p.Bitrate(), p.BaseProfile())
	if err != nil {
		return summary, err
	}
	profiles := ctrl.Profiles()
	cfgs := make([]encoder.Config, len(profiles))
	for i, prof := range profiles {
		cfgs[i] = p.Encoder().WithProfile(prof)
	}

	in, err := os.Open(opts.Input)
	if err != nil {
		return summary, fmt.Errorf("failed to open stream: %w", err)
	}
	defer in.Close()

	var dump *bufio.Writer
	if opts.Dump != "" {
		f, err := os.Create(opts.Dump)
		if err != nil {
			return summary, fmt.Errorf("failed to create dump file: %w", err)
		}
		defer f.Close()
		dump = bufio.NewWriter(f)
	}

	fmt.Fprintf(w, "session %s: %dx%d, %d levels\n", desc.ID, desc.Width, desc.Height, len(cfgs))

	reader := sink.NewRecordReader(in)
	for {
		data, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("frame %d: %w", summary.Frames, err)
		}

		d, level, err := encoder.DecodeAny(data, desc.Width, desc.Height, cfgs)
		if err != nil {
			return summary, fmt.Errorf("frame %d: %w", summary.Frames, err)
		}
		fmt.Fprintf(w, "frame %d: %d bytes, level %d, overall %.3f, %d regions\n",
			summary.Frames, len(data), level, d.Trailer.Overall, len(d.Trailer.Regions))
		if opts.Regions {
			for _, r := range d.Trailer.Regions {
				fmt.Fprintf(w, "  %s\n", r)
			}
		}
		if dump != nil {
			rec := d.Reconstruct()
			buf := make([]byte, len(rec.Pix))
			for i, v := range rec.Pix {
				buf[i] = encoder.Quantize(v)
			}
			if _, err := dump.Write(buf); err != nil {
				return summary, fmt.Errorf("failed to write dump: %w", err)
			}
		}

		summary.Frames++
		summary.Levels = append(summary.Levels, level)
	}

	if dump != nil {
		if err := dump.Flush(); err != nil {
			return summary, fmt.Errorf("failed to write dump: %w", err)
		}
	}
	fmt.Fprintf(w, "%d frames\n", summary.Frames)
	return summary, nil
}

func readDescriptor(opts InspectOptions) (store.Descriptor, error) {
	path := opts.Descriptor
	if path == "" {
		path = opts.Input + ".toml"
	}
	st := store.NewTOML(path)
	if err := st.Load(); err != nil {
		return store.Descriptor{}, err
	}
	all := st.All()

	if opts.ID != "" {
		d, ok := all[opts.ID]
		if !ok {
			return store.Descriptor{}, fmt.Errorf("session %q not found in %s", opts.ID, path)
		}
		return d, nil
	}
	switch len(all) {
	case 0:
		return store.Descriptor{}, fmt.Errorf("no session descriptor in %s", path)
	case 1:
		for _, d := range all {
			return d, nil
		}
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return store.Descriptor{}, fmt.Errorf("%s holds %d sessions %v, choose one with --id", path, len(ids), ids)
}
