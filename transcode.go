package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/n0madic/go-aiforwarder/internal/codec"
	"github.com/n0madic/go-aiforwarder/internal/pipeline"
	"github.com/n0madic/go-aiforwarder/internal/sse"
)

var transcodeFlags struct {
	format string
	model  string
	stream bool
}

var transcodeCmd = &cobra.Command{
	Use:   "transcode [file]",
	Short: "Translate a captured upstream response offline",
	Long: `Reads an upstream payload from file (or stdin) and prints the OpenAI
envelope it translates to. With --stream the input is treated as an upstream
event stream and the translated events are printed instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTranscode,
}

func init() {
	f := transcodeCmd.Flags()
	f.StringVar(&transcodeFlags.format, "format", "chat", "target envelope (chat|responses)")
	f.StringVar(&transcodeFlags.model, "model", "", "model name used for capability checks")
	f.BoolVar(&transcodeFlags.stream, "stream", false, "input is an upstream event stream")
	rootCmd.AddCommand(transcodeCmd)
}

func runTranscode(cmd *cobra.Command, args []string) error {
	format, err := codec.ParseFormat(transcodeFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	p := &pipeline.Pipeline{Config: cfg, Registry: reg}
	out := cmd.OutOrStdout()

	if transcodeFlags.stream {
		events := p.TranscodeStream(in, transcodeFlags.model, format, sse.Options{})
		defer events.Close()
		if _, err := io.Copy(out, events); err != nil {
			return fmt.Errorf("transcode stream: %w", err)
		}
		return nil
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(p.BuildNonStreamingEnvelope(raw, transcodeFlags.model, format, nil))
}
