package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mgpai22/subburn/internal/audio"
	"github.com/mgpai22/subburn/internal/pipeline"
	"github.com/mgpai22/subburn/internal/subtitle"
	"github.com/mgpai22/subburn/internal/transcribe"
	"github.com/mgpai22/subburn/internal/video"
)

var burnCmd = &cobra.Command{
	Use:   "burn [media_file]",
	Short: "Transcribe a file and burn the subtitles into it",
	Long: `Transcribe a local audio or video file, write the SRT next to it and burn
the subtitles into a copy of the video.

With --srt an existing subtitle file is burned instead of transcribing.
Audio-only inputs produce only the SRT.

Examples:
  subburn burn talk.mp4
  subburn burn talk.mp4 -l de -o talk.de.mp4
  subburn burn talk.mp4 --translate-to japanese
  subburn burn talk.mp4 --srt edited.srt`,
	Args: cobra.ExactArgs(1),
	RunE: runBurn,
}

func init() {
	rootCmd.AddCommand(burnCmd)

	burnCmd.Flags().String("srt", "", "Burn this SRT file instead of transcribing")
	burnCmd.Flags().StringP("translate-to", "t", "", "Translate the subtitles to this language before burning")
	burnCmd.Flags().String("subtitle-out", "", "Where to keep the generated SRT (default <media>.srt)")
}

func runBurn(cmd *cobra.Command, args []string) error {
	mediaPath := args[0]
	ctx := cmd.Context()

	if _, err := os.Stat(mediaPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file not found: %s", mediaPath)
	}
	if !audio.IsMediaFile(mediaPath) {
		return fmt.Errorf("unsupported file type: %s (expected audio or video file)", filepath.Ext(mediaPath))
	}

	srtIn, _ := cmd.Flags().GetString("srt")
	translateTo, _ := cmd.Flags().GetString("translate-to")
	subtitleOut, _ := cmd.Flags().GetString("subtitle-out")
	outputPath, _ := cmd.Flags().GetString("output")
	language, _ := cmd.Flags().GetString("language")

	base := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath))
	if outputPath == "" {
		outputPath = base + ".subtitled.mp4"
	}
	if subtitleOut == "" {
		subtitleOut = base + ".srt"
	}
	if srtIn != "" && filepath.Clean(srtIn) == filepath.Clean(subtitleOut) {
		subtitleOut = base + ".burned.srt"
	}

	tools := newToolchain(cfg)
	req := pipeline.Request{
		SourcePath:   mediaPath,
		OriginalName: filepath.Base(mediaPath),
		Language:     language,
		TranslateTo:  translateTo,
		OutputPath:   outputPath,
		SubtitlePath: subtitleOut,
		KeepSource:   true,
	}

	var tr transcribe.Transcriber
	if srtIn != "" {
		segments, err := subtitle.ParseSRTFile(srtIn)
		if err != nil {
			return fmt.Errorf("failed to parse subtitle file: %w", err)
		}
		if len(segments) == 0 {
			return fmt.Errorf("subtitle file contains no entries")
		}
		req.Segments = segments
	} else {
		var err error
		tr, err = newTranscriber(ctx, cfg, tools, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := transcribe.Close(tr); err != nil {
				logger.Warnw("failed to stop transcriber", "error", err)
			}
		}()
	}

	svc, err := newPipeline(cfg, tools, tr, nil, logger)
	if err != nil {
		return err
	}

	logger.Infow("Processing",
		"input", mediaPath,
		"output", outputPath,
		"provider", cfg.Transcribe.Provider,
	)

	out, err := svc.Process(ctx, req)
	if err != nil {
		var burnErr *video.BurnError
		if errors.As(err, &burnErr) {
			fmt.Fprintln(os.Stderr, burnErr.Diagnostic)
		}
		return err
	}

	absSRT, _ := filepath.Abs(out.SubtitlePath)
	fmt.Printf("Subtitles written: %s\n", absSRT)
	fmt.Printf("  Entries: %d\n", len(out.Segments))
	if out.Language != "" {
		fmt.Printf("  Language: %s\n", out.Language)
	}
	if out.HasVideo {
		absOut, _ := filepath.Abs(out.VideoPath)
		fmt.Printf("Subtitled video: %s (%s)\n", absOut, humanize.Bytes(uint64(max(out.SizeBytes, 0))))
	} else {
		fmt.Println("No video stream found, skipped burn-in")
	}
	return nil
}
