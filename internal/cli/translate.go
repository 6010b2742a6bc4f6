package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subburn/internal/subtitle"
	"github.com/mgpai22/subburn/internal/translate"
)

var translateCmd = &cobra.Command{
	Use:   "translate [subtitle_file]",
	Short: "Translate an SRT file to another language using AI",
	Long: `Translate an existing SRT file to another language using AI.

Timings and entry numbering are kept. The --overlay flag creates bilingual
subtitles with the translated text first, followed by the original text on
the next line.

Examples:
  subburn translate talk.srt --target-language japanese
  subburn translate talk.srt -t es --overlay
  subburn translate talk.srt -l english -t german --provider openai -o talk.de.srt`,
	Args: cobra.ExactArgs(1),
	RunE: runTranslate,
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().
		StringP("target-language", "t", "", "Target language for translation (required)")
	translateCmd.Flags().
		Bool("overlay", false, "Overlay translated text with original (bilingual subtitles)")
	translateCmd.Flags().
		String("provider", "", "Translation provider (anthropic, openai, gemini); defaults to translate.provider")
	translateCmd.Flags().
		String("model", "", "Model to use for translation (provider-specific)")
	translateCmd.Flags().
		Int("concurrency", 0, "Number of parallel translation workers")
	translateCmd.Flags().
		Int("batch-size", 0, "Number of subtitle entries per API request")

	_ = translateCmd.MarkFlagRequired("target-language")
}

func runTranslate(cmd *cobra.Command, args []string) error {
	subtitlePath := args[0]

	targetLang, _ := cmd.Flags().GetString("target-language")
	overlay, _ := cmd.Flags().GetBool("overlay")
	provider, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	outputPath, _ := cmd.Flags().GetString("output")
	inputLang, _ := cmd.Flags().GetString("language")

	if _, err := os.Stat(subtitlePath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("subtitle file not found: %s", subtitlePath)
	}
	if ext := strings.ToLower(filepath.Ext(subtitlePath)); ext != ".srt" {
		return fmt.Errorf("unsupported subtitle format %q: only .srt is supported", ext)
	}
	if strings.TrimSpace(targetLang) == "" {
		return fmt.Errorf("target language is required")
	}
	if inputLang != "" && strings.EqualFold(strings.TrimSpace(inputLang), strings.TrimSpace(targetLang)) {
		return fmt.Errorf("input language %q and target language %q cannot be the same", inputLang, targetLang)
	}
	if concurrency < 0 || batchSize < 0 {
		return fmt.Errorf("concurrency and batch-size must not be negative")
	}

	if provider != "" {
		cfg.Translate.Provider = strings.ToLower(provider)
	}
	if model != "" {
		cfg.Translate.Model = model
	}
	if concurrency > 0 {
		cfg.Translate.Concurrency = concurrency
	}
	if batchSize > 0 {
		cfg.Translate.BatchSize = batchSize
	}
	if outputPath == "" {
		outputPath = translatedPath(subtitlePath, targetLang, overlay)
	}

	segments, err := subtitle.ParseSRTFile(subtitlePath)
	if err != nil {
		return fmt.Errorf("failed to parse subtitle file: %w", err)
	}
	if len(segments) == 0 {
		return fmt.Errorf("subtitle file contains no entries")
	}

	logger.Infow("Translating subtitles",
		"input", subtitlePath,
		"output", outputPath,
		"entries", len(segments),
		"provider", cfg.Translate.Provider,
		"target_language", targetLang,
		"overlay", overlay,
	)

	translator, err := translate.FromConfig(cmd.Context(), cfg, inputLang, targetLang)
	if err != nil {
		return fmt.Errorf("failed to create translator: %w", err)
	}

	translated, err := translate.TranslateSegments(cmd.Context(), translator, segments)
	if err != nil {
		return fmt.Errorf("translation failed: %w", err)
	}
	if overlay {
		translated = overlaySegments(translated, segments)
	}

	if err := subtitle.WriteFile(outputPath, translated); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	absOutput, _ := filepath.Abs(outputPath)
	fmt.Printf("Subtitles translated successfully: %s\n", absOutput)
	fmt.Printf("  Entries: %d\n", len(translated))
	fmt.Printf("  Target language: %s\n", targetLang)
	if overlay {
		fmt.Printf("  Mode: bilingual overlay\n")
	}
	return nil
}

// translatedPath names the output next to the input, e.g. talk.ja.srt.
func translatedPath(path, targetLang string, overlay bool) string {
	lang := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(targetLang)), " ", "-")
	if overlay {
		lang += ".overlay"
	}
	return replaceExt(path, "."+lang+filepath.Ext(path))
}

// overlaySegments puts each translation above its original line.
func overlaySegments(translated, original []subtitle.Segment) []subtitle.Segment {
	out := make([]subtitle.Segment, len(translated))
	for i, seg := range translated {
		seg.Text = strings.TrimSpace(seg.Text) + "\n" + strings.TrimSpace(original[i].Text)
		out[i] = seg
	}
	return out
}
