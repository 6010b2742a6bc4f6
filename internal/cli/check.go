package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mgpai22/subburn/internal/config"
	"github.com/mgpai22/subburn/internal/ffmpeg"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether ffmpeg, ffprobe and the speech model are usable",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runCheck(cmd *cobra.Command, args []string) error {
	results := runChecks(cmd.Context(), cfg, newToolchain(cfg).locator, ffmpeg.ExecRunner)

	rows := make([][]string, len(results))
	failed := 0
	for i, r := range results {
		status := "ok"
		if !r.ok {
			status = "FAIL"
			failed++
		}
		rows[i] = []string{r.name, status, r.detail}
	}
	fmt.Println(renderTable([]string{"Check", "Status", "Detail"}, rows))

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func runChecks(ctx context.Context, c *config.Config, locator *ffmpeg.Locator, run ffmpeg.CommandRunner) []checkResult {
	var results []checkResult

	version, err := ffmpeg.NewChecker(locator).WithCommandRunner(run).Version(ctx)
	results = append(results, resultOf("ffmpeg", version, err))

	probePath, err := locator.FFprobePath()
	if err == nil {
		var out []byte
		out, err = run(ctx, probePath, "-version")
		probePath = firstLine(out)
	}
	results = append(results, resultOf("ffprobe", probePath, err))

	switch c.Transcribe.Provider {
	case "local", "":
		out, err := run(ctx, c.Transcribe.Python, "-c",
			"import whisper; print('openai-whisper', getattr(whisper, '__version__', 'unknown'))")
		detail := firstLine(out)
		if err != nil {
			detail = fmt.Sprintf("%s cannot import whisper (pip install openai-whisper)", c.Transcribe.Python)
		}
		results = append(results, checkResult{name: "whisper", ok: err == nil, detail: detail})
	case "openai":
		results = append(results, keyResult("OPENAI_API_KEY", c.Transcribe.OpenAIAPIKey))
	case "gemini":
		results = append(results, keyResult("GEMINI_API_KEY", c.Transcribe.GeminiAPIKey))
	}
	return results
}

func resultOf(name, detail string, err error) checkResult {
	if err != nil {
		return checkResult{name: name, detail: err.Error()}
	}
	return checkResult{name: name, ok: true, detail: detail}
}

func keyResult(name, value string) checkResult {
	if value == "" {
		return checkResult{name: name, detail: "not set"}
	}
	return checkResult{name: name, ok: true, detail: maskSecret(value)}
}

func firstLine(out []byte) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line)
}
