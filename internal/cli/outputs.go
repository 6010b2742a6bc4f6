package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mgpai22/subburn/internal/store"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List subtitled videos kept by the server",
	Args:  cobra.NoArgs,
	RunE:  runOutputs,
}

var outputsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete outputs older than the retention window now",
	Args:  cobra.NoArgs,
	RunE:  runOutputsPrune,
}

func init() {
	rootCmd.AddCommand(outputsCmd)
	outputsCmd.AddCommand(outputsPruneCmd)

	outputsCmd.Flags().Int("limit", 50, "Maximum number of outputs to list (0 for all)")
	outputsPruneCmd.Flags().Duration("older-than", 0, "Override storage.retention for this run")
}

func runOutputs(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	outputs, err := db.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		fmt.Println("No outputs recorded")
		return nil
	}
	fmt.Println(outputsTable(outputs, time.Now()))
	return nil
}

func outputsTable(outputs []store.Output, now time.Time) string {
	rows := make([][]string, 0, len(outputs))
	for _, out := range outputs {
		lang := out.Language
		if lang == "" {
			lang = "-"
		}
		rows = append(rows, []string{
			out.Filename,
			out.OriginalName,
			lang,
			humanize.Bytes(uint64(max(out.SizeBytes, 0))),
			humanize.RelTime(out.CreatedAt, now, "ago", "from now"),
		})
	}
	return renderTable([]string{"File", "Original", "Language", "Size", "Created"}, rows, 3)
}

func runOutputsPrune(cmd *cobra.Command, args []string) error {
	retention := cfg.Storage.Retention.Duration
	if override, _ := cmd.Flags().GetDuration("older-than"); override > 0 {
		retention = override
	}
	if retention <= 0 {
		return fmt.Errorf("no retention configured: set storage.retention or pass --older-than")
	}

	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	removed, err := store.NewJanitor(db, cfg.Storage.OutputDir, retention, 0, logger).Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d output(s) older than %s\n", removed, retention)
	return nil
}
