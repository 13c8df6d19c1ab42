package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/gbpsnap/internal/config"
	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/FranksOps/gbpsnap/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query recorded job outcomes",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	config.StorageFlags(f)
	f.String("run", "", "only outcomes of this run id")
	f.String("job", "", "only outcomes of this job id")
	f.String("status", "", "success, failure or error")
	f.String("flow", "", "only outcomes of this flow")
	f.Duration("since", 0, "only outcomes finished within this window, e.g. 24h")
	f.Int("limit", 50, "maximum rows, newest first")
	f.Bool("json", false, "print JSON lines instead of a table")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Backend == "none" {
		return errors.New("history needs a storage backend (--storage, --dsn)")
	}
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}

	filter, err := historyFilter(cmd)
	if err != nil {
		return err
	}

	backend, err := openHistory(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	outcomes, err := backend.Query(cmd.Context(), filter)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		return printJSON(cmd.OutOrStdout(), outcomes)
	}
	return printTable(cmd.OutOrStdout(), outcomes)
}

func historyFilter(cmd *cobra.Command) (storage.Filter, error) {
	f := cmd.Flags()
	var filter storage.Filter
	filter.RunID, _ = f.GetString("run")
	filter.JobID, _ = f.GetString("job")
	filter.Flow, _ = f.GetString("flow")
	filter.Limit, _ = f.GetInt("limit")

	status, _ := f.GetString("status")
	switch s := job.Status(strings.ToLower(status)); s {
	case "":
	case job.StatusSuccess, job.StatusFailure, job.StatusError:
		filter.Status = s
	default:
		return filter, fmt.Errorf("unknown status %q", status)
	}

	if since, _ := f.GetDuration("since"); since > 0 {
		t := time.Now().Add(-since)
		filter.Since = &t
	}
	return filter, nil
}

func printJSON(w io.Writer, outcomes []*job.Outcome) error {
	enc := json.NewEncoder(w)
	for _, o := range outcomes {
		if err := enc.Encode(o); err != nil {
			return err
		}
	}
	return nil
}

func printTable(w io.Writer, outcomes []*job.Outcome) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tRUN\tJOB\tFLOW\tSTATUS\tATTEMPTS\tARTIFACTS\tERROR")
	for _, o := range outcomes {
		runID := o.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			o.FinishedAt.Local().Format(time.DateTime), runID, o.JobID, o.Flow,
			o.Status, o.Attempts, len(o.Artifacts), o.Error)
	}
	return tw.Flush()
}
