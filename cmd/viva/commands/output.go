package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/frkl/viva/pkg/engine"
	"github.com/frkl/viva/pkg/stores"
	"github.com/frkl/viva/pkg/viva"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printEnvTable(w io.Writer, envs []viva.EnvSnapshot) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tSTATUS\tCHANNELS\tPKG SPECS\tPATH")
	for _, env := range envs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			env.ID,
			env.Status.Display(),
			strings.Join(env.Channels, ", "),
			strings.Join(env.PkgSpecs, ", "),
			env.Path)
	}
	return tw.Flush()
}

func printAppTable(w io.Writer, apps []viva.AppSnapshot) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tCOMMAND\tENV\tENV STATUS")
	for _, app := range apps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", app.ID, app.CommandLine(), app.EnvID, app.EnvStatus.Display())
	}
	return tw.Flush()
}

func printStatusTable(w io.Writer, ids []string, statuses map[string]engine.SyncStatus) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tSTATUS")
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%s\n", id, statuses[id].Display())
	}
	return tw.Flush()
}

func printHistoryTable(w io.Writer, runs []*stores.SyncRun) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "STARTED\tDURATION\tRESULT\tSPEC HASH\tERROR")
	for _, run := range runs {
		result := "unchanged"
		switch {
		case !run.Succeeded():
			result = "failed"
		case run.Changed:
			result = "changed"
		}
		errMsg := ""
		if run.Error != nil {
			errMsg = *run.Error
		}
		hash := run.SpecHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond),
			result,
			hash,
			errMsg)
	}
	return tw.Flush()
}

// specFlags collects channels and package specs from the command line.
type specFlags struct {
	channels []string
}

func (f *specFlags) spec(pkgSpecs []string) engine.EnvironmentSpec {
	return engine.EnvironmentSpec{Channels: f.channels, PkgSpecs: pkgSpecs}
}
