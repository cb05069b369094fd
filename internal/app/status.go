package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/vk/phasegrid/internal/artifact"
	"github.com/vk/phasegrid/internal/faults"
	"github.com/vk/phasegrid/internal/statestore"
)

// Status prints the persisted task records of the run rooted at outputDir,
// followed by a count per state.
func Status(outW io.Writer, outputDir string) error {
	dir := artifact.NewStore(outputDir).StateDir()
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return faults.New(faults.ErrFatalPreflight, "no run state found under %s", outputDir)
	}
	states, err := statestore.New(dir)
	if err != nil {
		return faults.Wrap(faults.ErrFatalPreflight, err, "state directory")
	}
	records, err := states.All()
	if err != nil {
		return fmt.Errorf("reading task records: %w", err)
	}
	if len(records) == 0 {
		return faults.New(faults.ErrFatalPreflight, "no run state found under %s", outputDir)
	}

	tw := tabwriter.NewWriter(outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATE\tRETRIES\tEXIT\tCAUSE")
	counts := make(map[statestore.State]int)
	for _, r := range records {
		counts[r.State]++
		exit := "-"
		if r.ExitCode != 0 {
			exit = fmt.Sprint(r.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Task, r.State, r.Retries, exit, r.Cause)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	names := make([]string, 0, len(counts))
	for s := range counts {
		names = append(names, string(s))
	}
	sort.Strings(names)
	fmt.Fprintln(outW)
	for _, s := range names {
		fmt.Fprintf(outW, "%s: %d\n", s, counts[statestore.State(s)])
	}
	return nil
}
