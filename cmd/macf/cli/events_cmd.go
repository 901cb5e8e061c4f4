package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"maceff.io/macf/cmd/macf/cli/eventlog"
	"maceff.io/macf/cmd/macf/cli/jsonutil"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and append to the event log",
		Long: `Work with the append-only JSONL event log.

The log is the single source of truth for session continuity: every
lifecycle hook, drive interval, grant decision and recovery action is
recorded here. Events are never edited or deleted.`,
	}

	cmd.AddCommand(newEventsAppendCmd())
	cmd.AddCommand(newEventsQueryCmd())
	cmd.AddCommand(newEventsQuerySetCmd())
	cmd.AddCommand(newEventsStatsCmd())
	cmd.AddCommand(newEventsGapsCmd())
	cmd.AddCommand(newEventsHistoryCmd())
	cmd.AddCommand(newEventsStateCmd())
	cmd.AddCommand(newEventsIntegrityCmd())

	return cmd
}

// filterFlags binds the shared query flags and parses them into a Filter.
type filterFlags struct {
	event   string
	session string
	cycle   int
	gitHash string
	prompt  string
	after   float64
	before  float64
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.event, "event", "", "Match the event name exactly")
	cmd.Flags().StringVar(&f.session, "session", "", "Match the s_ breadcrumb component (8 hex)")
	cmd.Flags().IntVar(&f.cycle, "cycle", 0, "Match the c_ breadcrumb component")
	cmd.Flags().StringVar(&f.gitHash, "git-hash", "", "Match the g_ breadcrumb component (7 hex)")
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "Match the p_ breadcrumb component (8 hex or none)")
	cmd.Flags().Float64Var(&f.after, "after", 0, "Only events at or after this epoch timestamp")
	cmd.Flags().Float64Var(&f.before, "before", 0, "Only events at or before this epoch timestamp")
}

func (f *filterFlags) filter() eventlog.Filter {
	flt := eventlog.Filter{
		Event:   f.event,
		Session: f.session,
		GitHash: f.gitHash,
		Prompt:  f.prompt,
	}
	if f.cycle > 0 {
		c := f.cycle
		flt.Cycle = &c
	}
	if f.after > 0 {
		a := f.after
		flt.After = &a
	}
	if f.before > 0 {
		b := f.before
		flt.Before = &b
	}
	return flt
}

func newEventsAppendCmd() *cobra.Command {
	var dataJSON string
	var crumbFlag string

	cmd := &cobra.Command{
		Use:   "append <event-name>",
		Short: "Append one event to the log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}

			var data map[string]any
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("parsing --data: %w", err)
				}
			}

			crumb := crumbFlag
			if crumb == "" {
				crumb = currentCrumb(cmd.Context(), log)
			}

			e, err := log.AppendNow(args[0], crumb, data, nil)
			if err != nil {
				return fmt.Errorf("appending event: %w", err)
			}
			return printJSON(cmd, e)
		},
	}

	cmd.Flags().StringVar(&dataJSON, "data", "", "Event data as a JSON object")
	cmd.Flags().StringVar(&crumbFlag, "breadcrumb", "", "Override the composed breadcrumb")

	return cmd
}

func newEventsQueryCmd() *cobra.Command {
	var ff filterFlags
	var limit int

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query events by name, breadcrumb components and time range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}

			flt := ff.filter()
			n := 0
			for rec := range log.Query(flt) {
				if err := printRecord(cmd, rec); err != nil {
					return err
				}
				n++
				if limit > 0 && n == limit {
					break
				}
			}
			return nil
		},
	}

	ff.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many events (0 = all)")

	return cmd
}

func newEventsQuerySetCmd() *cobra.Command {
	var op string
	var wheres []string

	cmd := &cobra.Command{
		Use:   "query-set",
		Short: "Combine multiple queries with a set operation",
		Long: `Run several filters and combine the result sets by event identity
(the file offset). Filters are given as repeated --where flags, each a
comma-separated list of key=value pairs:

  macf events query-set --op subtraction \
    --where event=tool_call_started,cycle=2 \
    --where event=tool_call_started,prompt=none

Subtraction is left-associative: the first query minus all following ones.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}

			filters := make([]eventlog.Filter, 0, len(wheres))
			for _, w := range wheres {
				flt, err := parseWhere(w)
				if err != nil {
					return err
				}
				filters = append(filters, flt)
			}

			recs, err := log.QuerySet(eventlog.SetOp(op), filters...)
			if err != nil {
				return fmt.Errorf("running set query: %w", err)
			}
			for _, rec := range recs {
				if err := printRecord(cmd, rec); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&op, "op", string(eventlog.SetUnion), "Set operation: union, intersection or subtraction")
	cmd.Flags().StringArrayVar(&wheres, "where", nil, "Filter as key=value pairs (repeatable)")
	_ = cmd.MarkFlagRequired("where")

	return cmd
}

// parseWhere turns "event=x,cycle=2,session=abcd1234" into a Filter.
func parseWhere(s string) (eventlog.Filter, error) {
	var flt eventlog.Filter
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return flt, fmt.Errorf("invalid --where clause %q: expected key=value", pair)
		}
		switch key {
		case "event":
			flt.Event = value
		case "session":
			flt.Session = value
		case "git-hash", "git_hash":
			flt.GitHash = value
		case "prompt":
			flt.Prompt = value
		case "cycle":
			c, err := strconv.Atoi(value)
			if err != nil {
				return flt, fmt.Errorf("invalid cycle %q: %w", value, err)
			}
			flt.Cycle = &c
		case "after":
			a, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return flt, fmt.Errorf("invalid after %q: %w", value, err)
			}
			flt.After = &a
		case "before":
			b, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return flt, fmt.Errorf("invalid before %q: %w", value, err)
			}
			flt.Before = &b
		default:
			return flt, fmt.Errorf("unknown filter key %q", key)
		}
	}
	return flt, nil
}

func newEventsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the log: per-event counts and time range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}
			stats, err := log.ComputeStats()
			if err != nil {
				return fmt.Errorf("computing stats: %w", err)
			}
			return printJSON(cmd, stats)
		},
	}
}

func newEventsGapsCmd() *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Find quiet intervals between consecutive events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}
			gaps := log.Gaps(threshold)
			if len(gaps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No gaps found.")
				return nil
			}
			return printJSON(cmd, gaps)
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 300, "Minimum gap length in seconds")

	return cmd
}

func newEventsHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent events, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}
			for _, rec := range log.History(limit) {
				if err := printRecord(cmd, rec); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of events to show")

	return cmd
}

func newEventsStateCmd() *cobra.Command {
	var at float64

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Reconstruct the session/cycle/prompt view at a point in time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}
			t := at
			if t == 0 {
				t = eventlog.Now()
			}
			return printJSON(cmd, log.ReconstructStateAt(t))
		},
	}

	cmd.Flags().Float64Var(&at, "at", 0, "Epoch timestamp to reconstruct at (default: now)")

	return cmd
}

func newEventsIntegrityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Count well-formed and malformed log lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}
			events, malformed, err := log.Integrity()
			if err != nil {
				return fmt.Errorf("scanning log: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "events: %d\nmalformed: %d\n", events, malformed)
			if malformed > 0 {
				return &SilentError{Code: 1}
			}
			return nil
		},
	}
}

// printRecord writes one record as a JSON line with its offset identity.
func printRecord(cmd *cobra.Command, rec eventlog.Record) error {
	doc := struct {
		Offset int64 `json:"offset"`
		eventlog.Event
	}{Offset: rec.Offset, Event: rec.Event}
	line, err := jsonutil.MarshalLine(doc)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(line))
	return nil
}

// printJSON writes v indented for human reading.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := jsonutil.MarshalIndentWithNewline(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
