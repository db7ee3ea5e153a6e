package commands

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/agrisim/internal/cli/output"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// NewDistrictsCommand creates the districts command group.
func NewDistrictsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "districts",
		Short: "Inspect and curate canonical districts",
	}
	cmd.AddCommand(newDistrictsListCommand(), newDistrictsMergeCommand())
	return cmd
}

func newDistrictsListCommand() *cobra.Command {
	var state string
	var aliases bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List canonical districts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			districts, err := cc.Store.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if state != "" {
				districts = slices.DeleteFunc(districts, func(d core.District) bool {
					return !strings.EqualFold(d.State, state)
				})
			}
			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(districts)
			}
			header := []string{"district_id", "name", "state", "aliases"}
			rows := make([][]string, 0, len(districts))
			for _, d := range districts {
				alias := strconv.Itoa(len(d.Aliases))
				if aliases {
					raws := make([]string, 0, len(d.Aliases))
					for _, a := range d.Aliases {
						raws = append(raws, a.Raw)
					}
					alias = strings.Join(raws, "; ")
				}
				rows = append(rows, []string{d.ID, d.CanonicalName, d.State, alias})
			}
			return r.Table(header, rows)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only districts of this state")
	cmd.Flags().BoolVar(&aliases, "aliases", false, "Print alias names instead of counts")
	return cmd
}

func newDistrictsMergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <from> <into>",
		Short: "Fold one district into another",
		Long: `Merge district <from> into <into>. Rows of <from> move to <into> unless
<into> already has a row for the same key, in which case <into>'s row wins.
<from>'s names become aliases of <into>, so later rebuilds resolve them there.`,
		Example: `  agrisim districts merge 6f1c... 91ab...`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := cc.Store.MergeDistricts(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			r := cc.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(res)
			}
			tables := slices.Sorted(maps.Keys(res.Moved))
			for name := range res.Dropped {
				if _, ok := res.Moved[name]; !ok {
					tables = append(tables, name)
				}
			}
			slices.Sort(tables)
			rows := make([][]string, 0, len(tables))
			for _, name := range tables {
				rows = append(rows, []string{name, strconv.Itoa(res.Moved[name]), strconv.Itoa(res.Dropped[name])})
			}
			if r.EffectiveMode() == output.ModeText {
				r.Success(fmt.Sprintf("Merged %s into %s", res.From, res.Into))
			}
			return r.Table([]string{"table", "moved", "dropped"}, rows)
		},
	}
}
