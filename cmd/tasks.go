package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/assetforge/internal/pipeline"
	"github.com/conneroisu/assetforge/internal/taskgraph"
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"t", "list"},
	Short:   "List the available tasks",
	Long: `List every task with its kind, its dependencies and a description.
Sequences show their phases in order.

Examples:
  assetforge tasks             # table
  assetforge tasks -f json     # JSON
  assetforge tasks --format yaml`,
	Args: cobra.NoArgs,
	RunE: runTasksList,
}

var tasksFormat string

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().StringVarP(&tasksFormat, "format", "f", "table", "Output format (table, json, yaml)")
}

// taskInfo is the listing entry of one task.
type taskInfo struct {
	Name        string     `json:"name" yaml:"name"`
	Kind        string     `json:"kind" yaml:"kind"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Deps        []string   `json:"deps,omitempty" yaml:"deps,omitempty"`
	Phases      [][]string `json:"phases,omitempty" yaml:"phases,omitempty"`
}

func runTasksList(cmd *cobra.Command, args []string) error {
	switch tasksFormat {
	case "table", "json", "yaml", "yml":
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", tasksFormat)
	}

	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
	if err != nil {
		return explain(err)
	}

	tasks := p.Graph().Tasks()
	infos := make([]taskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, taskInfo{
			Name:        task.Name,
			Kind:        task.Kind().String(),
			Description: task.Description,
			Deps:        task.Deps,
			Phases:      task.Phases(),
		})
	}

	out := cmd.OutOrStdout()
	switch tasksFormat {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(infos)
	case "yaml", "yml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(infos); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return writeTaskTable(out, infos)
	}
}

func writeTaskTable(out io.Writer, infos []taskInfo) error {
	title := cases.Title(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	headers := []string{"name", "kind", "runs after", "description"}
	for i, h := range headers {
		headers[i] = title.String(h)
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			info.Name, title.String(info.Kind), describeEdges(info), info.Description)
	}
	return w.Flush()
}

// describeEdges renders deps as "a, b" and phases as "[a, b] -> [c]".
func describeEdges(info taskInfo) string {
	if info.Kind == taskgraph.KindSequence.String() {
		phases := make([]string, len(info.Phases))
		for i, phase := range info.Phases {
			phases[i] = "[" + strings.Join(phase, ", ") + "]"
		}
		return strings.Join(phases, " -> ")
	}
	if len(info.Deps) == 0 {
		return "-"
	}
	return strings.Join(info.Deps, ", ")
}
