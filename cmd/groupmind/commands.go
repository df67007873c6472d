package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kalambet/groupmind/internal/config"
	"github.com/kalambet/groupmind/internal/storage"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func groupPath(id int64, suffix string) string {
	return "/groups/" + strconv.FormatInt(id, 10) + suffix
}

// --- groups ---

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List groups the bot has seen",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		groups, err := fetchGroups(commandContext(cmd), client)
		if err != nil {
			return err
		}
		printGroups(stdout, groups)
		return nil
	},
}

func fetchGroups(ctx context.Context, client *apiClient) ([]storage.Group, error) {
	resp, err := client.get(ctx, "/groups")
	if err != nil {
		return nil, err
	}
	var groups []storage.Group
	if err := decodeJSON(resp, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func printGroups(w io.Writer, groups []storage.Group) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATE")
	for _, g := range groups {
		state := "unconfigured"
		switch {
		case g.Paused:
			state = "paused"
		case g.SetupComplete:
			state = "active"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", g.ID, g.Title, state)
	}
	tw.Flush()
}

// --- teach ---

var teachCmd = &cobra.Command{
	Use:   "teach <group-id> <question> <answer>",
	Short: "Teach a group an answer",
	Long: `Teach a group an answer. Re-teaching an existing question replaces its answer.

Group ids of Telegram groups are negative; put them after "--".

Example:
  groupmind teach -- -1001234567890 "When do we play?" "Fridays at 7pm"`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := groupArg(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		entry, err := teach(commandContext(cmd), client, id, args[1], args[2])
		if err != nil {
			return err
		}
		printSuccess("Stored entry %d", entry.ID)
		return nil
	},
}

func teach(ctx context.Context, client *apiClient, groupID int64, question, answer string) (storage.KnowledgeEntry, error) {
	resp, err := client.post(ctx, groupPath(groupID, "/knowledge"), map[string]string{
		"question": question,
		"answer":   answer,
		"source":   storage.SourceManual,
	})
	if err != nil {
		return storage.KnowledgeEntry{}, err
	}
	var entry storage.KnowledgeEntry
	err = decodeJSON(resp, &entry)
	return entry, err
}

// --- forget ---

var forgetCmd = &cobra.Command{
	Use:   "forget <group-id> <keyword>",
	Short: "Delete knowledge entries matching a keyword",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := groupArg(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, err := forget(commandContext(cmd), client, id, args[1])
		if err != nil {
			return err
		}
		printSuccess("Deleted %d entries", n)
		return nil
	},
}

func forget(ctx context.Context, client *apiClient, groupID int64, keyword string) (int, error) {
	resp, err := client.delete(ctx, groupPath(groupID, "/knowledge?keyword="+url.QueryEscape(keyword)))
	if err != nil {
		return 0, err
	}
	var result map[string]int
	if err := decodeJSON(resp, &result); err != nil {
		return 0, err
	}
	return result["deleted"], nil
}

// --- knowledge ---

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Inspect a group's knowledge",
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list <group-id>",
	Short: "List knowledge entries with confidence and usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := groupArg(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(commandContext(cmd), groupPath(id, "/knowledge"))
		if err != nil {
			return err
		}
		var entries []storage.KnowledgeEntry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		printKnowledge(stdout, entries)
		return nil
	},
}

func printKnowledge(w io.Writer, entries []storage.KnowledgeEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONF\tUSES\tSOURCE\tQUESTION\tANSWER")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%.2f\t%d\t%s\t%s\t%s\n", e.ID, e.Confidence, e.UsageCount, e.Source, clip(e.Question, 40), clip(e.Answer, 60))
	}
	tw.Flush()
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	knowledgeListCmd.Flags().Bool("json", false, "print entries as JSON")
	knowledgeCmd.AddCommand(knowledgeListCmd)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <group-id>",
	Short: "Export a group's configuration, knowledge and stats as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := groupArg(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(commandContext(cmd), groupPath(id, "/export"))
		if err != nil {
			return err
		}
		var export json.RawMessage
		if err := decodeJSON(resp, &export); err != nil {
			return err
		}

		out := stdout
		if path, _ := cmd.Flags().GetString("output"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			out = f
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(export); err != nil {
			return err
		}
		if out != stdout {
			printSuccess("Export written")
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "output file path (default: stdout)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
