package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/incidentops/sopflow/pkg/workflow"
)

const workflowsPath = "/api/workflows"

var workflowsCmd = &cobra.Command{
	Use:     "workflows",
	Aliases: []string{"workflow", "wf"},
	Short:   "Manage SOP workflows on a running server",
}

var (
	importFile   string
	importUpdate int64
	importMode   string
)

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows, newest first",
		Args:  cobra.NoArgs,
		RunE:  runWorkflowsList,
	}
	getCmd := &cobra.Command{
		Use:   "get <workflow-id>",
		Short: "Show a workflow with its questions and options",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowsGet,
	}
	deleteCmd := &cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "Delete a workflow and everything recorded against it",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowsDelete,
	}
	importCmd := &cobra.Command{
		Use:   "import -f <file>",
		Short: "Create a workflow, or update one with --update, from a YAML or JSON file",
		Args:  cobra.NoArgs,
		RunE:  runWorkflowsImport,
	}
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "Workflow definition file")
	importCmd.Flags().Int64Var(&importUpdate, "update", 0, "Update this workflow id instead of creating a new one")
	importCmd.Flags().StringVar(&importMode, "mode", "", "Update mode: merge or replace (default: server setting)")
	_ = importCmd.MarkFlagRequired("file")

	lookupCmd := &cobra.Command{
		Use:   "lookup <name>",
		Short: "Resolve a workflow name to its id",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowsLookup,
	}
	checkNameCmd := &cobra.Command{
		Use:   "check-name <name>",
		Short: "Report whether a workflow name is still free",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowsCheckName,
	}
	responsesCmd := &cobra.Command{
		Use:   "responses <workflow-id> <incident-number>",
		Short: "Show the answers recorded for an incident, in order",
		Args:  cobra.ExactArgs(2),
		RunE:  runWorkflowsResponses,
	}

	workflowsCmd.AddCommand(listCmd, getCmd, deleteCmd, importCmd, lookupCmd, checkNameCmd, responsesCmd)
}

func runWorkflowsList(cmd *cobra.Command, args []string) error {
	var summaries []workflow.Summary
	if err := newClient().getJSON(workflowsPath+"/details", &summaries); err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(summaries)
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			truncate(s.Name, 40),
			truncate(s.IncidentType, 30),
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	printTable([]string{"ID", "Name", "Incident Type", "Created"}, rows)
	return nil
}

func runWorkflowsGet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	var details []workflow.QuestionDetail
	if err := newClient().getJSON(fmt.Sprintf("%s/%d/questions-and-options", workflowsPath, id), &details); err != nil {
		return err
	}
	if structuredOutput() {
		var structure map[string]any
		if err := newClient().getJSON(fmt.Sprintf("%s/%d", workflowsPath, id), &structure); err != nil {
			return err
		}
		return printOutput(structure)
	}

	var rows [][]string
	for _, q := range details {
		rows = append(rows, []string{
			strconv.FormatInt(q.ID, 10),
			string(q.Type),
			strconv.FormatBool(q.Required),
			refString(q.NextQuestionID),
			truncate(q.Text, 50),
		})
		for _, o := range q.Options {
			rows = append(rows, []string{
				"  " + strconv.FormatInt(o.ID, 10),
				"option",
				"",
				refString(o.NextQuestionID),
				truncate(o.Text, 50),
			})
		}
	}
	printTable([]string{"ID", "Type", "Required", "Next", "Text"}, rows)
	return nil
}

func runWorkflowsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	var resp map[string]any
	if err := newClient().deleteJSON(fmt.Sprintf("%s/%d", workflowsPath, id), &resp); err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(resp)
	}
	fmt.Fprintln(stdout, resp["message"])
	return nil
}

func runWorkflowsImport(cmd *cobra.Command, args []string) error {
	spec, err := readWorkflowSpec(importFile)
	if err != nil {
		return err
	}

	client := newClient()
	var resp struct {
		Message    string `json:"message"`
		WorkflowID int64  `json:"workflow_id"`
	}
	if importUpdate > 0 {
		path := queryPath(fmt.Sprintf("%s/%d", workflowsPath, importUpdate), map[string]string{"mode": importMode})
		err = client.patchJSON(path, spec, &resp)
	} else {
		err = client.postJSON(workflowsPath, spec, &resp)
	}
	if err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(resp)
	}
	fmt.Fprintf(stdout, "%s (workflow_id %d)\n", resp.Message, resp.WorkflowID)
	return nil
}

func runWorkflowsLookup(cmd *cobra.Command, args []string) error {
	var resp struct {
		WorkflowID int64 `json:"workflow_id"`
	}
	err := newClient().postJSON(workflowsPath+"/get_id", map[string]string{"workflow_name": args[0]}, &resp)
	if err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(resp)
	}
	fmt.Fprintln(stdout, resp.WorkflowID)
	return nil
}

func runWorkflowsCheckName(cmd *cobra.Command, args []string) error {
	var resp struct {
		IsUnique bool `json:"is_unique"`
	}
	path := workflowsPath + "/check-name?name=" + url.QueryEscape(args[0])
	if err := newClient().getJSON(path, &resp); err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(resp)
	}
	if resp.IsUnique {
		fmt.Fprintf(stdout, "%q is available\n", args[0])
	} else {
		fmt.Fprintf(stdout, "%q is taken\n", args[0])
	}
	return nil
}

func runWorkflowsResponses(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	var records []workflow.ResponseRecord
	path := fmt.Sprintf("%s/%d/responses/%s", workflowsPath, id, url.PathEscape(args[1]))
	if err := newClient().getJSON(path, &records); err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(records)
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(r.Sequence),
			strconv.FormatInt(r.QuestionID, 10),
			truncate(r.AnswerText, 50),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	printTable([]string{"#", "Question", "Answer", "Recorded"}, rows)
	return nil
}

// readWorkflowSpec loads a definition file. YAML is a superset of JSON, so
// both are decoded with the YAML parser and then re-read through the JSON tags.
func readWorkflowSpec(path string) (*workflow.WorkflowSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var spec workflow.WorkflowSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &spec, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid workflow id %q", s)
	}
	return id, nil
}

func refString(ref *workflow.QuestionIDRef) string {
	if ref == nil {
		return "-"
	}
	return strconv.FormatInt(int64(*ref), 10)
}
