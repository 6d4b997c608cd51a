package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/incidentops/sopflow/pkg/answer"
)

var submission answer.Submission

var answerCmd = &cobra.Command{
	Use:   "answer",
	Short: "Submit an answer to a workflow question for an incident",
	Example: `  sopflow answer --workflow 3 --question 12 --incident INC-1042 --text 5
  sopflow answer --workflow 3 --question 13 --incident INC-1042 --skip`,
	Args: cobra.NoArgs,
	RunE: runAnswer,
}

func init() {
	f := answerCmd.Flags()
	f.Int64Var(&submission.WorkflowID, "workflow", 0, "Workflow id")
	f.Int64Var(&submission.QuestionID, "question", 0, "Question id")
	f.StringVar(&submission.IncidentNumber, "incident", "", "Incident number")
	f.StringVar(&submission.AnswerText, "text", "", "Answer text; option ids for choice questions, comma separated for checkboxes")
	f.BoolVar(&submission.Skipped, "skip", false, "Skip an optional question")
	for _, name := range []string{"workflow", "question", "incident"} {
		_ = answerCmd.MarkFlagRequired(name)
	}
}

func runAnswer(cmd *cobra.Command, args []string) error {
	sub := submission
	sub.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	var res answer.Result
	if err := newClient().postJSON("/api/questions/answer", sub, &res); err != nil {
		return err
	}
	if structuredOutput() {
		return printOutput(res)
	}
	printTable([]string{"Sequence", "Answer ID", "Response ID", "Last Question", "Session"}, [][]string{{
		strconv.Itoa(res.Sequence),
		strconv.FormatInt(res.AnswerID, 10),
		strconv.FormatInt(res.ResponseID, 10),
		strconv.FormatBool(res.IsLastQuestion),
		res.SessionID,
	}})
	if res.IsLastQuestion {
		fmt.Fprintln(stdout, "Workflow complete.")
	}
	return nil
}
