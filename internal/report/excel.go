package report

import (
	"bytes"
	"fmt"

	"meeting-intelligence/internal/model"

	"github.com/xuri/excelize/v2"
)

var taskHeader = []string{"Title", "Description", "Assignee", "Priority", "Due Date", "Status", "Jira Key"}

// TasksWorkbook renders the meeting's extracted tasks as a one-sheet
// workbook, with tracker keys filled in for tasks that synced.
func TasksWorkbook(record *model.MeetingRecord) (*bytes.Buffer, error) {
	file := excelize.NewFile()
	defer file.Close()

	const sheet = "Tasks"
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name worksheet: %w", err)
	}

	for i, col := range taskHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := file.SetCellValue(sheet, cell, col); err != nil {
			return nil, err
		}
	}

	synced := make(map[string]string, len(record.JiraTickets))
	for _, t := range record.JiraTickets {
		synced[t.TaskTitle] = t.IssueKey
	}

	for i, task := range record.ExtractedTasks {
		key := task.JiraKey
		if key == "" {
			key = synced[task.Title]
		}
		values := []interface{}{
			task.Title, task.Description, task.Assignee,
			string(task.Priority), task.DueDate, task.Status, key,
		}
		for j, v := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := file.SetCellValue(sheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return &buf, nil
}
