package pipeline

import (
	"strings"
	"time"
)

// Phrases that mark a sentence as carrying an action item. Matching is
// case-insensitive on whole sentences.
var actionPhrases = []string{
	"will follow up",
	"action item",
	"needs to",
	"should",
	"will do",
	"assigned to",
	"take care of",
	"responsible for",
	"by friday",
	"by monday",
	"by tuesday",
	"by wednesday",
	"by thursday",
	"next week",
	"deadline",
	"due",
}

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// FallbackTasks scans the transcript for action-item phrases when the model
// is unavailable. It always yields at least one task so the meeting record
// never ends the pipeline with an empty result on a provider outage.
func FallbackTasks(transcript string) []extractedTask {
	var tasks []extractedTask
	seen := make(map[string]bool)

	for _, sentence := range splitSentences(transcript) {
		lower := strings.ToLower(sentence)
		if !containsAction(lower) {
			continue
		}

		title := sentence
		if len(title) > 80 {
			title = strings.TrimSpace(title[:80]) + "..."
		}
		key := strings.ToLower(title)
		if seen[key] {
			continue
		}
		seen[key] = true

		tasks = append(tasks, extractedTask{
			Title:       title,
			Status:      "to do",
			Description: sentence,
			Assignee:    guessAssignee(sentence),
			Priority:    "medium",
			DueDate:     guessDueDate(lower),
		})
		if len(tasks) >= 10 {
			break
		}
	}

	if len(tasks) == 0 {
		tasks = append(tasks, extractedTask{
			Title:       "Review meeting notes and identify next steps",
			Status:      "to do",
			Description: "Automatic task extraction could not identify specific action items. Review the transcript manually.",
			Assignee:    "unassigned",
			Priority:    "medium",
		})
	}
	return tasks
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); len(s) > 10 {
			out = append(out, s)
		}
	}
	return out
}

func containsAction(lower string) bool {
	for _, phrase := range actionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// guessAssignee picks the capitalized word preceding an action verb, the
// usual shape of "Sarah will follow up" style sentences.
func guessAssignee(sentence string) string {
	words := strings.Fields(sentence)
	for i, w := range words {
		lower := strings.ToLower(strings.Trim(w, ",.;:"))
		if lower != "will" && lower != "should" && lower != "needs" {
			continue
		}
		if i == 0 {
			continue
		}
		prev := strings.Trim(words[i-1], ",.;:")
		if prev != "" && prev[0] >= 'A' && prev[0] <= 'Z' && !strings.EqualFold(prev, "i") {
			return prev
		}
	}
	return "unassigned"
}

// guessDueDate maps "by <weekday>" mentions to the next occurrence of that
// weekday. Anything fuzzier is left unset.
func guessDueDate(lower string) string {
	for name, day := range weekdays {
		if !strings.Contains(lower, "by "+name) {
			continue
		}
		now := time.Now()
		offset := (int(day) - int(now.Weekday()) + 7) % 7
		if offset == 0 {
			offset = 7
		}
		return now.AddDate(0, 0, offset).Format("2006-01-02")
	}
	return ""
}
