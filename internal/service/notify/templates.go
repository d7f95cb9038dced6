package notify

import (
	"fmt"
	"strings"
)

// Fallback messages used whenever generation is unavailable.
func ItemUpdatedFallback(user, code string) string {
	return fmt.Sprintf("%s updated the item [%s]", user, code)
}

func TaskCompletedFallback(user, code string) string {
	return fmt.Sprintf("%s completed the task [%s]", user, code)
}

func UrgeFallback(user, code, title string) string {
	return strings.TrimSpace(fmt.Sprintf("%s is urging you to follow up on [%s] %s", user, code, title))
}

const (
	itemUpdatedInstruction = "You announce document edits to a team chat. " +
		"Summarise what changed in one or two short sentences based only on the diff. " +
		"Lines starting with + were added, lines starting with - were removed. " +
		"Mention who made the change. Do not invent details."

	taskCompletedInstruction = "You celebrate finished work in a team chat. " +
		"Write one short, warm congratulation for the person who completed the task. " +
		"Keep it under 280 characters and mention the task code."

	urgeInstruction = "You deliver reminders between teammates. " +
		"Politely tell the assignee that a colleague is asking them to follow up on a task. " +
		"Keep it to two sentences and include the task code."

	routingInstruction = "You route workspace updates to the most suitable assistant. " +
		"Reply with the numeric id of the best matching candidate only. " +
		"Reply 0 if no candidate fits."
)

func itemUpdatedPrompt(user, code, title, diff string) string {
	return fmt.Sprintf("Editor: %s\nItem: [%s] %s\n\nDiff:\n%s", user, code, title, diff)
}

func taskCompletedPrompt(user, code, title string) string {
	return fmt.Sprintf("Completed by: %s\nTask: [%s] %s", user, code, title)
}

func urgePrompt(user, code, title, body string) string {
	p := fmt.Sprintf("From: %s\nTask: [%s] %s", user, code, title)
	if strings.TrimSpace(body) != "" {
		p += "\n\nTheir note:\n" + body
	}
	return p
}
