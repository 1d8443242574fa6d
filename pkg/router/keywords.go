package router

import (
	"strings"

	"github.com/zen-systems/agentrooms/pkg/config"
)

// taskCategory is one fixed task-type test; categories are tried in order and
// the first one with any member keyword wins.
type taskCategory struct {
	taskType string
	members  []string
}

var taskCategories = []taskCategory{
	{taskType: config.TaskTesting, members: []string{"test", "validate", "verify"}},
	{taskType: config.TaskCodeGeneration, members: []string{"code", "build", "implement"}},
	{taskType: config.TaskMultimodal, members: []string{"image", "design", "visual"}},
	{taskType: config.TaskRealTime, members: []string{"real-time", "news", "current", "latest", "live"}},
	{taskType: config.TaskReasoning, members: []string{"reason", "analyze", "explain", "plan"}},
}

// ExtractKeywords returns the configured keywords present in the task, in rule
// order. A keyword is present when any whitespace-separated token contains it,
// so "test" matches "testing" and also "testosterone".
func ExtractKeywords(task string, rules config.KeywordRules) []string {
	tokens := strings.Fields(strings.ToLower(task))
	var found []string
	for _, rule := range rules {
		if rule.Keyword == "" {
			continue
		}
		for _, token := range tokens {
			if strings.Contains(token, rule.Keyword) {
				found = append(found, rule.Keyword)
				break
			}
		}
	}
	return found
}

// InferTaskType maps extracted keywords to a task type, defaulting to reasoning.
func InferTaskType(keywords []string) string {
	present := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		present[kw] = true
	}
	for _, category := range taskCategories {
		for _, member := range category.members {
			if present[member] {
				return category.taskType
			}
		}
	}
	return config.TaskReasoning
}
