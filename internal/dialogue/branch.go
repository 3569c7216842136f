package dialogue

import (
	"regexp"
	"sync"

	"github.com/harborcs/taskmode/model"
)

// triggerCache holds compiled trigger patterns. Patterns are validated at
// load time, so compile failures here are rare; failing rules are skipped.
var triggerCache sync.Map // pattern string -> *regexp.Regexp

func compileTrigger(pattern string) *regexp.Regexp {
	if cached, ok := triggerCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}
	triggerCache.Store(pattern, re)
	return re
}

// matchTrigger scans the rules in declaration order and returns the branch
// of the first rule whose pattern matches the text. Matching is
// case-insensitive substring semantics, the way the rules are written.
func matchTrigger(rules []model.TriggerRule, text string) (string, bool) {
	for _, rule := range rules {
		re := compileTrigger(rule.Pattern)
		if re == nil {
			continue
		}
		if re.MatchString(text) {
			return rule.Branch, true
		}
	}
	return "", false
}

// resolveButton maps a clicked button value to a branch name for the given
// chat script. Precedence: the workflow-level snooze/skip subflows, then
// the active branch's next_branches, then the initial message's.
// The second return reports whether a branch was found; the third reports
// whether the value is a snooze/skip pseudo value that found no subflow
// branch and should fall back to direct slide handling.
func resolveButton(chat model.ChatDefinition, activeBranch, value string) (string, bool, bool) {
	switch value {
	case model.ButtonSnooze:
		if _, ok := chat.Branches[model.BranchSnoozeWorkflow]; ok {
			return model.BranchSnoozeWorkflow, true, false
		}
		return "", false, true
	case model.ButtonSkip:
		if _, ok := chat.Branches[model.BranchSkipWorkflow]; ok {
			return model.BranchSkipWorkflow, true, false
		}
		return "", false, true
	}

	if activeBranch != "" {
		if b, ok := chat.Branches[activeBranch]; ok {
			if target, ok := b.NextBranches[value]; ok {
				return target, true, false
			}
		}
	}
	if target, ok := chat.Initial.NextBranches[value]; ok {
		return target, true, false
	}
	return "", false, false
}
