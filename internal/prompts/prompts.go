// Package prompts carries the embedded system prompts and the localized
// console labels, plus the per-run prompt assembly (persistent memory and
// batch-mode appendices).
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed system_prompt_en.txt
var systemPromptEN string

//go:embed system_prompt_cn.txt
var systemPromptCN string

// System returns the base system prompt for a language, defaulting to
// Chinese, which is what the model was primarily trained on.
func System(lang string) string {
	if strings.EqualFold(lang, "en") {
		return systemPromptEN
	}
	return systemPromptCN
}

// Labels holds the localized progress strings printed during a run.
type Labels struct {
	Thinking      string
	Action        string
	TaskCompleted string
	Done          string
}

// Messages returns the console labels for a language.
func Messages(lang string) Labels {
	if strings.EqualFold(lang, "en") {
		return Labels{
			Thinking:      "Thinking",
			Action:        "Action",
			TaskCompleted: "Task completed",
			Done:          "Done",
		}
	}
	return Labels{
		Thinking:      "思考过程",
		Action:        "执行动作",
		TaskCompleted: "任务完成",
		Done:          "完成",
	}
}

// Build assembles the full system prompt for one run: the base prompt, an
// optional persistent-memory section read from memoryFile, and the
// batch-mode appendix when several actions per turn are allowed.
//
// An unreadable memory file is ignored: memory enriches a run but must never
// block one.
func Build(lang, memoryFile string, batchActions bool, batchSize int) string {
	prompt := System(lang)

	if memoryFile != "" {
		if memory := loadMemory(memoryFile); memory != "" {
			prompt += "\n\n[Persistent Memory]\nUse these stable user preferences/facts when relevant.\n" + memory
		}
	}

	if batchActions {
		if batchSize < 1 {
			batchSize = 1
		}
		prompt += fmt.Sprintf(
			"\n\n[Batch Action Mode]\n"+
				"When helpful, output up to %d actions in <answer>, one action per line.\n"+
				"Each line must be do(...) or finish(...).\n"+
				"Avoid Interact unless user input is truly required.",
			batchSize)
	}

	return prompt
}

func loadMemory(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}
	if strings.HasSuffix(path, ".json") {
		var obj any
		if err := json.Unmarshal([]byte(text), &obj); err == nil {
			if pretty, err := json.MarshalIndent(obj, "", "  "); err == nil {
				return string(pretty)
			}
		}
		return ""
	}
	return text
}
