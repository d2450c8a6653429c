package sinks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chanaliuxing/dirtyapply/pkg/log"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
	"github.com/fatih/color"
)

type ConsoleSink struct{}

func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{}
}

func (c *ConsoleSink) Write(event *log.LogEvent) error {
	stepID := getStringField(event.Fields, "step_id")
	strategy := getStringField(event.Fields, "strategy")
	gate := getStringField(event.Fields, "gate")
	errorMsg := getStringField(event.Fields, "error")
	msg := event.Message
	levelStr := strings.ToUpper(levelToString(event.Level))
	timestampStr := event.Timestamp.Format(time.RFC3339)

	levelColorMap := map[types.Level]*color.Color{
		types.DebugLevel: color.New(color.FgCyan),
		types.InfoLevel:  color.New(color.FgGreen),
		types.WarnLevel:  color.New(color.FgYellow),
		types.ErrorLevel: color.New(color.FgRed),
		types.FatalLevel: color.New(color.FgRed, color.Bold),
	}

	levelFmt := color.New(color.FgWhite).SprintFunc()
	if lc, ok := levelColorMap[event.Level]; ok {
		levelFmt = lc.SprintFunc()
	}

	timestampFmt := color.New(color.FgWhite).SprintFunc()
	scopeLabel := stepID
	if scopeLabel == "" {
		scopeLabel = "plan"
	}

	var output string
	commonPrefix := fmt.Sprintf("[%s %s] %s: ",
		levelFmt(levelStr),
		timestampFmt(timestampStr),
		color.CyanString(scopeLabel),
	)

	switch {
	case gate != "":
		output = fmt.Sprintf("%s[gate/%s]: %s", commonPrefix, color.BlueString(gate), msg)
	case strategy != "":
		output = fmt.Sprintf("%s[%s]: %s", commonPrefix, color.BlueString(strategy), msg)
	case errorMsg != "":
		output = fmt.Sprintf("%s%s: %s", commonPrefix, msg, errorMsg)
	case msg != "":
		output = fmt.Sprintf("%s%s", commonPrefix, msg)
	default:
		fieldsStr, _ := json.MarshalIndent(event.Fields, "", "  ")
		output = fmt.Sprintf("%s%s %s", commonPrefix, msg, string(fieldsStr))
	}
	fmt.Println(output)
	return nil
}

// Helper to safely get string field from LogEvent.Fields
func getStringField(fields map[string]any, key string) string {
	if val, ok := fields[key]; ok {
		if strVal, isStr := val.(string); isStr {
			return strVal
		}
	}
	return ""
}

// Helper to convert types.Level to string
func levelToString(l types.Level) string {
	switch l {
	case types.DebugLevel:
		return "debug"
	case types.InfoLevel:
		return "info"
	case types.WarnLevel:
		return "warn"
	case types.ErrorLevel:
		return "error"
	case types.FatalLevel:
		return "fatal"
	default:
		return "unknown"
	}
}

func (c *ConsoleSink) Close() error {
	return nil // Console doesn't need closing
}
