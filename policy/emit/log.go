package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter implements Emitter by writing structured log output to a writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable format with key=value pairs
//   - JSON mode: machine-readable JSON, one event per line (JSONL)
//
// Example text output:
//
//	[event_routed] policyID=pol-001 blockTag=start user=did:user:1
//
// Example JSON output:
//
//	{"policyID":"pol-001","blockTag":"start","user":"did:user:1","msg":"event_routed","meta":null}
//
// Usage:
//
//	// Text output to stdout
//	emitter := emit.NewLogEmitter(os.Stdout, false)
//
//	// JSON output to file
//	f, _ := os.Create("events.jsonl")
//	defer f.Close()
//	emitter := emit.NewLogEmitter(f, true)
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a new LogEmitter.
//
// Parameters:
//   - writer: where to write the log output (nil defaults to os.Stdout)
//   - jsonMode: if true, emit JSON format; if false, emit text format
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

// emitJSON writes the event as a single JSON line.
func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		PolicyID string                 `json:"policyID"`
		BlockTag string                 `json:"blockTag"`
		User     string                 `json:"user"`
		Msg      string                 `json:"msg"`
		Meta     map[string]interface{} `json:"meta"`
	}{
		PolicyID: event.PolicyID,
		BlockTag: event.BlockTag,
		User:     event.User,
		Msg:      event.Msg,
		Meta:     event.Meta,
	})
	if err != nil {
		// Fallback to error message if marshal fails
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}

	fmt.Fprintf(l.writer, "%s\n", data)
}

// emitText writes the event in human-readable form.
func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] policyID=%s blockTag=%s user=%s",
		event.Msg, event.PolicyID, event.BlockTag, event.User)

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
