package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CEF header constants. The event name doubles as the event class id since
// runtime event kinds are already stable identifiers.
const (
	cefVersion = "CEF:0"
	cefVendor  = "strandworks"
	cefProduct = "strand"
	cefDevVer  = "1.0"
)

// jsonEvent fixes the JSON field order and omits empty optional fields.
type jsonEvent struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Success   bool           `json:"success"`
	Agent     string         `json:"agent,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Workflow  string         `json:"workflow,omitempty"`
	User      string         `json:"user,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Payload   any            `json:"payload,omitempty"`
}

func encodeLine(e Event, cfg Config) ([]byte, error) {
	switch cfg.Format {
	case FormatKV:
		return encodeKV(e, cfg.IncludePayload), nil
	case FormatCEF:
		return encodeCEF(e, cfg.IncludePayload), nil
	default:
		return encodeJSON(e, cfg.IncludePayload)
	}
}

func encodeJSON(e Event, includePayload bool) ([]byte, error) {
	je := jsonEvent{
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Event:     e.Event,
		Success:   e.Success,
		Agent:     e.Agent,
		Tool:      e.Tool,
		Workflow:  e.Workflow,
		User:      e.User,
		Error:     e.Error,
		Metadata:  e.Metadata,
	}
	if includePayload {
		je.Payload = e.Payload
	}
	return json.Marshal(je)
}

// encodeKV renders `key=value` pairs joined by pipes. Values containing
// pipes, equals signs, quotes or newlines are quoted.
func encodeKV(e Event, includePayload bool) []byte {
	var b strings.Builder
	writeKV(&b, "timestamp", e.Timestamp.Format(time.RFC3339Nano))
	writeKV(&b, "event", e.Event)
	writeKV(&b, "success", strconv.FormatBool(e.Success))
	writeKV(&b, "agent", e.Agent)
	writeKV(&b, "tool", e.Tool)
	writeKV(&b, "workflow", e.Workflow)
	writeKV(&b, "user", e.User)
	writeKV(&b, "error", e.Error)
	for _, k := range sortedKeys(e.Metadata) {
		writeKV(&b, "meta_"+k, stringify(e.Metadata[k]))
	}
	if includePayload && e.Payload != nil {
		writeKV(&b, "payload", stringify(e.Payload))
	}
	return []byte(b.String())
}

func writeKV(b *strings.Builder, k, v string) {
	if v == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte('|')
	}
	if strings.ContainsAny(v, "|=\"\n") {
		v = strconv.Quote(v)
	}
	b.WriteString(k)
	b.WriteByte('=')
	b.WriteString(v)
}

// encodeCEF renders an ArcSight-style CEF line. Severity is 3 for successful
// events and 7 for failures. Header fields escape pipes and backslashes;
// extension values escape backslashes, equals signs and newlines.
func encodeCEF(e Event, includePayload bool) []byte {
	var b strings.Builder
	b.WriteString(cefVersion)
	for _, f := range []string{cefVendor, cefProduct, cefDevVer, e.Event, e.Event, severity(e.Success)} {
		b.WriteByte('|')
		b.WriteString(cefHeaderEscape(f))
	}
	b.WriteByte('|')

	ext := make([]string, 0, 8)
	ext = append(ext, "rt="+strconv.FormatInt(e.Timestamp.UnixMilli(), 10))
	ext = append(ext, "outcome="+outcome(e.Success))
	if e.Agent != "" {
		ext = append(ext, "suser="+cefExtEscape(e.Agent))
	}
	if e.Tool != "" {
		ext = append(ext, "cs1="+cefExtEscape(e.Tool), "cs1Label=tool")
	}
	if e.Workflow != "" {
		ext = append(ext, "cs2="+cefExtEscape(e.Workflow), "cs2Label=workflow")
	}
	if e.User != "" {
		ext = append(ext, "duser="+cefExtEscape(e.User))
	}
	if e.Error != "" {
		ext = append(ext, "msg="+cefExtEscape(e.Error))
	}
	for _, k := range sortedKeys(e.Metadata) {
		ext = append(ext, cefExtEscape(k)+"="+cefExtEscape(stringify(e.Metadata[k])))
	}
	if includePayload && e.Payload != nil {
		ext = append(ext, "payload="+cefExtEscape(stringify(e.Payload)))
	}
	b.WriteString(strings.Join(ext, " "))
	return []byte(b.String())
}

func severity(success bool) string {
	if success {
		return "3"
	}
	return "7"
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func cefHeaderEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "|", `\|`)
}

func cefExtEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "=", `\=`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
