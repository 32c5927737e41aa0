package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// palette is one console color theme
type palette struct {
	fg        string
	time      string
	id        string
	number    string
	component []string
	warn      string
	warnBg    string
	err       string
	errBg     string
}

// Everforest Dark (natural forest greens)
var everforest = palette{
	fg:        "\x1b[38;5;223m",
	time:      "\x1b[38;5;107m",
	id:        "\x1b[38;5;109m",
	number:    "\x1b[38;5;108m",
	component: []string{"\x1b[38;5;108m", "\x1b[38;5;65m", "\x1b[38;5;208m"},
	warn:      "\x1b[38;5;179m",
	warnBg:    "\x1b[48;5;58m",
	err:       "\x1b[38;5;167m",
	errBg:     "\x1b[48;5;52m",
}

// Gruvbox Dark (warm, muted)
var gruvbox = palette{
	fg:        "\x1b[38;5;223m",
	time:      "\x1b[38;5;108m",
	id:        "\x1b[38;5;109m",
	number:    "\x1b[38;5;175m",
	component: []string{"\x1b[38;5;208m", "\x1b[38;5;214m"},
	warn:      "\x1b[38;5;214m",
	warnBg:    "\x1b[48;5;58m",
	err:       "\x1b[38;5;167m",
	errBg:     "\x1b[48;5;88m",
}

var themes = map[string]palette{
	"everforest": everforest,
	"gruvbox":    gruvbox,
}

// Current active theme (set from log.theme)
var currentTheme = "everforest"

// SetTheme configures the color scheme for console output.
// Unknown names are ignored.
func SetTheme(theme string) {
	if _, ok := themes[theme]; ok {
		currentTheme = theme
	}
}

func colors() palette {
	return themes[currentTheme]
}

func colorComponent(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	p := colors()
	return p.component[hash%len(p.component)]
}

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  i.openapi  document fetched  https://example.com/openapi.json 2048B 31ms"
//
// Context fields added with With() are kept in the embedded map encoder and
// rendered after the entry's own fields.
type minimalEncoder struct {
	*zapcore.MapObjectEncoder
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range enc.Fields {
		clone.Fields[k] = v
	}
	return &minimalEncoder{MapObjectEncoder: clone}
}

var bufferPool = buffer.NewPool()

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	p := colors()
	final := bufferPool.Get()

	final.AppendString(p.time)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level: hidden for INFO
	if s := levelColorString(ent.Level); s != "" {
		final.AppendString("  ")
		final.AppendString(s)
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(p.fg)
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	if rendered := enc.renderFields(fields); rendered != "" {
		final.AppendString("  ")
		final.AppendString(rendered)
	}

	final.AppendString("\n")
	return final, nil
}

// renderFields formats entry fields in call order followed by context fields
// in key order. Nothing is dropped: fields without special formatting render
// as key=value.
func (enc *minimalEncoder) renderFields(fields []zapcore.Field) string {
	var parts []string

	for _, f := range fields {
		m := zapcore.NewMapObjectEncoder()
		f.AddTo(m)
		for k, v := range m.Fields {
			parts = append(parts, formatField(k, v))
		}
	}

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, formatField(k, enc.Fields[k]))
	}

	return strings.Join(parts, " ")
}

func formatField(key string, value interface{}) string {
	p := colors()
	val := fmt.Sprintf("%v", value)

	switch key {
	case FieldURL, FieldRequestID, FieldRunID:
		return p.id + val + colorReset
	case FieldDurationMS:
		return p.number + val + colorReset + "ms"
	case FieldBytes:
		return p.number + val + colorReset + "B"
	case FieldError:
		return p.err + val + colorReset
	default:
		return key + "=" + p.number + val + colorReset
	}
}

// levelColorString returns bold + colored + background for WARN/ERROR
func levelColorString(level zapcore.Level) string {
	p := colors()
	switch level {
	case zapcore.DebugLevel:
		return "DEBUG"
	case zapcore.WarnLevel:
		return colorBold + p.warnBg + p.warn + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + p.errBg + p.err + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + p.errBg + p.err + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens component names: server -> server, ingest.openapi -> i.openapi
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}
