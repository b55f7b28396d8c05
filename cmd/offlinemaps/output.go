package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/signalsfoundry/offline-maps/internal/events"
	"gopkg.in/yaml.v3"
)

func printValue(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		switch v := v.(type) {
		case []string:
			for _, s := range v {
				if _, err := fmt.Fprintln(w, s); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintf(w, "%s region(s)\n", humanize.Comma(int64(len(v))))
			return err
		case map[string]any:
			for _, k := range []string{"channel", "result"} {
				if val, ok := v[k]; ok {
					if _, err := fmt.Fprintf(w, "%s: %v\n", k, val); err != nil {
						return err
					}
				}
			}
			return nil
		default:
			_, err := fmt.Fprintln(w, v)
			return err
		}
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// printEvent writes one event per line for text, one document per event for
// yaml and one object per line for json.
func printEvent(w io.Writer, format string, ev events.Event) error {
	switch format {
	case "json":
		data, err := ev.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
		return printValue(w, format, ev.Map())
	case "text", "":
		_, err := fmt.Fprintln(w, eventLine(ev))
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func eventLine(ev events.Event) string {
	switch {
	case ev.IsProgress():
		return fmt.Sprintf("%-13s %s%%", ev.Status, humanize.FtoaWithDigits(ev.Progress*100, 1))
	case ev.Status == events.StatusError:
		return fmt.Sprintf("%-13s %s: %s", ev.Status, ev.Code, ev.Message)
	default:
		return string(ev.Status)
	}
}
