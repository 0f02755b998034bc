package sse

import (
	"encoding/json"
	"io"
)

// Event is one outbound server-sent event. Chat frames carry no name.
type Event struct {
	Name string
	Data []byte
}

var doneEvent = Event{Data: []byte("[DONE]")}

// IsDone reports whether e is the stream terminator.
func (e Event) IsDone() bool {
	return e.Name == "" && string(e.Data) == "[DONE]"
}

// WriteTo writes the framed event in a single Write call.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 0, len(e.Name)+len(e.Data)+16)
	if e.Name != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, e.Name...)
		buf = append(buf, '\n')
	}
	buf = append(buf, "data: "...)
	buf = append(buf, e.Data...)
	buf = append(buf, "\n\n"...)
	n, err := w.Write(buf)
	return int64(n), err
}

func jsonEvent(name string, v any) Event {
	data, _ := json.Marshal(v)
	return Event{Name: name, Data: data}
}
