package kafkax

import "github.com/segmentio/kafka-go"

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderTenant    = "tenant"
)

// EventMeta is the metadata carried on every domain event message.
type EventMeta struct {
	EventID   string
	EventType string
	Tenant    string
}

// Headers renders the metadata as Kafka headers. Empty fields are omitted.
func (m EventMeta) Headers() []kafka.Header {
	out := make([]kafka.Header, 0, 3)
	for _, kv := range [][2]string{
		{HeaderEventID, m.EventID},
		{HeaderEventType, m.EventType},
		{HeaderTenant, m.Tenant},
	} {
		if kv[1] != "" {
			out = append(out, kafka.Header{Key: kv[0], Value: []byte(kv[1])})
		}
	}
	return out
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, HeaderEventID),
		EventType: HeaderValue(msg.Headers, HeaderEventType),
		Tenant:    HeaderValue(msg.Headers, HeaderTenant),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
