package retry

import (
	"strconv"
	"time"

	"example.com/fulfillment/pkg/kafka"
)

// Заголовки эскалации.
const (
	HeaderAttempt           = "retry_attempt"
	HeaderNotBefore         = "retry_not_before"
	HeaderOriginalTopic     = "retry_original_topic"
	HeaderOriginalPartition = "retry_original_partition"
	HeaderOriginalOffset    = "retry_original_offset"
	HeaderException         = "exception_message"
	HeaderStacktrace        = "exception_stacktrace"
	HeaderFailedAt          = "failed_at"
)

// Origin — координаты исходной доставки сообщения.
type Origin struct {
	Topic     string
	Partition int
	Offset    int64
}

// Attempt возвращает номер попытки сообщения: 0 — исходная доставка.
func Attempt(msg *kafka.Message) int {
	return msg.HeaderInt(HeaderAttempt, 0)
}

// NotBefore возвращает время, раньше которого повтор не выполняется.
func NotBefore(msg *kafka.Message) time.Time {
	ms, err := strconv.ParseInt(msg.Header(HeaderNotBefore), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// OriginOf возвращает координаты исходной доставки.
// Для сообщения из исходного топика это его собственные координаты.
func OriginOf(msg *kafka.Message) Origin {
	topic := msg.Header(HeaderOriginalTopic)
	if topic == "" {
		return Origin{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset}
	}
	offset, err := strconv.ParseInt(msg.Header(HeaderOriginalOffset), 10, 64)
	if err != nil {
		offset = -1
	}
	return Origin{
		Topic:     topic,
		Partition: msg.HeaderInt(HeaderOriginalPartition, -1),
		Offset:    offset,
	}
}

func setOrigin(msg *kafka.Message, o Origin) {
	msg.Headers[HeaderOriginalTopic] = o.Topic
	msg.Headers[HeaderOriginalPartition] = strconv.Itoa(o.Partition)
	msg.Headers[HeaderOriginalOffset] = strconv.FormatInt(o.Offset, 10)
}
