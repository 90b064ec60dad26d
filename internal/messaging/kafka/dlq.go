package kafka

import (
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

// DeadLetter — сообщение, которое не удалось обработать за все попытки.
type DeadLetter struct {
	EventType         EventType `json:"event_type"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	OriginalType      EventType `json:"original_event_type,omitempty"`
	ErrorMessage      string    `json:"error_message"`
	RetryCount        int       `json:"retry_count"`
	FailedAt          time.Time `json:"failed_at"`
}

func newDeadLetter(message *sarama.ConsumerMessage, cause error, retryCount int) *DeadLetter {
	originalType, _ := PeekEventType(message)
	return &DeadLetter{
		EventType:         EventTypeDeadLetter,
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		OriginalType:      originalType,
		ErrorMessage:      cause.Error(),
		RetryCount:        retryCount,
		FailedAt:          time.Now().UTC(),
	}
}

// Type возвращает тип события для заголовка сообщения.
func (d *DeadLetter) Type() EventType { return d.EventType }

// Headers дублирует служебные поля в заголовках, чтобы их можно было читать без разбора тела.
func (d *DeadLetter) Headers() []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(d.OriginalTopic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(d.ErrorMessage)},
		{Key: []byte(HeaderFailedAt), Value: []byte(d.FailedAt.Format(time.RFC3339))},
		{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(d.RetryCount))},
	}
}

// headerValue возвращает значение первого заголовка key.
func headerValue(message *sarama.ConsumerMessage, key string) (string, bool) {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key && len(header.Value) > 0 {
			return string(header.Value), true
		}
	}
	return "", false
}
