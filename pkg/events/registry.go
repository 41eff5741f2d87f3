// Package events описывает опубликованные схемы событий — единственный публичный контракт
// между сервисами — и реестр декодеров по тегу типа из заголовка event_type.
package events

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

var (
	// ErrUnknownEventType — для тега типа не зарегистрирован декодер.
	ErrUnknownEventType = errors.New("неизвестный тип события")

	// ErrMalformedPayload — payload не разбирается по схеме своего типа.
	ErrMalformedPayload = errors.New("некорректный payload события")

	// ErrDuplicateDecoder — тип уже зарегистрирован.
	ErrDuplicateDecoder = errors.New("декодер для типа события уже зарегистрирован")
)

// Event — событие, публикуемое через outbox.
type Event interface {
	// EventType — тег схемы. Совпадает с именем топика.
	EventType() string
	// AggregateType и AggregateID задают ключ партиционирования "{type}-{id}".
	AggregateType() string
	AggregateID() string
	// NaturalKey — бизнес-идентичность события для ledger идемпотентности.
	NaturalKey() string
	// Version — версия схемы payload.
	Version() int
}

// DecodeFunc разбирает payload в конкретный тип события.
type DecodeFunc func(payload []byte) (Event, error)

type decoder struct {
	version int
	decode  DecodeFunc
}

// Registry — явное отображение тега типа в функцию декодирования.
// Заполняется при старте, дальше только читается.
type Registry struct {
	decoders map[string]decoder
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]decoder)}
}

// Register добавляет декодер. version — максимальная поддерживаемая версия схемы.
func (r *Registry) Register(eventType string, version int, decode DecodeFunc) error {
	if eventType == "" || decode == nil {
		return fmt.Errorf("некорректная регистрация декодера %q", eventType)
	}
	if _, ok := r.decoders[eventType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDecoder, eventType)
	}
	r.decoders[eventType] = decoder{version: version, decode: decode}
	return nil
}

// Decode разбирает payload по тегу типа.
// Ошибки ErrUnknownEventType и ErrMalformedPayload повтором не исправляются.
func (r *Registry) Decode(eventType string, payload []byte) (Event, error) {
	d, ok := r.decoders[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	evt, err := d.decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w (%s): %v", ErrMalformedPayload, eventType, err)
	}
	if v, ok := evt.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w (%s): %v", ErrMalformedPayload, eventType, err)
		}
	}
	if evt.Version() > d.version {
		return nil, fmt.Errorf("%w (%s): версия схемы %d новее поддерживаемой %d",
			ErrMalformedPayload, eventType, evt.Version(), d.version)
	}
	return evt, nil
}

// Validate проверяет, что для каждого требуемого типа есть декодер.
// Вызывается при старте сервиса со списком топиков, на которые он подписан.
func (r *Registry) Validate(required ...string) error {
	var missing []string
	for _, t := range required {
		if _, ok := r.decoders[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: нет декодеров для [%s]", ErrUnknownEventType, strings.Join(missing, ", "))
	}
	return nil
}

// Types возвращает зарегистрированные теги в алфавитном порядке.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.decoders))
	for t := range r.decoders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// JSONDecoder строит DecodeFunc для типа события T, реализуемого указателем *T.
func JSONDecoder[T any, PT interface {
	*T
	Event
}]() DecodeFunc {
	return func(payload []byte) (Event, error) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return PT(&v), nil
	}
}

// Encode сериализует событие в payload.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", e.EventType(), err)
	}
	return data, nil
}
