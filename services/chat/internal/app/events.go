package app

import "docchat/pkg/domain"

// TurnEmitter receives the ordered event sequence of one streaming turn:
// UserMessage once, Citations at most once, Content zero or more times, then
// Complete. The terminal error event is the transport's responsibility when
// AskStream returns an error. An emitter error aborts the stream.
type TurnEmitter interface {
	UserMessage(msg domain.Message) error
	Citations(citations []domain.Citation) error
	Content(delta string) error
	Complete(msg domain.Message) error
}
