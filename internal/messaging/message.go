// Package messaging defines the message vocabulary the execution core
// speaks: commands, events, requests, responses and documents, plus the bus
// and the request/response correlator mediating between engines, clients
// and strategies.
package messaging

import (
	"github.com/google/uuid"
)

// Category tags the five message variants
type Category uint8

const (
	CategoryCommand Category = iota + 1
	CategoryDocument
	CategoryEvent
	CategoryRequest
	CategoryResponse
)

// String returns the canonical name for the category
func (c Category) String() string {
	switch c {
	case CategoryCommand:
		return "COMMAND"
	case CategoryDocument:
		return "DOCUMENT"
	case CategoryEvent:
		return "EVENT"
	case CategoryRequest:
		return "REQUEST"
	case CategoryResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Message is the contract every message satisfies. Identity is the
// (category, id) pair; payload never participates in equality, so two
// otherwise-identical commands with different ids are distinct.
type Message interface {
	Category() Category
	ID() uuid.UUID
	TsInit() int64
}

// Base carries the identity fields shared by all message variants
type Base struct {
	id     uuid.UUID
	tsInit int64
}

// NewBase creates a message base with a fresh UUID
func NewBase(tsInit int64) Base {
	return Base{id: uuid.New(), tsInit: tsInit}
}

// BaseWithID restores a message base from persisted identity
func BaseWithID(id uuid.UUID, tsInit int64) Base {
	return Base{id: id, tsInit: tsInit}
}

// ID returns the unique message id
func (b Base) ID() uuid.UUID { return b.id }

// TsInit returns the local initialization timestamp in nanoseconds
func (b Base) TsInit() int64 { return b.tsInit }

// Equal reports message identity equality: same category and same id
func Equal(a, b Message) bool {
	return a.Category() == b.Category() && a.ID() == b.ID()
}

// Key is the hashable identity of a message
type Key struct {
	Category Category
	ID       uuid.UUID
}

// KeyOf returns the identity key for a message
func KeyOf(m Message) Key {
	return Key{Category: m.Category(), ID: m.ID()}
}

// Command is an imperative issued by a user or system component
type Command interface {
	Message
	isCommand()
}

// CommandBase marks an embedding struct as a Command
type CommandBase struct{ Base }

// NewCommandBase creates a command base with a fresh UUID
func NewCommandBase(tsInit int64) CommandBase {
	return CommandBase{Base: NewBase(tsInit)}
}

// Category returns CategoryCommand
func (CommandBase) Category() Category { return CategoryCommand }

func (CommandBase) isCommand() {}

// Document is a self-contained informational payload implying no state
// transition.
type Document interface {
	Message
	isDocument()
}

// DocumentBase marks an embedding struct as a Document
type DocumentBase struct{ Base }

// NewDocumentBase creates a document base with a fresh UUID
func NewDocumentBase(tsInit int64) DocumentBase {
	return DocumentBase{Base: NewBase(tsInit)}
}

// Category returns CategoryDocument
func (DocumentBase) Category() Category { return CategoryDocument }

func (DocumentBase) isDocument() {}

// Event is a notification of something that happened. TsEvent is occurrence
// time at the source; TsInit is local processing time. The two differ for
// venue-delayed reports.
type Event interface {
	Message
	TsEvent() int64
}

// EventBase marks an embedding struct as an Event and carries its
// occurrence time.
type EventBase struct {
	Base
	tsEvent int64
}

// NewEventBase creates an event base with a fresh UUID
func NewEventBase(tsEvent, tsInit int64) EventBase {
	return EventBase{Base: NewBase(tsInit), tsEvent: tsEvent}
}

// EventBaseWithID restores an event base from persisted identity
func EventBaseWithID(id uuid.UUID, tsEvent, tsInit int64) EventBase {
	return EventBase{Base: BaseWithID(id, tsInit), tsEvent: tsEvent}
}

// Category returns CategoryEvent
func (EventBase) Category() Category { return CategoryEvent }

// TsEvent returns the occurrence timestamp in nanoseconds
func (e EventBase) TsEvent() int64 { return e.tsEvent }

// Response is the correlated reply to a Request
type Response interface {
	Message
	CorrelationID() uuid.UUID
}

// ResponseBase marks an embedding struct as a Response
type ResponseBase struct {
	Base
	correlationID uuid.UUID
}

// NewResponseBase creates a response base correlated to a request id
func NewResponseBase(correlationID uuid.UUID, tsInit int64) ResponseBase {
	return ResponseBase{Base: NewBase(tsInit), correlationID: correlationID}
}

// Category returns CategoryResponse
func (ResponseBase) Category() Category { return CategoryResponse }

// CorrelationID returns the id of the request this response answers
func (r ResponseBase) CorrelationID() uuid.UUID { return r.correlationID }

// Request is an asynchronous query answered by a correlated Response.
// The callback is invoked at most once when the matching response is
// delivered, or never if the request is abandoned.
type Request interface {
	Message
	Callback() func(Response)
}

// RequestBase marks an embedding struct as a Request and carries the
// completion callback.
type RequestBase struct {
	Base
	callback func(Response)
}

// NewRequestBase creates a request base with its completion callback
func NewRequestBase(tsInit int64, callback func(Response)) RequestBase {
	return RequestBase{Base: NewBase(tsInit), callback: callback}
}

// Category returns CategoryRequest
func (RequestBase) Category() Category { return CategoryRequest }

// Callback returns the completion callback, nil when fire-and-forget
func (r RequestBase) Callback() func(Response) { return r.callback }
