package signature

import (
	"context"
	"strings"

	"github.com/okian/faultline/internal/domain/pipeline"
)

// ManualStage contributes the client supplied signature. When present it is
// the only contributor.
type ManualStage struct{}

// NewManualStage creates the manual signature stage.
func NewManualStage() *ManualStage { return &ManualStage{} }

// ProcessEvent implements pipeline.EventProcessor.
func (s *ManualStage) ProcessEvent(_ context.Context, ec *pipeline.EventContext) error {
	ms := ec.Event.ManualStacking
	if ms == nil || len(ms.SignatureData) == 0 {
		return nil
	}
	for k, v := range ms.SignatureData {
		ec.AddSignature(k, v)
	}
	if len(ec.SignatureData) == 0 {
		return nil
	}
	ec.SetProperty(PropertyManual, true)
	if ms.Title != "" {
		ec.SetProperty(PropertyTitle, ms.Title)
	}
	return nil
}

// ErrorStage fingerprints error events from their innermost error.
type ErrorStage struct{}

// NewErrorStage creates the error signature stage.
func NewErrorStage() *ErrorStage { return &ErrorStage{} }

// ProcessEvent implements pipeline.EventProcessor.
func (s *ErrorStage) ProcessEvent(_ context.Context, ec *pipeline.EventContext) error {
	if ec.HasProperty(PropertyManual) || !ec.Event.IsError() {
		return nil
	}
	if ec.Event.Error == nil {
		// message only; without one the default stage takes over
		msg := strings.TrimSpace(ec.Event.Message)
		ec.AddSignature(KeyMessage, msg)
		if msg != "" && !ec.HasProperty(PropertyTitle) {
			ec.SetProperty(PropertyTitle, msg)
		}
		return nil
	}

	inner := ec.Event.Error.Innermost()
	ec.AddSignature(KeyExceptionType, inner.Type)

	switch {
	case inner.IsStructured():
		frame, _ := inner.SignatureTarget()
		ec.AddSignature(KeyTargetMethod, frame.FullName())
	case strings.TrimSpace(inner.RawStackTrace) != "":
		ec.AddSignature(KeyStackTrace, SHA1(inner.RawStackTrace))
	default:
		ec.AddSignature(KeyMessage, inner.Message)
	}

	if !ec.HasProperty(PropertyTitle) {
		ec.SetProperty(PropertyTitle, errorTitle(inner.Type, inner.Message))
	}
	return nil
}

func errorTitle(typ, msg string) string {
	switch {
	case typ == "":
		return msg
	case msg == "":
		return typ
	default:
		return typ + ": " + msg
	}
}

// DefaultStage fingerprints events no earlier stage covered, error events
// without any error data included, by their type and source.
type DefaultStage struct{}

// NewDefaultStage creates the fallback signature stage.
func NewDefaultStage() *DefaultStage { return &DefaultStage{} }

// ProcessEvent implements pipeline.EventProcessor.
func (s *DefaultStage) ProcessEvent(_ context.Context, ec *pipeline.EventContext) error {
	if len(ec.SignatureData) > 0 {
		return nil
	}
	ec.AddSignature(KeyType, string(ec.Event.Type))
	ec.AddSignature(KeySource, ec.Event.Source)

	if !ec.HasProperty(PropertyTitle) {
		title := ec.Event.Message
		if title == "" {
			title = ec.Event.Source
		}
		if title == "" {
			title = string(ec.Event.Type)
		}
		ec.SetProperty(PropertyTitle, title)
	}
	return nil
}
