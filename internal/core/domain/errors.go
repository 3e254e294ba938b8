package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrRecordNotFound = errors.New("record not found")
	ErrTemporary      = errors.New("temporary failure")

	ErrImageDecode             = errors.New("image decode error")
	ErrUnsupportedResolution   = errors.New("unsupported resolution")
	ErrNoTemplateForResolution = errors.New("no template for resolution")
	ErrOCRTimeout              = errors.New("ocr timeout")
	ErrFieldParse              = errors.New("field parse failure")
	ErrLowConfidence           = errors.New("low confidence rejection")
	ErrTooFewPlayers           = errors.New("too few players")
	ErrStoreUnavailable        = errors.New("store unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorCode is the stable, client-visible name of a failure class.
type ErrorCode string

const (
	CodeNone                    ErrorCode = ""
	CodeImageDecode             ErrorCode = "ImageDecodeError"
	CodeUnsupportedResolution   ErrorCode = "UnsupportedResolution"
	CodeNoTemplateForResolution ErrorCode = "NoTemplateForResolution"
	CodeOCRTimeout              ErrorCode = "OcrTimeout"
	CodeFieldParse              ErrorCode = "FieldParseFailure"
	CodeLowConfidence           ErrorCode = "LowConfidenceRejection"
	CodeTooFewPlayers           ErrorCode = "TooFewPlayers"
	CodeStoreUnavailable        ErrorCode = "StoreUnavailable"
	CodeInternal                ErrorCode = "InternalError"
)

var codeKinds = []struct {
	kind error
	code ErrorCode
}{
	{ErrImageDecode, CodeImageDecode},
	{ErrUnsupportedResolution, CodeUnsupportedResolution},
	{ErrNoTemplateForResolution, CodeNoTemplateForResolution},
	{ErrOCRTimeout, CodeOCRTimeout},
	{ErrFieldParse, CodeFieldParse},
	{ErrLowConfidence, CodeLowConfidence},
	{ErrTooFewPlayers, CodeTooFewPlayers},
	{ErrStoreUnavailable, CodeStoreUnavailable},
}

// CodeOf maps an error chain to its taxonomy code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	for _, ck := range codeKinds {
		if errors.Is(err, ck.kind) {
			return ck.code
		}
	}
	return CodeInternal
}

// UserMessage is the actionable text shown to the submitter.
func UserMessage(code ErrorCode) string {
	switch code {
	case CodeImageDecode:
		return "The attachment is not a readable image. Upload a PNG or JPEG screenshot."
	case CodeUnsupportedResolution:
		return "This screenshot resolution is not supported. Capture the stats screen at 1920x1080 or 1280x800 (or an exact scaled variant)."
	case CodeNoTemplateForResolution:
		return "This resolution is recognised but not yet supported. Please capture the stats screen at 1920x1080 or 1280x800 for now."
	case CodeOCRTimeout:
		return "Reading the screenshot took too long. Please try again in a moment."
	case CodeLowConfidence:
		return "The stats screen could not be read reliably. Make sure the screenshot shows the full end-of-mission stats screen without overlays."
	case CodeTooFewPlayers:
		return "Not enough players with readable names are on the stats screen. Submit a screenshot that shows the whole squad."
	case CodeStoreUnavailable:
		return "The stats were read but could not be saved right now. Please resubmit shortly."
	case CodeNone:
		return ""
	default:
		return "An unexpected error occurred while processing the screenshot."
	}
}
