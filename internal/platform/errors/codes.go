package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound indicates a referenced entity does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// Token errors
	CodeTokenInvalid          Code = "TOKEN_INVALID"
	CodeTokenExpired          Code = "TOKEN_EXPIRED"
	CodeTokenRevoked          Code = "TOKEN_REVOKED"
	CodeTokenAlreadyCancelled Code = "TOKEN_ALREADY_CANCELLED"
	CodeTokenUnsupported      Code = "TOKEN_UNSUPPORTED"

	// Admission errors
	CodeAtCapacity         Code = "AT_CAPACITY"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodePreconditionFailed Code = "PRECONDITION_FAILED"

	// Discussion errors
	CodeDiscussionEmptyID     Code = "DISCUSSION_EMPTY_ID"
	CodeDiscussionEmptyTitle  Code = "DISCUSSION_EMPTY_TITLE"
	CodeDiscussionInactive    Code = "DISCUSSION_INACTIVE"
	CodeDiscussionClosed      Code = "DISCUSSION_CLOSED"
	CodeDiscussionExpired     Code = "DISCUSSION_EXPIRED"
	CodeDiscussionBadCapacity Code = "DISCUSSION_INVALID_CAPACITY"

	// Participant errors
	CodeParticipantEmptyDisplayName Code = "PARTICIPANT_EMPTY_DISPLAY_NAME"
	CodeParticipantEmptyIdentity    Code = "PARTICIPANT_EMPTY_IDENTITY"
	CodeParticipantInvalidRole      Code = "PARTICIPANT_INVALID_ROLE"

	// Message errors
	CodeMessageEmptyContent  Code = "MESSAGE_EMPTY_CONTENT"
	CodeMessageInvalidType   Code = "MESSAGE_INVALID_TYPE"
	CodeMessageBadParent     Code = "MESSAGE_PARENT_MISMATCH"
	CodeMessageImmutable     Code = "MESSAGE_IMMUTABLE"
	CodeMessageNotAuthor     Code = "MESSAGE_NOT_AUTHOR"
	CodeMessageEmptyReaction Code = "MESSAGE_EMPTY_REACTION"

	// Facilitator errors
	CodeGenerationFailed Code = "GENERATION_FAILED"
	CodeThrottled        Code = "FACILITATOR_THROTTLED"
	CodeDisabled         Code = "FACILITATOR_DISABLED"
)

// HTTPStatus maps domain codes to HTTP status codes for the JSON API surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeDiscussionEmptyID,
		CodeDiscussionEmptyTitle,
		CodeDiscussionBadCapacity,
		CodeParticipantEmptyDisplayName,
		CodeParticipantEmptyIdentity,
		CodeParticipantInvalidRole,
		CodeMessageEmptyContent,
		CodeMessageInvalidType,
		CodeMessageBadParent,
		CodeMessageEmptyReaction:
		return http.StatusBadRequest

	case CodeTokenInvalid,
		CodeTokenExpired,
		CodeTokenRevoked:
		return http.StatusUnauthorized

	case CodePermissionDenied,
		CodeMessageNotAuthor:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	case CodeAtCapacity,
		CodePreconditionFailed,
		CodeDiscussionInactive,
		CodeDiscussionClosed,
		CodeDiscussionExpired,
		CodeMessageImmutable,
		CodeTokenAlreadyCancelled,
		CodeThrottled,
		CodeDisabled:
		return http.StatusConflict

	case CodeTokenUnsupported:
		return http.StatusUnprocessableEntity

	case CodeGenerationFailed:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// WSCode maps domain codes to the coarse error labels carried on the
// real-time channel. Clients key retry behavior off these labels, so the
// set is intentionally smaller than the full code taxonomy.
func (c Code) WSCode() string {
	switch c {
	case CodeTokenInvalid, CodeTokenExpired, CodeTokenRevoked:
		return "UNAUTHENTICATED"
	case CodePermissionDenied, CodeMessageNotAuthor:
		return "FORBIDDEN"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeAtCapacity,
		CodePreconditionFailed,
		CodeDiscussionInactive,
		CodeDiscussionClosed,
		CodeDiscussionExpired,
		CodeMessageImmutable,
		CodeThrottled,
		CodeDisabled:
		return "FAILED_PRECONDITION"
	case CodeGenerationFailed:
		return "UNAVAILABLE"
	case CodeUnknown:
		return "INTERNAL"
	default:
		return "INVALID_ARGUMENT"
	}
}
