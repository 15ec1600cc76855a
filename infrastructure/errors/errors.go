// Package errors provides unified error handling for the CSE, built around
// the oneM2M Response Status Code (RSC) taxonomy (TS-0004 RSC table) rather
// than ad hoc HTTP error codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// RSC is a oneM2M Response Status Code.
type RSC int

// Response status codes, per the oneM2M RSC enumeration.
const (
	RSCAccepted                                RSC = 1000
	RSCAcceptedNonBlockingRequestSynch         RSC = 1001
	RSCAcceptedNonBlockingRequestAsynch        RSC = 1002
	RSCOK                                      RSC = 2000
	RSCCreated                                 RSC = 2001
	RSCDeleted                                 RSC = 2002
	RSCUpdated                                 RSC = 2004
	RSCBadRequest                              RSC = 4000
	RSCReleaseVersionNotSupported              RSC = 4001
	RSCNotFound                                RSC = 4004
	RSCOperationNotAllowed                     RSC = 4005
	RSCRequestTimeout                          RSC = 4008
	RSCUnsupportedMediaType                    RSC = 4015
	RSCSubscriptionCreatorHasNoPrivilege       RSC = 4101
	RSCContentsUnacceptable                    RSC = 4102
	RSCOriginatorHasNoPrivilege                RSC = 4103
	RSCConflict                                RSC = 4105
	RSCSecurityAssociationRequired             RSC = 4107
	RSCInvalidChildResourceType                RSC = 4108
	RSCGroupMemberTypeInconsistent              RSC = 4110
	RSCOriginatorHasAlreadyRegistered          RSC = 4117
	RSCAppRuleValidationFailed                 RSC = 4126
	RSCOperationDeniedByRemoteEntity           RSC = 4127
	RSCInternalServerError                     RSC = 5000
	RSCNotImplemented                          RSC = 5001
	RSCTargetNotReachable                      RSC = 5103
	RSCReceiverHasNoPrivileges                 RSC = 5105
	RSCAlreadyExists                           RSC = 5106
	RSCRemoteEntityNotReachable                RSC = 5107
	RSCTargetNotSubscribable                   RSC = 5203
	RSCSubscriptionVerificationInitiationFailed RSC = 5204
	RSCSubscriptionHostHasNoPrivilege          RSC = 5205
	RSCNotAcceptable                           RSC = 5207
	RSCMaxNumberOfMemberExceeded                RSC = 6010
	RSCInvalidArguments                        RSC = 6023
	RSCInsufficientArguments                    RSC = 6024
	RSCUnknown                                  RSC = -1
)

// httpStatusByRSC mirrors the oneM2M binding's HTTP status table: most error
// RSCs collapse onto a handful of HTTP codes, since HTTP only carries coarse
// status while the RSC in the response body carries the precise outcome.
var httpStatusByRSC = map[RSC]int{
	RSCAccepted:                          http.StatusAccepted,
	RSCAcceptedNonBlockingRequestSynch:   http.StatusAccepted,
	RSCAcceptedNonBlockingRequestAsynch:  http.StatusAccepted,
	RSCOK:                                http.StatusOK,
	RSCCreated:                           http.StatusCreated,
	RSCDeleted:                           http.StatusOK,
	RSCUpdated:                           http.StatusOK,
	RSCBadRequest:                        http.StatusBadRequest,
	RSCReleaseVersionNotSupported:        http.StatusBadRequest,
	RSCNotFound:                          http.StatusNotFound,
	RSCOperationNotAllowed:               http.StatusMethodNotAllowed,
	RSCRequestTimeout:                    http.StatusRequestTimeout,
	RSCUnsupportedMediaType:              http.StatusUnsupportedMediaType,
	RSCSubscriptionCreatorHasNoPrivilege: http.StatusForbidden,
	RSCContentsUnacceptable:              http.StatusBadRequest,
	RSCOriginatorHasNoPrivilege:          http.StatusForbidden,
	RSCConflict:                          http.StatusConflict,
	RSCSecurityAssociationRequired:       http.StatusForbidden,
	RSCInvalidChildResourceType:          http.StatusBadRequest,
	RSCGroupMemberTypeInconsistent:       http.StatusBadRequest,
	RSCOriginatorHasAlreadyRegistered:    http.StatusForbidden,
	RSCAppRuleValidationFailed:           http.StatusBadRequest,
	RSCOperationDeniedByRemoteEntity:     http.StatusForbidden,
	RSCInternalServerError:               http.StatusInternalServerError,
	RSCNotImplemented:                    http.StatusNotImplemented,
	RSCTargetNotReachable:                http.StatusGatewayTimeout,
	RSCReceiverHasNoPrivileges:           http.StatusForbidden,
	RSCAlreadyExists:                     http.StatusConflict,
	RSCRemoteEntityNotReachable:          http.StatusGatewayTimeout,
	RSCTargetNotSubscribable:             http.StatusForbidden,
	RSCSubscriptionVerificationInitiationFailed: http.StatusBadRequest,
	RSCSubscriptionHostHasNoPrivilege:    http.StatusForbidden,
	RSCNotAcceptable:                     http.StatusNotAcceptable,
	RSCMaxNumberOfMemberExceeded:         http.StatusBadRequest,
	RSCInvalidArguments:                  http.StatusBadRequest,
	RSCInsufficientArguments:             http.StatusBadRequest,
}

// HTTPStatus maps an RSC to its HTTP status code. Unrecognized RSCs map to 500.
func (r RSC) HTTPStatus() int {
	if status, ok := httpStatusByRSC[r]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (r RSC) String() string {
	if name, ok := rscNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RSC(%d)", int(r))
}

var rscNames = map[RSC]string{
	RSCAccepted:                                 "ACCEPTED",
	RSCAcceptedNonBlockingRequestSynch:          "ACCEPTED_NON_BLOCKING_REQUEST_SYNCH",
	RSCAcceptedNonBlockingRequestAsynch:         "ACCEPTED_NON_BLOCKING_REQUEST_ASYNCH",
	RSCOK:                                       "OK",
	RSCCreated:                                  "CREATED",
	RSCDeleted:                                  "DELETED",
	RSCUpdated:                                  "UPDATED",
	RSCBadRequest:                               "BAD_REQUEST",
	RSCReleaseVersionNotSupported:               "RELEASE_VERSION_NOT_SUPPORTED",
	RSCNotFound:                                 "NOT_FOUND",
	RSCOperationNotAllowed:                      "OPERATION_NOT_ALLOWED",
	RSCRequestTimeout:                           "REQUEST_TIMEOUT",
	RSCUnsupportedMediaType:                     "UNSUPPORTED_MEDIA_TYPE",
	RSCSubscriptionCreatorHasNoPrivilege:        "SUBSCRIPTION_CREATOR_HAS_NO_PRIVILEGE",
	RSCContentsUnacceptable:                     "CONTENTS_UNACCEPTABLE",
	RSCOriginatorHasNoPrivilege:                 "ORIGINATOR_HAS_NO_PRIVILEGE",
	RSCConflict:                                 "CONFLICT",
	RSCSecurityAssociationRequired:              "SECURITY_ASSOCIATION_REQUIRED",
	RSCInvalidChildResourceType:                 "INVALID_CHILD_RESOURCE_TYPE",
	RSCGroupMemberTypeInconsistent:              "GROUP_MEMBER_TYPE_INCONSISTENT",
	RSCOriginatorHasAlreadyRegistered:           "ORIGINATOR_HAS_ALREADY_REGISTERED",
	RSCAppRuleValidationFailed:                  "APP_RULE_VALIDATION_FAILED",
	RSCOperationDeniedByRemoteEntity:            "OPERATION_DENIED_BY_REMOTE_ENTITY",
	RSCInternalServerError:                      "INTERNAL_SERVER_ERROR",
	RSCNotImplemented:                           "NOT_IMPLEMENTED",
	RSCTargetNotReachable:                       "TARGET_NOT_REACHABLE",
	RSCReceiverHasNoPrivileges:                  "RECEIVER_HAS_NO_PRIVILEGES",
	RSCAlreadyExists:                            "ALREADY_EXISTS",
	RSCRemoteEntityNotReachable:                 "REMOTE_ENTITY_NOT_REACHABLE",
	RSCTargetNotSubscribable:                    "TARGET_NOT_SUBSCRIBABLE",
	RSCSubscriptionVerificationInitiationFailed: "SUBSCRIPTION_VERIFICATION_INITIATION_FAILED",
	RSCSubscriptionHostHasNoPrivilege:           "SUBSCRIPTION_HOST_HAS_NO_PRIVILEGE",
	RSCNotAcceptable:                            "NOT_ACCEPTABLE",
	RSCMaxNumberOfMemberExceeded:                "MAX_NUMBER_OF_MEMBER_EXCEEDED",
	RSCInvalidArguments:                         "INVALID_ARGUMENTS",
	RSCInsufficientArguments:                    "INSUFFICIENT_ARGUMENTS",
	RSCUnknown:                                  "UNKNOWN",
}

// ErrorCode is retained for ambient (non-RSC) concerns such as rate limiting
// and storage failures, where no oneM2M status code applies.
type ErrorCode string

const (
	ErrCodeRateLimitExceeded ErrorCode = "AMBIENT_RATE_LIMIT_EXCEEDED"
	ErrCodeDatabaseError     ErrorCode = "AMBIENT_STORAGE_ERROR"
	ErrCodeTimeout           ErrorCode = "AMBIENT_TIMEOUT"
)

// ServiceError represents a structured error carrying a oneM2M RSC, an
// ambient ErrorCode (mutually exclusive with RSC; zero value means "use RSC"),
// a message, the mapped HTTP status, and optional details for the response body.
type ServiceError struct {
	RSC        RSC                    `json:"rsc,omitempty"`
	Code       ErrorCode              `json:"code,omitempty"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	label := string(e.Code)
	if label == "" {
		label = e.RSC.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", label, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", label, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// FromRSC creates a ServiceError for a oneM2M Response Status Code.
func FromRSC(rsc RSC, message string) *ServiceError {
	return &ServiceError{
		RSC:        rsc,
		Message:    message,
		HTTPStatus: rsc.HTTPStatus(),
	}
}

// WrapRSC wraps an existing error with a oneM2M Response Status Code.
func WrapRSC(rsc RSC, message string, err error) *ServiceError {
	return &ServiceError{
		RSC:        rsc,
		Message:    message,
		HTTPStatus: rsc.HTTPStatus(),
		Err:        err,
	}
}

// New creates an ambient ServiceError (not backed by an RSC).
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error as an ambient ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Dispatcher / request-processing errors (RSC-backed).

func BadRequest(reason string) *ServiceError {
	return FromRSC(RSCBadRequest, reason)
}

func NotFound(resourceID string) *ServiceError {
	return FromRSC(RSCNotFound, "resource not found").WithDetails("resource", resourceID)
}

func OperationNotAllowed(op, resourceType string) *ServiceError {
	return FromRSC(RSCOperationNotAllowed, "operation not allowed on resource type").
		WithDetails("operation", op).
		WithDetails("resourceType", resourceType)
}

func RequestTimeout() *ServiceError {
	return FromRSC(RSCRequestTimeout, "request timed out")
}

func UnsupportedMediaType(contentType string) *ServiceError {
	return FromRSC(RSCUnsupportedMediaType, "unsupported content serialization").
		WithDetails("contentType", contentType)
}

func ContentsUnacceptable(reason string) *ServiceError {
	return FromRSC(RSCContentsUnacceptable, reason)
}

func OriginatorHasNoPrivilege(originator, resourceID string) *ServiceError {
	return FromRSC(RSCOriginatorHasNoPrivilege, "originator has no privilege for this operation").
		WithDetails("originator", originator).
		WithDetails("resource", resourceID)
}

func Conflict(reason string) *ServiceError {
	return FromRSC(RSCConflict, reason)
}

func SecurityAssociationRequired() *ServiceError {
	return FromRSC(RSCSecurityAssociationRequired, "security association required")
}

func InvalidChildResourceType(parentType, childType string) *ServiceError {
	return FromRSC(RSCInvalidChildResourceType, "resource type cannot be created under this parent").
		WithDetails("parentType", parentType).
		WithDetails("childType", childType)
}

func GroupMemberTypeInconsistent(memberID string) *ServiceError {
	return FromRSC(RSCGroupMemberTypeInconsistent, "group member type inconsistent with mtiu/mt").
		WithDetails("member", memberID)
}

func OriginatorHasAlreadyRegistered(originator string) *ServiceError {
	return FromRSC(RSCOriginatorHasAlreadyRegistered, "originator has already registered").
		WithDetails("originator", originator)
}

func AppRuleValidationFailed(reason string) *ServiceError {
	return FromRSC(RSCAppRuleValidationFailed, reason)
}

func OperationDeniedByRemoteEntity(target string) *ServiceError {
	return FromRSC(RSCOperationDeniedByRemoteEntity, "operation denied by remote CSE").
		WithDetails("target", target)
}

func Internal(message string, err error) *ServiceError {
	return WrapRSC(RSCInternalServerError, message, err)
}

func NotImplemented(feature string) *ServiceError {
	return FromRSC(RSCNotImplemented, "not implemented").WithDetails("feature", feature)
}

func TargetNotReachable(target string) *ServiceError {
	return FromRSC(RSCTargetNotReachable, "target not reachable").WithDetails("target", target)
}

func ReceiverHasNoPrivileges(receiver string) *ServiceError {
	return FromRSC(RSCReceiverHasNoPrivileges, "receiver has no privileges").
		WithDetails("receiver", receiver)
}

func AlreadyExists(resourceID string) *ServiceError {
	return FromRSC(RSCAlreadyExists, "resource already exists").WithDetails("resource", resourceID)
}

func RemoteEntityNotReachable(entity string) *ServiceError {
	return FromRSC(RSCRemoteEntityNotReachable, "remote entity not reachable").
		WithDetails("entity", entity)
}

func TargetNotSubscribable(resourceID string) *ServiceError {
	return FromRSC(RSCTargetNotSubscribable, "target resource type does not support subscriptions").
		WithDetails("resource", resourceID)
}

func SubscriptionVerificationInitiationFailed(reason string) *ServiceError {
	return FromRSC(RSCSubscriptionVerificationInitiationFailed, reason)
}

func SubscriptionHostHasNoPrivilege(notificationURI string) *ServiceError {
	return FromRSC(RSCSubscriptionHostHasNoPrivilege, "subscription host has no privilege").
		WithDetails("notificationURI", notificationURI)
}

func NotAcceptable(accept string) *ServiceError {
	return FromRSC(RSCNotAcceptable, "no acceptable content serialization").
		WithDetails("accept", accept)
}

func MaxNumberOfMemberExceeded(limit int) *ServiceError {
	return FromRSC(RSCMaxNumberOfMemberExceeded, "group member count exceeds mnm").
		WithDetails("limit", limit)
}

func InvalidArguments(reason string) *ServiceError {
	return FromRSC(RSCInvalidArguments, reason)
}

func InsufficientArguments(missing string) *ServiceError {
	return FromRSC(RSCInsufficientArguments, "insufficient arguments").
		WithDetails("missing", missing)
}

// Ambient errors (no oneM2M RSC applies).

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "storage operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Helper functions.

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// GetRSC extracts the oneM2M Response Status Code carried by an error, or
// RSCInternalServerError if the error is not a ServiceError or carries no RSC.
func GetRSC(err error) RSC {
	serviceErr := GetServiceError(err)
	if serviceErr == nil {
		return RSCInternalServerError
	}
	if serviceErr.RSC != 0 {
		return serviceErr.RSC
	}
	return RSCInternalServerError
}
