package domain

import "crm_backend/platform/apperr"

const (
	CodeInvalidPhoneNumber   = "INVALID_PHONE_NUMBER"
	CodeLeadNotFound         = "LEAD_NOT_FOUND"
	CodeMissingLeadReference = "MISSING_LEAD_REFERENCE"
	CodeMissingCallID        = "MISSING_CALL_ID"
	CodeCallInitiationFailed = "CALL_INITIATION_FAILED"
	CodeCallInProgress       = "CALL_IN_PROGRESS"
)

func InvalidPhoneNumber() *apperr.Error {
	return apperr.Validation("invalid phone number format, use E.164 (e.g. +1234567890)").
		WithCode(CodeInvalidPhoneNumber)
}

func LeadNotFound() *apperr.Error {
	return apperr.NotFound("lead not found").WithCode(CodeLeadNotFound)
}

func MissingLeadReference(message string) *apperr.Error {
	return apperr.Validation(message).WithCode(CodeMissingLeadReference)
}

func MissingCallID() *apperr.Error {
	return apperr.Validation("missing call_id in webhook payload").WithCode(CodeMissingCallID)
}

// CallInitiationFailed reports a provider failure. Timeouts map to 504, other failures to 502.
func CallInitiationFailed(err error, timedOut bool) *apperr.Error {
	const msg = "failed to initiate call"
	if timedOut {
		return apperr.Timeout(msg, err).WithCode(CodeCallInitiationFailed).WithDetails(err.Error())
	}
	return apperr.Upstream(msg, err).WithCode(CodeCallInitiationFailed).WithDetails(err.Error())
}

func CallInProgress() *apperr.Error {
	return apperr.Conflict("a call for this request is already being placed").WithCode(CodeCallInProgress)
}
