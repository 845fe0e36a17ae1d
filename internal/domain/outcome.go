package domain

// IssueOutcome is the result of a challenge issuance request.
type IssueOutcome int

const (
	IssueSuccess IssueOutcome = iota
	IssueMissingIdentity
	IssueInvalidIdentity
	IssueInvalidPurpose
)

func (o IssueOutcome) String() string {
	switch o {
	case IssueSuccess:
		return "SUCCESS"
	case IssueMissingIdentity:
		return "MISSING_IDENTITY"
	case IssueInvalidIdentity:
		return "INVALID_IDENTITY"
	case IssueInvalidPurpose:
		return "INVALID_PURPOSE"
	default:
		return "UNKNOWN"
	}
}

// VerifyOutcome is the result of a code submission. Values are listed in the
// order the checks are applied.
type VerifyOutcome int

const (
	VerifySuccess VerifyOutcome = iota
	VerifyMissingParameters
	VerifyInvalidCodeFormat
	VerifyInvalidPurpose
	VerifyNotFound
	VerifyExpired
	VerifyTooManyAttempts
	VerifyMismatch
)

func (o VerifyOutcome) String() string {
	switch o {
	case VerifySuccess:
		return "SUCCESS"
	case VerifyMissingParameters:
		return "MISSING_PARAMETERS"
	case VerifyInvalidCodeFormat:
		return "INVALID_CODE_FORMAT"
	case VerifyInvalidPurpose:
		return "INVALID_PURPOSE"
	case VerifyNotFound:
		return "NOT_FOUND"
	case VerifyExpired:
		return "EXPIRED"
	case VerifyTooManyAttempts:
		return "TOO_MANY_ATTEMPTS"
	case VerifyMismatch:
		return "MISMATCH"
	default:
		return "UNKNOWN"
	}
}

// ResetOutcome is the result of a credential reset request.
type ResetOutcome int

const (
	ResetSuccess ResetOutcome = iota
	ResetMissingParameters
	ResetCredentialTooShort
	ResetCredentialTooLong
	ResetNotVerified
	ResetVerificationExpired
)

func (o ResetOutcome) String() string {
	switch o {
	case ResetSuccess:
		return "SUCCESS"
	case ResetMissingParameters:
		return "MISSING_PARAMETERS"
	case ResetCredentialTooShort:
		return "CREDENTIAL_TOO_SHORT"
	case ResetCredentialTooLong:
		return "CREDENTIAL_TOO_LONG"
	case ResetNotVerified:
		return "NOT_VERIFIED"
	case ResetVerificationExpired:
		return "VERIFICATION_EXPIRED"
	default:
		return "UNKNOWN"
	}
}
