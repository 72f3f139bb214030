package challenge

import "github.com/synnergy-labs/challenge-gate/apierr"

// Kind and the error constructors are re-exported from apierr so
// existing callers of challenge.KindXxx keep working; apierr is the
// shared taxonomy every request-path package returns.
type Kind = apierr.Kind

const (
	KindInvalidEnvelope              = apierr.KindInvalidEnvelope
	KindDecryptionFailed             = apierr.KindDecryptionFailed
	KindInvalidEntropy               = apierr.KindInvalidEntropy
	KindInvalidFingerprint           = apierr.KindInvalidFingerprint
	KindFingerprintSignatureMismatch = apierr.KindFingerprintSignatureMismatch
	KindTokenInvalid                 = apierr.KindTokenInvalid
	KindTokenExpired                 = apierr.KindTokenExpired
	KindRiskBlocked                  = apierr.KindRiskBlocked
	KindEntropyScoreExceeded         = apierr.KindEntropyScoreExceeded
	KindRateLimited                  = apierr.KindRateLimited
	KindChallengeNotFoundOrUsed      = apierr.KindChallengeNotFoundOrUsed
	KindWrongAnswer                  = apierr.KindWrongAnswer
	KindInternal                     = apierr.KindInternal
)

// Error is an alias of apierr.Error so existing type assertions
// (`err.(*challenge.Error)`) keep working.
type Error = apierr.Error

func newError(kind Kind, err error) *Error {
	return apierr.New(kind, err)
}
