package outcome

// Decide maps a test's expectation and what happened to its status.
//
//	expected  anyBlocked  genSuccess  status  reason
//	BLOCK     true        any         PASSED  BLOCKED_AS_EXPECTED
//	BLOCK     false       any         ERROR   -
//	NONE      true        any         ERROR   -
//	NONE      false       false       ERROR   -
//	NONE      false       true        PASSED  NORMAL_PASS
func Decide(expected ExpectedAction, anyBlocked, genSuccess bool) (Status, PassReason) {
	switch {
	case expected == ExpectBlock && anyBlocked:
		return StatusPassed, BlockedAsExpected
	case expected == ExpectBlock:
		return StatusError, PassReasonNone
	case anyBlocked:
		return StatusError, PassReasonNone
	case !genSuccess:
		return StatusError, PassReasonNone
	default:
		return StatusPassed, NormalPass
	}
}
