package models

type DocumentType string

const (
	DocumentTypeBalanceSheet    DocumentType = "BalanceSheet"
	DocumentTypeIncomeStatement DocumentType = "IncomeStatement"
	DocumentTypeCashFlow        DocumentType = "CashFlow"
	DocumentTypeRentRoll        DocumentType = "RentRoll"
	DocumentTypeBankStatement   DocumentType = "BankStatement"
)

type MatchType string

const (
	MatchTypeRule       MatchType = "rule"
	MatchTypeExact      MatchType = "exact"
	MatchTypeCalculated MatchType = "calculated"
	MatchTypeFuzzy      MatchType = "fuzzy"
	MatchTypeInferred   MatchType = "inferred"
)

// MatchPriority orders competing proposals for the same account pair.
// Higher wins; operator-configured mappings always beat automatic matchers.
func (t MatchType) MatchPriority() int {
	switch t {
	case MatchTypeRule:
		return 5
	case MatchTypeExact:
		return 4
	case MatchTypeCalculated:
		return 3
	case MatchTypeFuzzy:
		return 2
	case MatchTypeInferred:
		return 1
	}
	return 0
}

type MatchStatus string

const (
	MatchStatusPending  MatchStatus = "pending"
	MatchStatusApproved MatchStatus = "approved"
	MatchStatusRejected MatchStatus = "rejected"
)

func (s MatchStatus) IsValid() bool {
	switch s {
	case MatchStatusPending, MatchStatusApproved, MatchStatusRejected:
		return true
	}
	return false
}

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type SessionState string

const (
	SessionStateCreated   SessionState = "CREATED"
	SessionStateRunning   SessionState = "RUNNING"
	SessionStateCompleted SessionState = "COMPLETED"
	SessionStateValidated SessionState = "VALIDATED"
	SessionStateFailed    SessionState = "FAILED"
)

type RuleResultStatus string

const (
	RuleResultStatusPass        RuleResultStatus = "PASS"
	RuleResultStatusWarn        RuleResultStatus = "WARN"
	RuleResultStatusFail        RuleResultStatus = "FAIL"
	RuleResultStatusUnevaluable RuleResultStatus = "UNEVALUABLE"
)

type HealthStatus string

const (
	HealthStatusGreen  HealthStatus = "GREEN"
	HealthStatusYellow HealthStatus = "YELLOW"
	HealthStatusRed    HealthStatus = "RED"
)
