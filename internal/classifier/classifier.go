// Package classifier maps raw SMTP bounce text to a failure type and
// provider fingerprint. It is a pure function package:
// no I/O, no repository dependency, so it is exercised directly by the
// monitor and by the classifier's own table-driven tests.
package classifier

import (
	"regexp"
	"strings"

	"github.com/ignite/deliverability-engine/internal/domain"
)

// FailureType enumerates the bounce classifications, ordered the same way
// patterns are tried: first match wins.
type FailureType string

const (
	HardInvalid           FailureType = "HARD_INVALID"
	HardDomain            FailureType = "HARD_DOMAIN"
	ProviderSpamRejection FailureType = "PROVIDER_SPAM_REJECTION"
	ProviderThrottle      FailureType = "PROVIDER_THROTTLE"
	AuthFailure           FailureType = "AUTH_FAILURE"
	TemporaryNetwork      FailureType = "TEMPORARY_NETWORK"
	Unknown               FailureType = "UNKNOWN"
)

// Severity is a coarse human-facing label carried alongside FailureType.
type Severity string

const (
	SeverityFatal     Severity = "fatal"
	SeverityRejection Severity = "rejection"
	SeverityTransient Severity = "transient"
	SeverityUnknown   Severity = "unknown"
)

// Result is the pure output of Classify.
type Result struct {
	FailureType         FailureType         `json:"failure_type"`
	Provider            domain.EmailProvider `json:"provider"`
	Severity            Severity            `json:"severity"`
	DegradesHealth       bool               `json:"degrades_health"`
	RecoveryExpectation string              `json:"recovery_expectation"`
	RawReason           string              `json:"raw_reason"`
}

type rule struct {
	failureType FailureType
	severity    Severity
	degrades    bool
	recovery    string
	patterns    []*regexp.Regexp
}

// Patterns are tried in this fixed order; the first match wins.
// DSN codes are matched as substrings of the raw text since upstream ESPs
// embed them inline with free-form prose ("550 5.1.1 user unknown").
var rules = []rule{
	{
		failureType: HardInvalid,
		severity:    SeverityFatal,
		degrades:    true,
		recovery:    "none — remove recipient from future sends",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)5\.1\.1\b`),
			regexp.MustCompile(`(?i)5\.1\.6\b`),
			regexp.MustCompile(`(?i)no such user`),
			regexp.MustCompile(`(?i)user unknown`),
			regexp.MustCompile(`(?i)mailbox (not found|unavailable|does not exist)`),
			regexp.MustCompile(`(?i)\b550\b.*(unknown|(user|recipient|address) not found|disabled|no longer)`),
		},
	},
	{
		failureType: HardDomain,
		severity:    SeverityFatal,
		degrades:    true,
		recovery:    "none — domain does not accept mail",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)5\.1\.2\b`),
			regexp.MustCompile(`(?i)5\.1\.3\b`),
			regexp.MustCompile(`(?i)domain (not found|does not exist)`),
			regexp.MustCompile(`(?i)no mx record`),
			regexp.MustCompile(`(?i)host (or domain name )?not found`),
		},
	},
	{
		failureType: ProviderSpamRejection,
		severity:    SeverityRejection,
		degrades:    true,
		recovery:    "requires reputation recovery before resuming sends",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)5\.7\.1\b`),
			regexp.MustCompile(`(?i)5\.7\.0\b`),
			regexp.MustCompile(`(?i)spam`),
			regexp.MustCompile(`(?i)blocked`),
			regexp.MustCompile(`(?i)blacklist`),
			regexp.MustCompile(`(?i)reputation`),
			regexp.MustCompile(`(?i)message (content )?rejected`),
		},
	},
	{
		failureType: ProviderThrottle,
		severity:    SeverityTransient,
		degrades:    false,
		recovery:    "retry after backoff; no reputation damage",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)4\.7\.0\b`),
			regexp.MustCompile(`(?i)\b421\b`),
			regexp.MustCompile(`(?i)\b450\b`),
			regexp.MustCompile(`(?i)try again later`),
			regexp.MustCompile(`(?i)rate limit`),
			regexp.MustCompile(`(?i)throttl`),
			regexp.MustCompile(`(?i)too many (messages|connections)`),
		},
	},
	{
		failureType: AuthFailure,
		severity:    SeverityFatal,
		degrades:    true,
		recovery:    "requires SPF/DKIM/DMARC remediation",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)5\.7\.2[0-9]\b`),
			regexp.MustCompile(`(?i)spf`),
			regexp.MustCompile(`(?i)dkim`),
			regexp.MustCompile(`(?i)dmarc`),
			regexp.MustCompile(`(?i)authentication (failed|required)`),
		},
	},
	{
		failureType: TemporaryNetwork,
		severity:    SeverityTransient,
		degrades:    false,
		recovery:    "retry; transient delivery infrastructure failure",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b4\d{2}\b`),
			regexp.MustCompile(`(?i)connection (timed out|refused|reset)`),
			regexp.MustCompile(`(?i)temporary (failure|error)`),
			regexp.MustCompile(`(?i)greylist`),
		},
	},
}

var providerPatterns = []struct {
	provider domain.EmailProvider
	pattern  *regexp.Regexp
}{
	{domain.ProviderGmail, regexp.MustCompile(`(?i)gmail|google`)},
	{domain.ProviderMicrosoft, regexp.MustCompile(`(?i)outlook|microsoft|hotmail|live\.com|protection\.outlook`)},
	{domain.ProviderYahoo, regexp.MustCompile(`(?i)yahoo|ymail|rocketmail`)},
}

var recipientDomainProviders = map[string]domain.EmailProvider{
	"gmail.com":      domain.ProviderGmail,
	"googlemail.com": domain.ProviderGmail,
	"outlook.com":    domain.ProviderMicrosoft,
	"hotmail.com":    domain.ProviderMicrosoft,
	"live.com":       domain.ProviderMicrosoft,
	"msn.com":        domain.ProviderMicrosoft,
	"yahoo.com":      domain.ProviderYahoo,
	"ymail.com":      domain.ProviderYahoo,
}

// Classify maps a raw SMTP response (and optionally the recipient address)
// to a Result. smtpResponse may be empty; recipient is optional (pass "" if
// unknown). The function is pure and allocation-light so it can run inline
// on the webhook-ingestion hot path.
func Classify(smtpResponse, recipient string) Result {
	for _, rl := range rules {
		for _, p := range rl.patterns {
			if p.MatchString(smtpResponse) {
				return Result{
					FailureType:         rl.failureType,
					Provider:            resolveProvider(smtpResponse, recipient),
					Severity:            rl.severity,
					DegradesHealth:      rl.degrades,
					RecoveryExpectation: rl.recovery,
					RawReason:           smtpResponse,
				}
			}
		}
	}
	return Result{
		FailureType:         Unknown,
		Provider:            resolveProvider(smtpResponse, recipient),
		Severity:            SeverityUnknown,
		DegradesHealth:      false,
		RecoveryExpectation: "unclassified — monitor only",
		RawReason:           smtpResponse,
	}
}

// resolveProvider fingerprints the recipient's mailbox provider: recipient
// domain lookup first, falling back to scanning the SMTP text for provider
// keywords.
func resolveProvider(smtpResponse, recipient string) domain.EmailProvider {
	if at := strings.LastIndex(recipient, "@"); at >= 0 && at < len(recipient)-1 {
		host := strings.ToLower(recipient[at+1:])
		if p, ok := recipientDomainProviders[host]; ok {
			return p
		}
	}
	for _, pp := range providerPatterns {
		if pp.pattern.MatchString(smtpResponse) {
			return pp.provider
		}
	}
	return domain.ProviderOther
}
