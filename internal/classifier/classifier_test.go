package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/deliverability-engine/internal/domain"
)

func TestClassify_FirstMatchWins(t *testing.T) {
	cases := []struct {
		name       string
		smtp       string
		recipient  string
		wantType   FailureType
		wantProvider domain.EmailProvider
		wantDegrade bool
	}{
		{
			name:        "hard invalid mailbox",
			smtp:        "550 5.1.1 user unknown",
			recipient:   "bob@gmail.com",
			wantType:    HardInvalid,
			wantProvider: domain.ProviderGmail,
			wantDegrade: true,
		},
		{
			name:        "hard domain not found",
			smtp:        "550 5.1.2 host or domain name not found",
			recipient:   "bob@example.invalid",
			wantType:    HardDomain,
			wantProvider: domain.ProviderOther,
			wantDegrade: true,
		},
		{
			name:        "spam rejection",
			smtp:        "550 5.7.1 message rejected as spam",
			recipient:   "bob@outlook.com",
			wantType:    ProviderSpamRejection,
			wantProvider: domain.ProviderMicrosoft,
			wantDegrade: true,
		},
		{
			name:        "throttle is transient",
			smtp:        "421 4.7.0 try again later",
			recipient:   "bob@yahoo.com",
			wantType:    ProviderThrottle,
			wantProvider: domain.ProviderYahoo,
			wantDegrade: false,
		},
		{
			name:        "auth failure dkim",
			smtp:        "550 5.7.26 dkim signature verification failed",
			recipient:   "bob@gmail.com",
			wantType:    AuthFailure,
			wantProvider: domain.ProviderGmail,
			wantDegrade: true,
		},
		{
			name:        "temporary network 4xx",
			smtp:        "450 connection timed out",
			recipient:   "bob@someisp.net",
			wantType:    TemporaryNetwork,
			wantProvider: domain.ProviderOther,
			wantDegrade: false,
		},
		{
			name:        "unknown falls through",
			smtp:        "totally unrecognized text",
			recipient:   "bob@someisp.net",
			wantType:    Unknown,
			wantProvider: domain.ProviderOther,
			wantDegrade: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.smtp, tc.recipient)
			assert.Equal(t, tc.wantType, got.FailureType)
			assert.Equal(t, tc.wantProvider, got.Provider)
			assert.Equal(t, tc.wantDegrade, got.DegradesHealth)
			assert.Equal(t, tc.smtp, got.RawReason)
		})
	}
}

func TestClassify_RecipientDomainTakesPriorityOverTextScan(t *testing.T) {
	got := Classify("550 5.1.1 rejected by gmail-style filter", "bob@outlook.com")
	assert.Equal(t, domain.ProviderMicrosoft, got.Provider)
}

func TestClassify_HardInvalidOrdersBeforeSpamRejection(t *testing.T) {
	// "no longer" + "550" should hit HARD_INVALID before the later spam rule
	// even though the text also contains "message rejected", which the spam
	// rule matches.
	got := Classify("550 mailbox disabled, message rejected, no longer accepting messages", "bob@gmail.com")
	assert.Equal(t, HardInvalid, got.FailureType)
}
